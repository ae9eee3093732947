package clients

import (
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/cachecontrol/cacheobject"

	"github.com/jsamuelsen/jsonrequest/internal/domain"
)

// ParseCacheHeaders derives cache metadata from response headers, relative to
// now. It returns nil when the response must not be cached: no-store, a bare
// no-cache, or a Cache-Control value that does not parse.
//
// With Cache-Control max-age the soft expiry is now+max-age and the hard
// expiry extends it by stale-while-revalidate, unless must-revalidate or
// proxy-revalidate pins both together. Without Cache-Control, Expires minus
// Date gives the lifetime. A response with neither expires immediately, so it
// is only useful for revalidation.
func ParseCacheHeaders(header http.Header, now time.Time) *domain.CacheEntry {
	entry, _ := parseCacheHeaders(header, now)
	return entry
}

// parseCacheHeaders is ParseCacheHeaders plus the header fields named by a
// no-cache="..." directive, which must not be served from the cache.
func parseCacheHeaders(header http.Header, now time.Time) (*domain.CacheEntry, []string) {
	entry := &domain.CacheEntry{
		ETag:         header.Get("ETag"),
		LastModified: header.Get("Last-Modified"),
		ServerDate:   parseHTTPDate(header.Get("Date")),
		TTL:          now,
		SoftTTL:      now,
	}

	cc := strings.Join(header.Values("Cache-Control"), ", ")
	if cc == "" {
		expires := parseHTTPDate(header.Get("Expires"))
		if !entry.ServerDate.IsZero() && !expires.IsZero() && !expires.Before(entry.ServerDate) {
			entry.SoftTTL = now.Add(expires.Sub(entry.ServerDate))
			entry.TTL = entry.SoftTTL
		}

		return entry, nil
	}

	directives, err := cacheobject.ParseResponseCacheControl(cc)
	if err != nil || directives.NoStore {
		return nil, nil
	}

	if directives.NoCachePresent && len(directives.NoCache) == 0 {
		return nil, nil
	}

	if directives.MaxAge < 0 {
		return entry, fieldNames(directives.NoCache)
	}

	entry.SoftTTL = now.Add(deltaSeconds(directives.MaxAge))
	entry.TTL = entry.SoftTTL

	if !directives.MustRevalidate && !directives.ProxyRevalidate && directives.StaleWhileRevalidate > 0 {
		entry.TTL = entry.SoftTTL.Add(deltaSeconds(directives.StaleWhileRevalidate))
	}

	return entry, fieldNames(directives.NoCache)
}

// withDefaultTTL extends an entry that carries no freshness lifetime.
func withDefaultTTL(entry *domain.CacheEntry, now time.Time, ttl time.Duration) *domain.CacheEntry {
	if entry == nil || ttl <= 0 || now.Before(entry.SoftTTL) {
		return entry
	}

	extended := *entry
	extended.SoftTTL = now.Add(ttl)
	extended.TTL = extended.SoftTTL

	return &extended
}

func deltaSeconds(d cacheobject.DeltaSeconds) time.Duration {
	return time.Duration(d) * time.Second
}

func fieldNames(names cacheobject.FieldNames) []string {
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}

	return out
}

func parseHTTPDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	t, err := http.ParseTime(value)
	if err != nil {
		return time.Time{}
	}

	return t
}
