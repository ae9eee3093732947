package domain

import (
	"net/http"
	"time"
)

// CacheEntry is the cache metadata a transport derives from response headers.
// The JSON request core passes it through untouched.
type CacheEntry struct {
	ETag         string
	LastModified string
	ServerDate   time.Time

	// TTL is when the entry must no longer be served without revalidation.
	TTL time.Time

	// SoftTTL is when the entry should be refreshed; it is never after TTL.
	SoftTTL time.Time
}

// IsExpired reports whether the entry may no longer be served as-is.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.TTL)
}

// RefreshNeeded reports whether the entry has passed its soft expiry.
func (e *CacheEntry) RefreshNeeded(now time.Time) bool {
	return !now.Before(e.SoftTTL)
}

// CanRevalidate reports whether the entry has a validator for a conditional request.
func (e *CacheEntry) CanRevalidate() bool {
	return e.ETag != "" || e.LastModified != ""
}

// RawResponse is a successful transport outcome before JSON parsing.
type RawResponse struct {
	StatusCode int
	Body       []byte
	Header     http.Header

	// Cache is nil when the response is not cacheable.
	Cache *CacheEntry

	// FromCache is set by the transport, before delivery, iff the body was served
	// from its local cache rather than the network.
	FromCache bool

	NetworkTime time.Duration
}

// ParsedResponse is a successful outcome after JSON parsing.
type ParsedResponse struct {
	// Value is any JSON value: map[string]any, []any, string, float64, bool or nil.
	Value any

	Cache     *CacheEntry
	FromCache bool
}

// Object returns the value as a JSON object, if it is one.
func (p *ParsedResponse) Object() (map[string]any, bool) {
	obj, ok := p.Value.(map[string]any)
	return obj, ok
}
