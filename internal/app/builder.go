package app

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jsamuelsen/jsonrequest/internal/adapters/clients/jsonrequest"
	"github.com/jsamuelsen/jsonrequest/internal/domain"
)

// Target describes a request before it is built. URL may be absolute or
// relative to the service base URL.
type Target struct {
	Method      string
	URL         string
	Params      map[string]string
	Headers     map[string]string
	ContentType string
	NoCache     bool
}

// Build turns target into a JSONRequest ready for Send.
func (s *RequestService) Build(target Target) (*jsonrequest.JSONRequest, error) {
	method := target.Method
	if method == "" {
		method = string(domain.MethodGet)
	}

	parsed, err := domain.ParseMethod(method)
	if err != nil {
		return nil, err
	}

	resolved, err := ResolveURL(s.baseURL, target.URL)
	if err != nil {
		return nil, err
	}

	opts := []jsonrequest.Option{jsonrequest.WithParameters(target.Params)}

	for k, v := range target.Headers {
		opts = append(opts, jsonrequest.WithHeader(k, v))
	}

	if target.ContentType != "" {
		opts = append(opts, jsonrequest.WithContentType(target.ContentType))
	}

	if target.NoCache {
		opts = append(opts, jsonrequest.WithCaching(false))
	}

	return jsonrequest.New(parsed, resolved, opts...)
}

// ResolveURL resolves ref against base. An absolute ref is returned as is; a
// relative ref needs a base. The base path is treated as a directory, so
// "users" under "https://api/v1" becomes "https://api/v1/users" while "/login"
// replaces the path.
func ResolveURL(base, ref string) (string, error) {
	target, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	if target.IsAbs() {
		return ref, nil
	}

	if base == "" {
		return "", fmt.Errorf("%w: relative url %q without service base_url", domain.ErrInvalidRequest, ref)
	}

	root, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: base url: %v", domain.ErrInvalidRequest, err)
	}

	if !strings.HasSuffix(root.Path, "/") {
		root.Path += "/"
	}

	return root.ResolveReference(target).String(), nil
}
