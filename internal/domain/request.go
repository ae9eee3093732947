package domain

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// Content types understood by the transport when encoding parameters.
const (
	// DefaultContentType is the body content type used when a request does not override it.
	DefaultContentType = "application/x-www-form-urlencoded; charset=UTF-8"

	// JSONContentType encodes parameters as a flat JSON object.
	JSONContentType = "application/json; charset=UTF-8"

	// HeaderAccept is the Accept header name.
	HeaderAccept = "Accept"

	// AcceptJSON is the Accept header value every JSON request sends.
	AcceptJSON = "application/json"
)

// Method is an HTTP request method.
type Method string

// Supported methods.
const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
	MethodPatch  Method = http.MethodPatch
	MethodHead   Method = http.MethodHead
)

// ParseMethod normalizes and validates a method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch, MethodHead:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, s)
	}
}

// HasBody reports whether parameters for this method travel in the request body
// rather than the query string.
func (m Method) HasBody() bool {
	switch m {
	case MethodGet, MethodDelete, MethodHead:
		return false
	default:
		return true
	}
}

// ValidateURL checks that raw is an absolute http(s) URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url %q must be absolute http(s)", ErrInvalidRequest, raw)
	}

	if u.Host == "" {
		return fmt.Errorf("%w: url %q has no host", ErrInvalidRequest, raw)
	}

	return nil
}

// EncodeForm encodes parameters as application/x-www-form-urlencoded, keys sorted.
func EncodeForm(params map[string]string) string {
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}

	return values.Encode()
}

// IsJSONContentType reports whether contentType names a JSON media type.
func IsJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// EncodeBody encodes parameters for the given content type. JSON content types
// produce a flat JSON object; everything else is form encoded.
func EncodeBody(params map[string]string, contentType string) ([]byte, error) {
	if IsJSONContentType(contentType) {
		if params == nil {
			params = map[string]string{}
		}

		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding json body: %w", err)
		}

		return b, nil
	}

	return []byte(EncodeForm(params)), nil
}

// AppendQuery merges params into the query string of rawURL.
func AppendQuery(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}
