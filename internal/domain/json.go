package domain

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

var (
	// ErrInvalidUTF8 is returned when a body is not valid UTF-8 text.
	ErrInvalidUTF8 = errors.New("body is not valid UTF-8")

	// ErrInvalidJSON is returned when a body is not a single RFC 8259 JSON value.
	ErrInvalidJSON = errors.New("body is not valid JSON")
)

// DecodeJSON decodes body as UTF-8 text and parses it as a single JSON value.
// Empty bodies, invalid UTF-8, trailing data and grammar goccy tolerates
// (leading zeros, "1.", raw control characters in strings) are errors.
func DecodeJSON(body []byte) (any, error) {
	if !utf8.Valid(body) {
		return nil, ErrInvalidUTF8
	}

	if !stdjson.Valid(body) {
		return nil, ErrInvalidJSON
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}

	return v, nil
}

// CompactJSON serializes v as compact JSON. Values that cannot be serialized
// yield an empty string.
func CompactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}

	return string(b)
}
