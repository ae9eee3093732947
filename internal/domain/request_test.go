package domain

import (
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		input    string
		expected Method
		wantErr  bool
	}{
		{"GET", MethodGet, false},
		{"post", MethodPost, false},
		{" put ", MethodPut, false},
		{"Delete", MethodDelete, false},
		{"PATCH", MethodPatch, false},
		{"head", MethodHead, false},
		{"TRACE", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, err := ParseMethod(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRequest)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, m)
		})
	}
}

func TestMethod_HasBody(t *testing.T) {
	assert.False(t, MethodGet.HasBody())
	assert.False(t, MethodDelete.HasBody())
	assert.False(t, MethodHead.HasBody())
	assert.True(t, MethodPost.HasBody())
	assert.True(t, MethodPut.HasBody())
	assert.True(t, MethodPatch.HasBody())
}

func TestValidateURL(t *testing.T) {
	require.NoError(t, ValidateURL("https://api.example.com/login"))
	require.NoError(t, ValidateURL("http://localhost:8080"))
	require.ErrorIs(t, ValidateURL("/login"), ErrInvalidRequest)
	require.ErrorIs(t, ValidateURL("ftp://example.com"), ErrInvalidRequest)
	require.ErrorIs(t, ValidateURL("http://"), ErrInvalidRequest)
	require.ErrorIs(t, ValidateURL("http://bad host/%zz"), ErrInvalidRequest)
}

func TestEncodeBody_Form(t *testing.T) {
	body, err := EncodeBody(map[string]string{"user": "a", "pass": "b&c"}, DefaultContentType)
	require.NoError(t, err)

	values, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	assert.Equal(t, "a", values.Get("user"))
	assert.Equal(t, "b&c", values.Get("pass"))
}

func TestEncodeBody_JSON(t *testing.T) {
	body, err := EncodeBody(map[string]string{"user": "a"}, JSONContentType)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, map[string]string{"user": "a"}, decoded)
}

func TestEncodeBody_JSONNilParams(t *testing.T) {
	body, err := EncodeBody(nil, "application/json")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(body))
}

func TestIsJSONContentType(t *testing.T) {
	assert.True(t, IsJSONContentType("application/json"))
	assert.True(t, IsJSONContentType(JSONContentType))
	assert.True(t, IsJSONContentType("application/problem+json"))
	assert.False(t, IsJSONContentType(DefaultContentType))
	assert.False(t, IsJSONContentType("not a media type;;"))
}

func TestAppendQuery(t *testing.T) {
	out, err := AppendQuery("https://api.example.com/users?page=1", map[string]string{"q": "a b"})
	require.NoError(t, err)

	u, err := url.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "1", u.Query().Get("page"))
	assert.Equal(t, "a b", u.Query().Get("q"))

	same, err := AppendQuery("https://api.example.com/users", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users", same)
}

func TestDecodeJSON(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"id":1,"tags":["a"]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(1), "tags": []any{"a"}}, v)

	_, err = DecodeJSON([]byte{0xff, 0xfe, '{', '}'})
	require.ErrorIs(t, err, ErrInvalidUTF8)

	_, err = DecodeJSON(nil)
	require.Error(t, err)

	_, err = DecodeJSON([]byte(`{"a":1} trailing`))
	require.Error(t, err)
}

func TestDecodeJSON_RejectsLenientGrammar(t *testing.T) {
	bodies := map[string]string{
		"leading zero":          `01`,
		"leading zero in array": `[01]`,
		"trailing decimal":      `1.`,
		"control char":          "\"a\x01b\"",
		"control char in field": "{\"exception\":\"a\x01\"}",
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			v, err := DecodeJSON([]byte(body))

			require.ErrorIs(t, err, ErrInvalidJSON)
			assert.Nil(t, v)
		})
	}
}

func TestCompactJSON(t *testing.T) {
	assert.Equal(t, `{"exception":"BadCredentials"}`, CompactJSON(map[string]any{"exception": "BadCredentials"}))
	assert.Equal(t, `[1,2]`, CompactJSON([]any{1, 2}))
	assert.Equal(t, "", CompactJSON(make(chan int)))
}

func TestCacheEntry_Expiry(t *testing.T) {
	now := time.Now()
	entry := &CacheEntry{
		ETag:    `"v1"`,
		SoftTTL: now.Add(time.Minute),
		TTL:     now.Add(2 * time.Minute),
	}

	assert.False(t, entry.IsExpired(now))
	assert.False(t, entry.RefreshNeeded(now))
	assert.True(t, entry.RefreshNeeded(now.Add(time.Minute)))
	assert.False(t, entry.IsExpired(now.Add(time.Minute)))
	assert.True(t, entry.IsExpired(now.Add(2*time.Minute)))
	assert.True(t, entry.CanRevalidate())
	assert.False(t, (&CacheEntry{}).CanRevalidate())
}

func TestParsedResponse_Object(t *testing.T) {
	obj, ok := (&ParsedResponse{Value: map[string]any{"id": 1.0}}).Object()
	assert.True(t, ok)
	assert.Equal(t, 1.0, obj["id"])

	_, ok = (&ParsedResponse{Value: []any{}}).Object()
	assert.False(t, ok)
}
