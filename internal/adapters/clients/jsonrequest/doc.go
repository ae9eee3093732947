// Package jsonrequest adapts JSON request/response handling onto a
// [ports.Transport].
//
// A [JSONRequest] describes one call (method, URL, parameters, content type)
// and knows how to turn the transport's raw outcome into either a parsed JSON
// value or a [StructuredError]. The transport owns retries, caching, pooling
// and timeouts; this package only parses, translates and delivers.
//
// # Lifecycle
//
// Each request moves Created -> Dispatched -> {Succeeded, Failed} exactly once:
//
//	req, err := jsonrequest.New(domain.MethodPost, "https://api.example.com/login",
//	    jsonrequest.WithParameter("user", "a"),
//	)
//	if err != nil {
//	    return err
//	}
//
//	err = req.Execute(ctx, transport, jsonrequest.HandlerFuncs{
//	    Result: func(v any) { ... },
//	    Error: func(e *jsonrequest.StructuredError) {
//	        if exc, ok := e.Exception(); ok { ... }
//	    },
//	})
//
// # Cache-hit marker
//
// When the transport serves a success from its local cache and the parsed
// value is a JSON object, the object is delivered with the key
// [CacheHitMarker] ("@#fromcache") set to true. Consumers that need to know
// whether a payload was freshly fetched branch on that key. The key is absent
// on network responses.
//
// # Error translation
//
// Server and auth failures whose body is valid UTF-8 JSON are delivered with
// that body attached ([StructuredError.Body]). Every other failure, or a body
// that fails to parse, is delivered with no body and the original transport
// error untouched.
package jsonrequest
