package service

import "net/http"

// strippedHeaders are hop-by-hop and framing headers that must not be
// replayed on a new connection. Keys are in canonical form.
var strippedHeaders = map[string]bool{
	"Host":                true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// FilterHeaders returns a copy of src without hop-by-hop and framing headers.
// Matching is case-insensitive; all other headers, Authorization included,
// are kept with their values in original order. src is not modified.
func FilterHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if strippedHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}
