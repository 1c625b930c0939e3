package apiserver

import (
	"net/http"
	"strings"
)

// ErrorResponse represents json error structure
type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

// hopHeaders are connection-level headers that must not be copied from the
// upstream response to a viewer.
var hopHeaders = []string{
	"Connection",
	"Content-Length",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders adds every upstream header value to dst in the upstream order,
// skipping hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, key) {
			return true
		}
	}
	return false
}
