package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the originating client address for request logs.
// Proxy headers win over RemoteAddr: X-Forwarded-For first (leftmost
// entry in the chain), then X-Real-IP. Handles bracketed IPv6 in
// RemoteAddr via SplitHostPort.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
