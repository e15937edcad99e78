package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address in canonical form. On the API router
// chi's RealIP middleware has already folded the forwarding headers into
// RemoteAddr, so the headers are only consulted when RemoteAddr is not an IP.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip := canonicalIP(r.RemoteAddr); ip != "" {
		return ip
	}
	for _, header := range []string{"X-Real-IP", "X-Forwarded-For"} {
		first, _, _ := strings.Cut(r.Header.Get(header), ",")
		if ip := canonicalIP(first); ip != "" {
			return ip
		}
	}
	return ""
}

func canonicalIP(value string) string {
	value = strings.TrimSpace(value)
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	ip := net.ParseIP(strings.Trim(value, "[]"))
	if ip == nil {
		return ""
	}
	return ip.String()
}
