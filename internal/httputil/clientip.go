package httputil

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// GetClientIP extracts the originating client IP, preferring proxy headers:
// the first hop of X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
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

// HostOfURI returns the lowercase host portion of a URI, used to key
// per-origin rate limits by remote actor domain. Unparseable input falls
// back to the raw string so abusive senders still land in one bucket.
func HostOfURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Hostname())
}
