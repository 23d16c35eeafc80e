package httpx

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address as seen by the platform proxy. Cloud Run appends the
// address of the connecting client to X-Forwarded-For, so only the rightmost entry is trusted;
// anything to its left is supplied by the caller.
func ClientIP(r *http.Request) string {
	return ClientIPBehind(r, 0)
}

// ClientIPBehind is ClientIP for deployments with trustedHops additional proxies (for example
// an external load balancer) appending to X-Forwarded-For after the client-facing one. When the
// header is missing, too short or malformed at that position, RemoteAddr is used.
func ClientIPBehind(r *http.Request, trustedHops int) string {
	if r == nil {
		return ""
	}
	if trustedHops < 0 {
		trustedHops = 0
	}
	if entries := forwardedFor(r.Header); len(entries) > trustedHops {
		if ip := normaliseIP(entries[len(entries)-1-trustedHops]); ip != "" {
			return ip
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return normaliseIP(addr)
}

// forwardedFor flattens every X-Forwarded-For header line in order.
func forwardedFor(h http.Header) []string {
	var entries []string
	for _, line := range h.Values("X-Forwarded-For") {
		for _, entry := range strings.Split(line, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				entries = append(entries, entry)
			}
		}
	}
	return entries
}

func normaliseIP(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	ip := net.ParseIP(value)
	if ip == nil {
		return ""
	}
	return ip.String()
}
