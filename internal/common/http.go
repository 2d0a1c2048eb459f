package common

import (
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller's address without the port. The API mounts
// chi's RealIP first, so forwarded headers are already folded into RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().String()
	}
	if ip, err := netip.ParseAddr(addr); err == nil {
		return ip.String()
	}
	return addr
}
