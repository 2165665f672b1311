package httpserver

import (
	"encoding/binary"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the client IP respecting proxy headers when trustProxy is true.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				ip := strings.TrimSpace(parts[0])
				if ip != "" {
					return ip
				}
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AddrToUint32 maps an IP to the 32-bit client address used in throttle
// keys and id derivation. IPv4 (including IPv4-mapped IPv6) is read big
// endian; other IPv6 addresses fold their four 32-bit words with XOR.
// Anything unparseable maps to 0.
func AddrToUint32(ip string) uint32 {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return 0
	}
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return binary.BigEndian.Uint32(b[:])
	}
	b := addr.As16()
	var folded uint32
	for i := 0; i < 16; i += 4 {
		folded ^= binary.BigEndian.Uint32(b[i : i+4])
	}
	return folded
}

func (s *Server) clientAddr(r *http.Request) uint32 {
	return AddrToUint32(ClientIP(r, s.trustProxy))
}
