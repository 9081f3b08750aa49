package middleware

import (
	"net"
	"net/http"
	"strings"
)

// RealIPMiddleware resolves the client IP that the per-IP rate limiter and
// security-event logging key on. Forwarded headers are honored only when the
// direct peer is a configured trusted proxy, so a websocket or login client
// cannot spoof a fresh identity past the limiter.
type RealIPMiddleware struct {
	trusted []*net.IPNet
}

// NewRealIPMiddleware parses trustedProxies entries as CIDRs or single IPs.
// Single IPs are stored as host-length networks; unparseable entries are
// skipped.
func NewRealIPMiddleware(trustedProxies []string) *RealIPMiddleware {
	m := &RealIPMiddleware{}

	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		if strings.Contains(proxy, "/") {
			if _, network, err := net.ParseCIDR(proxy); err == nil {
				m.trusted = append(m.trusted, network)
			}
			continue
		}

		if ip := net.ParseIP(proxy); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			m.trusted = append(m.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}

	return m
}

// Handler stamps the resolved client IP into X-Real-IP for downstream
// consumers (logging.ExtractClientIP, the rate limiter).
func (m *RealIPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if realIP := m.resolveClientIP(r); realIP != "" {
			r.Header.Set("X-Real-IP", realIP)
		}
		next.ServeHTTP(w, r)
	})
}

// resolveClientIP returns the forwarded client IP when the direct peer is a
// trusted proxy, and the peer address itself otherwise.
func (m *RealIPMiddleware) resolveClientIP(r *http.Request) string {
	peerIP := parseRemoteAddr(r.RemoteAddr)
	if !m.isTrustedProxy(peerIP) {
		return peerIP
	}

	// CF-Connecting-IP carries exactly one address and is set by the edge,
	// so it wins over the accumulating X-Forwarded-For chain.
	if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" {
		return strings.TrimSpace(cfIP)
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	return peerIP
}

func (m *RealIPMiddleware) isTrustedProxy(ipStr string) bool {
	if len(m.trusted) == 0 {
		return false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range m.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// parseRemoteAddr strips the port from a RemoteAddr, tolerating bare IPs
// (IPv6 without a port) and returning the input untouched as a last resort.
func parseRemoteAddr(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	if ip := net.ParseIP(remoteAddr); ip != nil {
		return remoteAddr
	}
	return remoteAddr
}
