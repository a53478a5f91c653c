package middleware

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// IPRestrictionMiddleware only lets listed client addresses through.
// Entries are single addresses or CIDR ranges. An empty list allows every client.
type IPRestrictionMiddleware struct {
	addrs  map[string]struct{}
	nets   []*net.IPNet
	logger *zap.Logger
}

func NewIPRestrictionMiddleware(allowed []string, logger *zap.Logger) *IPRestrictionMiddleware {
	m := &IPRestrictionMiddleware{
		addrs:  make(map[string]struct{}),
		logger: logger,
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if _, n, err := net.ParseCIDR(entry); err == nil {
				m.nets = append(m.nets, n)
				continue
			}
			logger.Warn("Ignoring invalid CIDR in api.allowed_ips", zap.String("entry", entry))
			continue
		}
		m.addrs[entry] = struct{}{}
	}
	return m
}

func (m *IPRestrictionMiddleware) empty() bool {
	return len(m.addrs) == 0 && len(m.nets) == 0
}

// Allowed reports whether ip may reach the API.
func (m *IPRestrictionMiddleware) Allowed(ip string) bool {
	if m.empty() {
		return true
	}
	if _, ok := m.addrs[ip]; ok {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range m.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func (m *IPRestrictionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.empty() {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := ClientIP(r)
		if !m.Allowed(clientIP) {
			m.logger.Warn("Access denied: IP not allowed", zap.String("client_ip", clientIP))
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
