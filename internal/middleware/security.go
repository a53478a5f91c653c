package middleware

import (
	"fmt"
	"net/http"

	"github.com/victorgomez09/suivi/internal/config"
)

type ServerSecurity struct {
	hsts                  string
	frameOptions          string
	contentTypeOptions    bool
	contentSecurityPolicy string
}

// NewSecurityMiddleware builds the header values once from the security section of config.yaml.
func NewSecurityMiddleware(cfg *config.Security) *ServerSecurity {
	s := &ServerSecurity{
		frameOptions:          cfg.FrameOptions,
		contentTypeOptions:    cfg.ContentTypeOptions,
		contentSecurityPolicy: cfg.ContentSecurityPolicy,
	}
	if cfg.HSTS {
		maxAge := cfg.HSTSMaxAge
		if maxAge <= 0 {
			maxAge = 31536000
		}
		s.hsts = fmt.Sprintf("max-age=%d", maxAge)
		if cfg.HSTSIncludeSubDomains {
			s.hsts += "; includeSubDomains"
		}
		if cfg.HSTSPreload {
			s.hsts += "; preload"
		}
	}
	return s
}

// Middleware sets the configured security headers on every response.
func (s *ServerSecurity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if s.hsts != "" {
			h.Set("Strict-Transport-Security", s.hsts)
		}
		if s.frameOptions != "" {
			h.Set("X-Frame-Options", s.frameOptions)
		}
		if s.contentTypeOptions {
			h.Set("X-Content-Type-Options", "nosniff")
		}
		if s.contentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", s.contentSecurityPolicy)
		}
		h.Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}
