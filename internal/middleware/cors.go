package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/victorgomez09/suivi/internal/config"
)

type CORS struct {
	origins          map[string]struct{}
	anyOrigin        bool
	allowedMethods   string
	allowedHeaders   string
	exposedHeaders   string
	allowCredentials bool
	maxAge           int
}

func NewCORSMiddleware(cfg *config.CORS) *CORS {
	c := &CORS{
		origins:          make(map[string]struct{}, len(cfg.AllowedOrigins)),
		allowedMethods:   strings.Join(cfg.AllowedMethods, ", "),
		allowedHeaders:   strings.Join(cfg.AllowedHeaders, ", "),
		exposedHeaders:   strings.Join(cfg.ExposedHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
		maxAge:           cfg.MaxAge,
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			c.anyOrigin = true
			continue
		}
		c.origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	if c.allowedMethods == "" {
		c.allowedMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	return c
}

func (c *CORS) allowed(origin string) bool {
	if c.anyOrigin {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

// Middleware echoes an allowed Origin back and answers preflight requests.
// Requests from other origins pass through without CORS headers.
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		h.Add("Vary", "Origin")

		if origin == "" || !c.allowed(origin) {
			next.ServeHTTP(w, r)
			return
		}

		// Credentials forbid the wildcard, so the origin is always echoed.
		h.Set("Access-Control-Allow-Origin", origin)
		if c.allowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if c.exposedHeaders != "" {
			h.Set("Access-Control-Expose-Headers", c.exposedHeaders)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", c.allowedMethods)
			if c.allowedHeaders != "" {
				h.Set("Access-Control-Allow-Headers", c.allowedHeaders)
			} else if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
				h.Set("Access-Control-Allow-Headers", req)
			}
			if c.maxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(c.maxAge))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
