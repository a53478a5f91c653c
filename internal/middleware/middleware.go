package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/victorgomez09/suivi/internal/config"
)

// Middleware defines an interface for HTTP middleware.
// Each middleware must implement the Middleware method, which takes the next handler in the chain
// and returns a new handler that wraps additional functionality around it.
type Middleware interface {
	Middleware(next http.Handler) http.Handler
}

// Func adapts a plain function to the Middleware interface, so chi-style middlewares can be chained.
type Func func(next http.Handler) http.Handler

func (f Func) Middleware(next http.Handler) http.Handler {
	return f(next)
}

// statusWriter is a ResponseWriter that captures the HTTP status code and the length of the response.
type statusWriter struct {
	http.ResponseWriter
	status      int
	length      int
	wroteHeader bool
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.length += n
	return n, err
}

func (w *statusWriter) Status() int {
	return w.status
}

func (w *statusWriter) Length() int {
	return w.length
}

// Hijack keeps websocket upgrades working behind the middleware chain.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("upstream ResponseWriter does not implement http.Hijacker")
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// MiddlewareChain manages a sequence of middleware.
type MiddlewareChain struct {
	middlewares []Middleware
}

func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{
		middlewares: middlewares,
	}
}

func (c *MiddlewareChain) Use(middleware Middleware) {
	c.middlewares = append(c.middlewares, middleware)
}

// Len returns the number of middlewares in the chain.
func (c *MiddlewareChain) Len() int {
	return len(c.middlewares)
}

// Then applies the middleware chain to the final HTTP handler.
// The first middleware added is the first to process the request.
func (c *MiddlewareChain) Then(final http.Handler) http.Handler {
	if final == nil {
		final = http.NotFoundHandler()
	}

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		final = c.middlewares[i].Middleware(final)
	}
	return final
}

// AddConfiguredMiddlewares appends the global middlewares listed in config.yaml, in order.
func (c *MiddlewareChain) AddConfiguredMiddlewares(cfg *config.Suivi, logger *zap.Logger) {
	for _, mw := range cfg.Middleware {
		switch {
		case mw.RateLimit != nil:
			rl := NewRateLimiterMiddleware(mw.RateLimit.RequestsPerSecond, mw.RateLimit.Burst)
			c.Use(rl)
			logger.Info("Global Rate Limiter middleware configured",
				zap.Float64("requests_per_second", mw.RateLimit.RequestsPerSecond),
				zap.Int("burst", mw.RateLimit.Burst))
		case mw.Security != nil:
			c.Use(NewSecurityMiddleware(mw.Security))
			logger.Info("Global Security middleware configured")
		case mw.CORS != nil:
			c.Use(NewCORSMiddleware(mw.CORS))
			logger.Info("Global CORS middleware configured",
				zap.Strings("allowed_origins", mw.CORS.AllowedOrigins))
		case mw.Compression:
			c.Use(NewCompressionMiddleware())
			logger.Info("Global Compression middleware configured")
		}
	}
}

// ClientIP extracts the client address, preferring X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
