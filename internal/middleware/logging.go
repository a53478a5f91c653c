package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/victorgomez09/suivi/pkg/trace"
)

type LoggingMiddleware struct {
	logger       *zap.Logger
	logLevel     zapcore.Level
	includeQuery bool
	excludePaths []string
}

type LoggingOption func(*LoggingMiddleware)

func WithLogLevel(level zapcore.Level) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.logLevel = level
	}
}

// WithQueryParams enables logging of query parameters.
func WithQueryParams(enabled bool) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.includeQuery = enabled
	}
}

// WithExcludePaths skips paths with one of the given prefixes.
func WithExcludePaths(paths []string) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.excludePaths = paths
	}
}

func NewLoggingMiddleware(logger *zap.Logger, opts ...LoggingOption) *LoggingMiddleware {
	lm := &LoggingMiddleware{
		logger:   logger,
		logLevel: zapcore.InfoLevel,
	}

	for _, opt := range opts {
		opt(lm)
	}

	return lm
}

func (l *LoggingMiddleware) shouldExcludePath(path string) bool {
	for _, excludePath := range l.excludePaths {
		if strings.HasPrefix(path, excludePath) {
			return true
		}
	}
	return false
}

// Middleware writes one access log line per request. Request bodies and headers are never logged
// since they carry passwords and session tokens.
func (l *LoggingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.shouldExcludePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)

		fields := make([]zap.Field, 0, 9)
		fields = append(fields,
			zap.String("request_id", trace.GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", ClientIP(r)),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("response_size", sw.Length()),
		)
		if l.includeQuery && r.URL.RawQuery != "" {
			fields = append(fields, zap.String("query", r.URL.RawQuery))
		}

		switch {
		case sw.Status() >= 500:
			l.logger.Error("Server error", fields...)
		case sw.Status() >= 400:
			l.logger.Warn("Client error", fields...)
		default:
			if ce := l.logger.Check(l.logLevel, "Request completed"); ce != nil {
				ce.Write(fields...)
			}
		}
	})
}

// Recoverer turns a handler panic into a 500 response and an error log entry.
func Recoverer(logger *zap.Logger) Middleware {
	return Func(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("Handler panic",
					zap.String("request_id", trace.GetRequestID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"STORE_ERROR","message":"internal error"}` + "\n"))
			}()
			next.ServeHTTP(w, r)
		})
	})
}
