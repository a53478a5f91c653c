package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/victorgomez09/suivi/internal/config"
	"github.com/victorgomez09/suivi/pkg/trace"
)

var hello = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, "hello")
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return Func(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		})
	}

	chain := NewMiddlewareChain(mark("a"), mark("b"))
	chain.Use(mark("c"))
	serve(chain.Then(hello), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestAddConfiguredMiddlewares(t *testing.T) {
	cfg := &config.Suivi{Middleware: []config.Middleware{
		{Security: &config.Security{ContentTypeOptions: true, FrameOptions: "DENY"}},
		{CORS: &config.CORS{AllowedOrigins: []string{"https://app.example.com"}}},
		{Compression: true},
	}}
	chain := NewMiddlewareChain()
	chain.AddConfiguredMiddlewares(cfg, zap.NewNop())
	require.Equal(t, 3, chain.Len())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	rec := serve(chain.Then(hello), r)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightAndUnknownOrigin(t *testing.T) {
	cors := NewCORSMiddleware(&config.CORS{
		AllowedOrigins:   []string{"https://app.example.com"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	})

	r := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(cors.Middleware(hello), r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Authorization, Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.net")
	rec = serve(cors.Middleware(hello), r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHSTS(t *testing.T) {
	sec := NewSecurityMiddleware(&config.Security{HSTS: true, HSTSIncludeSubDomains: true})
	rec := serve(sec.Middleware(hello), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "max-age=31536000; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
}

func TestClientRateLimiterIsPerIP(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	var limited []string
	rl := NewClientRateLimiter(1, 2, time.Minute).OnLimit(func(ip string) { limited = append(limited, ip) })
	rl.now = func() time.Time { return now }

	h := rl.Middleware(hello)
	from := func(ip string) int {
		r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		r.RemoteAddr = ip + ":40000"
		return serve(h, r).Code
	}

	assert.Equal(t, http.StatusOK, from("10.0.0.1"))
	assert.Equal(t, http.StatusOK, from("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, from("10.0.0.1"))
	assert.Equal(t, http.StatusOK, from("10.0.0.2"))
	assert.Equal(t, []string{"10.0.0.1"}, limited)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, from("10.0.0.1"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, rl.Sweep())
}

func TestIPRestriction(t *testing.T) {
	m := NewIPRestrictionMiddleware([]string{"127.0.0.1", "10.1.0.0/16", "bogus/99"}, zap.NewNop())

	assert.True(t, m.Allowed("127.0.0.1"))
	assert.True(t, m.Allowed("10.1.42.7"))
	assert.False(t, m.Allowed("10.2.0.1"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.9:5555"
	assert.Equal(t, http.StatusForbidden, serve(m.Middleware(hello), r).Code)

	open := NewIPRestrictionMiddleware(nil, zap.NewNop())
	assert.Equal(t, http.StatusOK, serve(open.Middleware(hello), r).Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(r))
}

func TestCompression(t *testing.T) {
	h := NewCompressionMiddleware().Middleware(hello)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := serve(h, r)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "hello", rec.Body.String())
}

func TestRecovererAndRequestID(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	var seen string
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = trace.GetRequestID(r.Context())
	})

	chain := NewMiddlewareChain(trace.WithRequestID(), Recoverer(zap.NewNop()), NewLoggingMiddleware(zap.NewNop()))
	rec := serve(chain.Then(boom), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(trace.HeaderRequestID))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(trace.HeaderRequestID, "6f1c2a1e-58a4-4bb9-9d0b-6b3b7c1e8a10")
	rec = serve(chain.Then(capture), r)
	assert.Equal(t, "6f1c2a1e-58a4-4bb9-9d0b-6b3b7c1e8a10", seen)
	assert.Equal(t, seen, rec.Header().Get(trace.HeaderRequestID))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(trace.HeaderRequestID, "not a uuid")
	serve(chain.Then(capture), r)
	assert.NotEqual(t, "not a uuid", seen)
}
