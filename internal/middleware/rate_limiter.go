package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterMiddleware limits the request rate across all clients.
type RateLimiterMiddleware struct {
	limiter *rate.Limiter
}

// NewRateLimiterMiddleware sets up a limiter with rps requests per second and burst.
// Zero values fall back to 20 rps and a burst of 50.
func NewRateLimiterMiddleware(rps float64, burst int) Middleware {
	if burst == 0 {
		burst = 50
	}
	if rps == 0 {
		rps = 20
	}

	return &RateLimiterMiddleware{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.limiter.Allow() {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter keeps one token bucket per client IP. It guards the sign-in endpoint against
// password spraying independently of the per-account lockout.
type ClientRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	onLimit func(ip string)
}

// NewClientRateLimiter creates a per-IP limiter. Buckets unused for idle are forgotten.
func NewClientRateLimiter(rps float64, burst int, idle time.Duration) *ClientRateLimiter {
	if burst <= 0 {
		burst = 10
	}
	if rps <= 0 {
		rps = 1
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &ClientRateLimiter{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
	}
}

// OnLimit registers a callback invoked with the client IP whenever a request is refused.
func (l *ClientRateLimiter) OnLimit(fn func(ip string)) *ClientRateLimiter {
	l.onLimit = fn
	return l
}

// Allow consumes one token from ip's bucket.
func (l *ClientRateLimiter) Allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than the idle period and returns how many remain.
func (l *ClientRateLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
	return len(l.clients)
}

func (l *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(1 / float64(l.rps))))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !l.Allow(ip) {
			if l.onLimit != nil {
				l.onLimit(ip)
			}
			w.Header().Set("Retry-After", retryAfter)
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
