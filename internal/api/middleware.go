package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-client request rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	qps     rate.Limit
	burst   int
}

// NewRateLimiter creates a rate limiter allowing qps requests per second
// with the given burst per client IP.
func NewRateLimiter(qps, burst int) *RateLimiter {
	if qps <= 0 {
		qps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		clients: make(map[string]*rate.Limiter),
		qps:     rate.Limit(qps),
		burst:   burst,
	}
}

// Allow reports whether the client identified by addr may proceed.
func (rl *RateLimiter) Allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	rl.mu.Lock()
	limiter, ok := rl.clients[host]
	if !ok {
		limiter = rate.NewLimiter(rl.qps, rl.burst)
		rl.clients[host] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

// RateLimitMiddleware rejects requests exceeding the client's rate limit.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(r.RemoteAddr) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
