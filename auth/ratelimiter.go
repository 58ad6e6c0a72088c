package auth

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// --- Rate Limiter ---

type RateLimiter struct {
	requests map[string]int
	mutex    sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter allows 5 requests per minute per client address.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithWindow(5, time.Minute)
}

func NewRateLimiterWithWindow(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]int),
		limit:    limit,
		window:   window,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipAddress := clientIP(r)

		rl.mutex.Lock()
		count, exists := rl.requests[ipAddress]
		if !exists {
			rl.requests[ipAddress] = 1
			rl.mutex.Unlock()
			time.AfterFunc(rl.window, func() { rl.resetCount(ipAddress) })
			next.ServeHTTP(w, r)
			return
		}

		if count >= rl.limit {
			rl.mutex.Unlock()
			RespondWithError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		rl.requests[ipAddress] = count + 1
		rl.mutex.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) resetCount(ipAddress string) {
	rl.mutex.Lock()
	delete(rl.requests, ipAddress)
	rl.mutex.Unlock()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
