package api

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client key (tenant header when present,
// remote IP otherwise). Idle limiters are dropped after an hour.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiterFromEnv reads RATE_RPS and RATE_BURST. RATE_RPS=0 disables
// limiting.
func NewRateLimiterFromEnv() *RateLimiter {
	rps, _ := strconv.ParseFloat(os.Getenv("RATE_RPS"), 64)
	burst, _ := strconv.Atoi(os.Getenv("RATE_BURST"))
	if burst <= 0 {
		burst = 20
	}
	rl := &RateLimiter{clients: map[string]*clientLimiter{}, rps: rate.Limit(rps), burst: burst}
	if rps > 0 {
		go rl.sweep()
	}
	return rl
}

func (rl *RateLimiter) sweep() {
	for range time.Tick(10 * time.Minute) {
		cutoff := time.Now().Add(-1 * time.Hour)
		rl.mu.Lock()
		for k, c := range rl.clients {
			if c.seen.Before(cutoff) {
				delete(rl.clients, k)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[key] = c
	}
	c.seen = time.Now()
	return c.lim.Allow()
}

// Middleware applies the limit. A zero RATE_RPS turns it into a no-op.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Tenant-Id")
		if key == "" {
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			} else {
				key = r.RemoteAddr
			}
		}
		if !rl.allow(key) {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
