package security

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

const (
	defaultTTL        = 10 * time.Minute
	defaultMaxClients = 10000
	sweepInterval     = time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client key. Keys idle for longer than the
// TTL are swept in the background.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	r          rate.Limit
	burst      int
	ttl        time.Duration
	maxClients int
	clock      clock.Clock
	cancel     context.CancelFunc
}

// NewRateLimiter allows perMinute requests per client with a burst of the
// same size. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return newRateLimiter(perMinute, clock.New())
}

func newRateLimiter(perMinute int, clk clock.Clock) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		clients:    make(map[string]*clientLimiter),
		ttl:        defaultTTL,
		maxClients: defaultMaxClients,
		clock:      clk,
		cancel:     cancel,
	}
	rl.setRate(perMinute)
	go rl.sweep(ctx)
	return rl
}

func (rl *RateLimiter) setRate(perMinute int) {
	if perMinute <= 0 {
		rl.r, rl.burst = rate.Inf, 0
		return
	}
	rl.r = rate.Limit(float64(perMinute) / 60.0)
	rl.burst = perMinute
}

// Allow reports whether key may make another request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	if rl.r == rate.Inf {
		rl.mu.Unlock()
		return true
	}
	now := rl.clock.Now()
	c, ok := rl.clients[key]
	if !ok {
		if len(rl.clients) >= rl.maxClients {
			rl.mu.Unlock()
			return false
		}
		c = &clientLimiter{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// UpdateRate changes the budget. Existing buckets are dropped so every client
// starts over at the new rate.
func (rl *RateLimiter) UpdateRate(perMinute int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.setRate(perMinute)
	rl.clients = make(map[string]*clientLimiter)
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

// Middleware answers 429 once the client IP has spent its budget.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r.RemoteAddr)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	ticker := rl.clock.Ticker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.ttl {
			delete(rl.clients, key)
		}
	}
}
