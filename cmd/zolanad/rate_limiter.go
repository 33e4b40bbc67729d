// rate_limiter.go - Rate limiting for the status API
package main

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter implements a token bucket that refills continuously
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	perSecond  float64
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a bucket holding up to burst tokens that refills at
// perSecond tokens per second.
func NewRateLimiter(burst, perSecond int, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		perSecond:  float64(perSecond),
		lastRefill: now(),
		now:        now,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(rl.now())
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.perSecond
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// idle reports whether the bucket is full again and untouched for at least d.
// A full bucket behaves exactly like a new one, so it can be dropped.
func (rl *RateLimiter) idle(d time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastRefill) < d {
		return false
	}
	rl.refillLocked(now)
	return rl.tokens >= rl.maxTokens
}

// DefaultIdleTimeout is how long a client's full bucket is kept after its
// last request.
const DefaultIdleTimeout = 10 * time.Minute

// ClientRateLimiter keeps one bucket per client. Buckets of idle clients are
// swept every idleTimeout.
type ClientRateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*RateLimiter
	burst       int
	perSecond   int
	idleTimeout time.Duration
	lastSweep   time.Time
	now         func() time.Time
}

// NewClientRateLimiter creates a limiter using the wall clock.
func NewClientRateLimiter(burst, perSecond int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters:    make(map[string]*RateLimiter),
		burst:       burst,
		perSecond:   perSecond,
		idleTimeout: DefaultIdleTimeout,
		lastSweep:   time.Now(),
		now:         time.Now,
	}
}

// Allow checks if a request from client is allowed
func (c *ClientRateLimiter) Allow(client string) bool {
	c.mu.Lock()
	if now := c.now(); now.Sub(c.lastSweep) >= c.idleTimeout {
		c.sweepLocked()
		c.lastSweep = now
	}
	limiter, exists := c.limiters[client]
	if !exists {
		limiter = NewRateLimiter(c.burst, c.perSecond, c.now)
		c.limiters[client] = limiter
	}
	c.mu.Unlock()

	return limiter.Allow()
}

func (c *ClientRateLimiter) sweepLocked() {
	for client, rl := range c.limiters {
		if rl.idle(c.idleTimeout) {
			delete(c.limiters, client)
		}
	}
}

// Clients returns the number of tracked clients.
func (c *ClientRateLimiter) Clients() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}

// Middleware rejects requests over the per-client budget with 429. Clients are
// keyed by remote IP.
func (c *ClientRateLimiter) Middleware(next http.Handler, rejected func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		if !c.Allow(client) {
			if rejected != nil {
				rejected()
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
