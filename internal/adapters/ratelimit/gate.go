// Package ratelimit implements the per-client admission gate placed in front
// of the business entry points.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

// Gate is a lazy token-bucket limiter keyed by client identity.
// Buckets are created on first use and never evicted.
type Gate struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	limit    rate.Limit
	capacity int
	now      func() time.Time
}

type Option func(*Gate)

// WithClock replaces time.Now, used by tests to control refill.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

func NewGate(cfg config.RateLimitConfig, opts ...Option) *Gate {
	capacity := cfg.Burst
	if capacity <= 0 {
		capacity = cfg.RequestsPerMinute
	}

	g := &Gate{
		buckets:  make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) bucket(clientID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[clientID]
	if !ok {
		b = rate.NewLimiter(g.limit, g.capacity)
		g.buckets[clientID] = b
	}
	return b
}

// TryAdmit consumes one token from the client's bucket if one is available.
func (g *Gate) TryAdmit(clientID string) bool {
	return g.bucket(clientID).AllowN(g.now(), 1)
}

// Admit is TryAdmit returning a *domain.AdmissionRejectedError with retry guidance.
func (g *Gate) Admit(clientID string) error {
	b := g.bucket(clientID)
	now := g.now()
	if b.AllowN(now, 1) {
		return nil
	}
	return &domain.AdmissionRejectedError{
		ClientID:   clientID,
		RetryAfter: retryAfter(b, now),
	}
}

// retryAfter is the time until the bucket holds one full token again.
func retryAfter(b *rate.Limiter, now time.Time) time.Duration {
	missing := 1 - b.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	seconds := missing / float64(b.Limit())
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

// Clients returns the number of buckets created so far.
func (g *Gate) Clients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buckets)
}
