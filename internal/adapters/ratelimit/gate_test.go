package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestGate_CapacityPerMinute(t *testing.T) {
	clock := newClock()
	gate := NewGate(config.RateLimitConfig{RequestsPerMinute: 5}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		assert.True(t, gate.TryAdmit("client-a"), "call %d should be admitted", i+1)
	}
	assert.False(t, gate.TryAdmit("client-a"))

	// one token refills every 12s at 5/minute
	clock.Advance(11 * time.Second)
	assert.False(t, gate.TryAdmit("client-a"))

	clock.Advance(2 * time.Second)
	assert.True(t, gate.TryAdmit("client-a"))
	assert.False(t, gate.TryAdmit("client-a"))
}

func TestGate_ClientsAreIndependent(t *testing.T) {
	clock := newClock()
	gate := NewGate(config.RateLimitConfig{RequestsPerMinute: 1}, WithClock(clock.Now))

	assert.True(t, gate.TryAdmit("a"))
	assert.False(t, gate.TryAdmit("a"))
	assert.True(t, gate.TryAdmit("b"))
	assert.Equal(t, 2, gate.Clients())
}

func TestGate_AdmitReturnsRetryGuidance(t *testing.T) {
	clock := newClock()
	gate := NewGate(config.RateLimitConfig{RequestsPerMinute: 60, Burst: 1}, WithClock(clock.Now))

	require.NoError(t, gate.Admit("client-a"))

	err := gate.Admit("client-a")
	require.Error(t, err)

	var rejected *domain.AdmissionRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "client-a", rejected.ClientID)
	assert.InDelta(t, float64(time.Second), float64(rejected.RetryAfter), float64(time.Millisecond))
}

func TestGate_ConcurrentAdmissionNeverExceedsCapacity(t *testing.T) {
	clock := newClock()
	gate := NewGate(config.RateLimitConfig{RequestsPerMinute: 50}, WithClock(clock.Now))

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if gate.TryAdmit("shared") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
}
