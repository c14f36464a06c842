package resilience

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBuffer = 256

// Registry owns one CircuitBreaker per upstream participant, created lazily.
type Registry struct {
	settings Settings
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	subMu       sync.RWMutex
	subscribers []chan StateChange
	dropped     atomic.Int64
}

type RegistryOption func(*Registry)

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(settings Settings, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		settings: settings,
		now:      time.Now,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for name, creating it in the CLOSED state.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	if !ok {
		cb = newCircuitBreaker(name, r.settings, r.now, r.broadcast)
		r.breakers[name] = cb
	}
	return cb
}

// Snapshots returns the current state of every known breaker.
func (r *Registry) Snapshots() []CircuitState {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make([]CircuitState, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Snapshot())
	}
	return out
}

// Subscribe returns a buffered channel of state transitions. Delivery never
// blocks a breaker; when the buffer is full the change is dropped.
func (r *Registry) Subscribe() <-chan StateChange {
	ch := make(chan StateChange, subscriberBuffer)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()
	return ch
}

// Dropped counts transitions that could not be delivered to a slow subscriber.
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Registry) broadcast(change StateChange) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- change:
		default:
			r.dropped.Add(1)
			r.logger.Warn("circuit state change dropped",
				"participant", change.Name,
				"from", change.From,
				"to", change.To)
		}
	}
}
