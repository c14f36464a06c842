package resilience

import (
	"sync"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

// State is the position of a circuit breaker in its state machine.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Settings configure every breaker created by a Registry.
type Settings struct {
	SlidingWindowSize    int
	MinimumCalls         int
	FailureRateThreshold float64 // percent
	OpenWait             time.Duration
	HalfOpenCalls        int
}

func SettingsFromConfig(cfg config.CircuitBreakerConfig) Settings {
	return Settings{
		SlidingWindowSize:    cfg.SlidingWindowSize,
		MinimumCalls:         cfg.MinimumCalls,
		FailureRateThreshold: cfg.FailureRateThreshold,
		OpenWait:             cfg.OpenWait,
		HalfOpenCalls:        cfg.HalfOpenCalls,
	}
}

// StateChange describes one transition, delivered to Registry subscribers.
type StateChange struct {
	Name        string
	From        State
	To          State
	FailureRate float64
	At          time.Time
}

// CircuitState is a point-in-time view of a breaker.
type CircuitState struct {
	Name        string     `json:"name"`
	State       State      `json:"state"`
	Calls       int        `json:"calls"`
	FailureRate float64    `json:"failure_rate"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker guards one upstream participant. Outcomes are kept in a
// count-based sliding window of the last SlidingWindowSize calls.
type CircuitBreaker struct {
	name     string
	settings Settings
	now      func() time.Time
	notify   func(StateChange)

	mu         sync.Mutex
	state      State
	generation uint64

	window   []bool // true means failure
	next     int
	calls    int
	failures int

	openedAt          time.Time
	halfOpenPermitted int
	halfOpenSucceeded int
}

func newCircuitBreaker(name string, s Settings, now func() time.Time, notify func(StateChange)) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		settings: s,
		now:      now,
		notify:   notify,
		state:    StateClosed,
		window:   make([]bool, s.SlidingWindowSize),
	}
}

// Allow asks for permission to call the upstream. The returned generation must
// be handed back to Record or Cancel.
func (cb *CircuitBreaker) Allow() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateClosed:
		return cb.generation, nil
	case StateOpen:
		elapsed := now.Sub(cb.openedAt)
		if elapsed < cb.settings.OpenWait {
			return 0, &domain.CircuitOpenError{Participant: cb.name, RetryAfter: cb.settings.OpenWait - elapsed}
		}
		cb.transition(StateHalfOpen, now)
	}

	if cb.halfOpenPermitted >= cb.settings.HalfOpenCalls {
		return 0, &domain.CircuitOpenError{Participant: cb.name}
	}
	cb.halfOpenPermitted++
	return cb.generation, nil
}

// Record stores the final outcome of a permitted call. Outcomes from a
// previous generation (permitted before the last transition) are dropped.
func (cb *CircuitBreaker) Record(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation != cb.generation {
		return
	}
	now := cb.now()

	switch cb.state {
	case StateClosed:
		cb.push(!success)
		if cb.calls >= cb.settings.MinimumCalls && cb.failureRate() >= cb.settings.FailureRateThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		if !success {
			cb.transition(StateOpen, now)
			return
		}
		cb.halfOpenSucceeded++
		if cb.halfOpenSucceeded >= cb.settings.HalfOpenCalls {
			cb.transition(StateClosed, now)
		}
	}
}

// Cancel returns a half-open permit whose call never produced an outcome.
func (cb *CircuitBreaker) Cancel(generation uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation == cb.generation && cb.state == StateHalfOpen && cb.halfOpenPermitted > 0 {
		cb.halfOpenPermitted--
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := CircuitState{
		Name:        cb.name,
		State:       cb.state,
		Calls:       cb.calls,
		FailureRate: cb.failureRate(),
	}
	if cb.state != StateClosed {
		openedAt := cb.openedAt
		s.OpenedAt = &openedAt
	}
	return s
}

func (cb *CircuitBreaker) push(failure bool) {
	if cb.calls == len(cb.window) {
		if cb.window[cb.next] {
			cb.failures--
		}
	} else {
		cb.calls++
	}
	cb.window[cb.next] = failure
	if failure {
		cb.failures++
	}
	cb.next = (cb.next + 1) % len(cb.window)
}

func (cb *CircuitBreaker) failureRate() float64 {
	if cb.calls == 0 {
		return 0
	}
	return float64(cb.failures) * 100 / float64(cb.calls)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	rate := cb.failureRate()

	cb.state = to
	cb.generation++
	cb.halfOpenPermitted = 0
	cb.halfOpenSucceeded = 0

	switch to {
	case StateOpen:
		cb.openedAt = now
	case StateClosed:
		cb.resetWindow()
	}

	if cb.notify != nil {
		cb.notify(StateChange{Name: cb.name, From: from, To: to, FailureRate: rate, At: now})
	}
}

func (cb *CircuitBreaker) resetWindow() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.next = 0
	cb.calls = 0
	cb.failures = 0
}
