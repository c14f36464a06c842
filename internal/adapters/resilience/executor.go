package resilience

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
)

// Executor composes token acquisition, circuit breaking and retries around
// one idempotent upstream call.
type Executor struct {
	tokens   ports.TokenProvider
	breakers *Registry
	policy   RetryPolicy
	logger   *slog.Logger

	registrationFor func(participantID string) string
}

type ExecutorOption func(*Executor)

// WithRegistrationMapping sets how a participant maps to its credential
// registration. By default the participant id is the registration id.
func WithRegistrationMapping(fn func(participantID string) string) ExecutorOption {
	return func(e *Executor) {
		e.registrationFor = fn
	}
}

func NewExecutor(tokens ports.TokenProvider, breakers *Registry, policy RetryPolicy, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		tokens:          tokens,
		breakers:        breakers,
		policy:          policy,
		logger:          logger,
		registrationFor: func(participantID string) string { return participantID },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Breakers() *Registry {
	return e.breakers
}

// Execute applies, in order: token acquisition, circuit permission for
// participantID, the retried call, and recording of the final outcome.
//
// Errors returned: *domain.AuthError, *domain.CircuitOpenError (call not
// attempted), *domain.PermanentUpstreamError, *domain.RetriesExhaustedError,
// or the context error.
func Execute[T any](ctx context.Context, e *Executor, participantID string, call func(ctx context.Context, token domain.Token) (T, error)) (T, error) {
	var zero T

	registrationID := e.registrationFor(participantID)
	token, err := e.tokens.GetToken(ctx, registrationID)
	if err != nil {
		return zero, err
	}

	cb := e.breakers.Get(participantID)
	generation, err := cb.Allow()
	if err != nil {
		e.logger.Debug("upstream call rejected by open circuit", "participant_id", participantID)
		return zero, err
	}

	resp, err := Retry(ctx, e.policy, func(ctx context.Context) (T, error) {
		return call(ctx, token)
	})

	if err != nil && ctx.Err() != nil {
		cb.Cancel(generation)
		return zero, err
	}

	if isUnauthorized(err) {
		e.tokens.Invalidate(registrationID)
	}

	cb.Record(generation, healthyOutcome(err))

	if err != nil {
		e.logger.Warn("upstream call failed",
			"participant_id", participantID,
			"category", domain.CategorizeError(err),
			"error", err)
		return zero, err
	}
	return resp, nil
}

// healthyOutcome reports whether the participant behaved normally. A
// permanent 4xx means the participant answered, so it does not count against
// the circuit.
func healthyOutcome(err error) bool {
	if err == nil {
		return true
	}
	var permanent *domain.PermanentUpstreamError
	return errors.As(err, &permanent)
}

func isUnauthorized(err error) bool {
	var permanent *domain.PermanentUpstreamError
	return errors.As(err, &permanent) && permanent.StatusCode == http.StatusUnauthorized
}
