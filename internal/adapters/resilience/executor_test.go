package resilience_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/adapters/resilience"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutor(tokens *mocks.MockTokenProvider) *resilience.Executor {
	logger := slog.New(slog.DiscardHandler)
	registry := resilience.NewRegistry(resilience.Settings{
		SlidingWindowSize:    10,
		MinimumCalls:         2,
		FailureRateThreshold: 50,
		OpenWait:             time.Minute,
		HalfOpenCalls:        1,
	}, logger)
	policy := resilience.RetryPolicy{MaxAttempts: 3, Wait: time.Millisecond, Multiplier: 1, AttemptTimeout: time.Second}
	return resilience.NewExecutor(tokens, registry, policy, logger)
}

func TestExecute_PassesTokenToCall(t *testing.T) {
	exec := newExecutor(&mocks.MockTokenProvider{})

	got, err := resilience.Execute(context.Background(), exec, "bank-a", func(ctx context.Context, token domain.Token) (string, error) {
		return token.Value, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "token-bank-a", got)
}

func TestExecute_AuthFailureSkipsCall(t *testing.T) {
	tokens := &mocks.MockTokenProvider{
		GetTokenFn: func(ctx context.Context, registrationID string) (domain.Token, error) {
			return domain.Token{}, &domain.AuthError{RegistrationID: registrationID, Err: errors.New("invalid_client")}
		},
	}
	exec := newExecutor(tokens)

	var calls atomic.Int32
	_, err := resilience.Execute(context.Background(), exec, "bank-a", func(ctx context.Context, token domain.Token) (string, error) {
		calls.Add(1)
		return "", nil
	})

	var authErr *domain.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, exec.Breakers().Snapshots())
}

func TestExecute_OpenCircuitFailsFast(t *testing.T) {
	exec := newExecutor(&mocks.MockTokenProvider{})

	failing := func(ctx context.Context, token domain.Token) (string, error) {
		return "", &domain.TransientUpstreamError{StatusCode: 503, Err: errors.New("down")}
	}
	for i := 0; i < 2; i++ {
		_, err := resilience.Execute(context.Background(), exec, "bank-a", failing)
		require.Error(t, err)
	}
	require.Equal(t, resilience.StateOpen, exec.Breakers().Get("bank-a").State())

	var calls atomic.Int32
	_, err := resilience.Execute(context.Background(), exec, "bank-a", func(ctx context.Context, token domain.Token) (string, error) {
		calls.Add(1)
		return "ok", nil
	})

	var open *domain.CircuitOpenError
	require.True(t, errors.As(err, &open))
	assert.Equal(t, int32(0), calls.Load())

	// Other participants are unaffected.
	got, err := resilience.Execute(context.Background(), exec, "bank-b", func(ctx context.Context, token domain.Token) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestExecute_PermanentErrorsDoNotTripCircuit(t *testing.T) {
	exec := newExecutor(&mocks.MockTokenProvider{})

	for i := 0; i < 5; i++ {
		_, err := resilience.Execute(context.Background(), exec, "bank-a", func(ctx context.Context, token domain.Token) (string, error) {
			return "", &domain.PermanentUpstreamError{StatusCode: 404, Code: "not_found", Err: errors.New("missing")}
		})
		require.Error(t, err)
	}

	assert.Equal(t, resilience.StateClosed, exec.Breakers().Get("bank-a").State())
}

func TestExecute_UnauthorizedInvalidatesToken(t *testing.T) {
	tokens := &mocks.MockTokenProvider{}
	exec := newExecutor(tokens)

	_, err := resilience.Execute(context.Background(), exec, "bank-a", func(ctx context.Context, token domain.Token) (string, error) {
		return "", &domain.PermanentUpstreamError{StatusCode: 401, Code: "unauthorized", Err: errors.New("token expired")}
	})

	require.Error(t, err)
	assert.Equal(t, []string{"bank-a"}, tokens.Invalidated)
}

func TestExecute_RegistrationMapping(t *testing.T) {
	var requested string
	tokens := &mocks.MockTokenProvider{
		GetTokenFn: func(ctx context.Context, registrationID string) (domain.Token, error) {
			requested = registrationID
			return domain.Token{RegistrationID: registrationID, Value: "t"}, nil
		},
	}
	logger := slog.New(slog.DiscardHandler)
	exec := resilience.NewExecutor(tokens,
		resilience.NewRegistry(resilience.Settings{SlidingWindowSize: 10, MinimumCalls: 5, FailureRateThreshold: 50, OpenWait: time.Second, HalfOpenCalls: 1}, logger),
		resilience.RetryPolicy{MaxAttempts: 1},
		logger,
		resilience.WithRegistrationMapping(func(participantID string) string { return "reg-" + participantID }),
	)

	_, err := resilience.Execute(context.Background(), exec, "bank-a", func(ctx context.Context, token domain.Token) (int, error) {
		return 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "reg-bank-a", requested)
}
