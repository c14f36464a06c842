package participant_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/adapters/participant"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/resilience"
	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/DanielPopoola/openbanking-sync/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(url string) *participant.HTTPClient {
	return participant.NewHTTPClient(config.ParticipantConfig{BaseURL: url, Timeout: 5 * time.Second})
}

func token() domain.Token {
	return domain.Token{RegistrationID: "bank-a", Value: "abc123"}
}

func TestHTTPClient_FetchSubject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/participants/bank-a/accounts/acc-1", r.URL.Path)
		assert.Equal(t, "Bearer abc123", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"acc-1","status":"ENABLED","balances":[{"type":"AVAILABLE","amount":12050,"currency":"BRL"}]}`))
	}))
	defer server.Close()

	snapshot, err := newClient(server.URL).FetchSubject(context.Background(), token(), "bank-a", domain.KindAccount, "acc-1")

	require.NoError(t, err)
	assert.Equal(t, "acc-1", snapshot.SubjectID)
	assert.Equal(t, "bank-a", snapshot.ParticipantID)
	assert.Equal(t, domain.KindAccount, snapshot.Kind)
	assert.Equal(t, "ENABLED", snapshot.Status)
	require.Len(t, snapshot.Balances, 1)
	assert.Equal(t, int64(12050), snapshot.Balances[0].Amount)
	assert.JSONEq(t, `{"id":"acc-1","status":"ENABLED","balances":[{"type":"AVAILABLE","amount":12050,"currency":"BRL"}]}`, string(snapshot.Raw))
	assert.False(t, snapshot.FetchedAt.IsZero())
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
		code      string
	}{
		{"server error is transient", http.StatusServiceUnavailable, `{"error":"unavailable","message":"try later"}`, false, ""},
		{"throttled is transient", http.StatusTooManyRequests, ``, false, ""},
		{"not found is permanent", http.StatusNotFound, `{"error":"consent_not_found","message":"unknown consent"}`, true, "consent_not_found"},
		{"unauthorized is permanent", http.StatusUnauthorized, `{"error":"invalid_token","message":"expired"}`, true, "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newClient(server.URL).FetchSubject(context.Background(), token(), "bank-a", domain.KindConsent, "c-1")
			require.Error(t, err)

			var upstream *participant.UpstreamError
			require.True(t, errors.As(err, &upstream))
			assert.Equal(t, tt.status, upstream.StatusCode)

			if tt.permanent {
				var permanent *domain.PermanentUpstreamError
				require.True(t, errors.As(err, &permanent))
				assert.Equal(t, tt.code, permanent.Code)
			} else {
				assert.True(t, domain.IsRetryable(err))
			}
		})
	}
}

func TestHTTPClient_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newClient(url).FetchSubject(context.Background(), token(), "bank-a", domain.KindBalance, "acc-1")

	var transient *domain.TransientUpstreamError
	assert.True(t, errors.As(err, &transient))
}

func TestResilientClient_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"tx-9","status":"BOOKED"}`))
	}))
	defer server.Close()

	logger := slog.New(slog.DiscardHandler)
	exec := resilience.NewExecutor(
		&mocks.MockTokenProvider{},
		resilience.NewRegistry(resilience.Settings{SlidingWindowSize: 50, MinimumCalls: 20, FailureRateThreshold: 40, OpenWait: time.Minute, HalfOpenCalls: 5}, logger),
		resilience.RetryPolicy{MaxAttempts: 3, Wait: time.Millisecond, Multiplier: 1, AttemptTimeout: time.Second},
		logger,
	)
	client := participant.NewResilientClient(newClient(server.URL), exec)

	snapshot, err := client.FetchSubject(context.Background(), "bank-a", domain.KindTransaction, "tx-9")

	require.NoError(t, err)
	assert.Equal(t, "BOOKED", snapshot.Status)
	assert.Equal(t, int32(3), calls.Load())
}
