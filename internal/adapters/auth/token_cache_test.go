package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

type stubIssuer struct {
	calls   atomic.Int32
	release chan struct{}
	issueFn func(ctx context.Context, registrationID string) (domain.Token, error)
}

func (s *stubIssuer) IssueToken(ctx context.Context, registrationID string) (domain.Token, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	return s.issueFn(ctx, registrationID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestTokenCache_ReusesTokenUntilMargin(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var n atomic.Int32
	issuer := &stubIssuer{issueFn: func(ctx context.Context, id string) (domain.Token, error) {
		v := n.Add(1)
		return domain.Token{Value: "tok-" + string(rune('0'+v)), ExpiresAt: now.Add(5 * time.Minute)}, nil
	}}
	cache := NewTokenCache(issuer, 30*time.Second, discardLogger(), WithClock(clock))

	first, err := cache.GetToken(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.Equal(t, "reg-1", first.RegistrationID)

	again, err := cache.GetToken(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.Equal(t, first.Value, again.Value)
	assert.Equal(t, int32(1), issuer.calls.Load())

	// inside the expiry margin the token is refreshed
	now = now.Add(4*time.Minute + 31*time.Second)
	refreshed, err := cache.GetToken(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, refreshed.Value)
	assert.Equal(t, int32(2), issuer.calls.Load())
}

func TestTokenCache_SingleFlightRefresh(t *testing.T) {
	issuer := &stubIssuer{
		release: make(chan struct{}),
		issueFn: func(ctx context.Context, id string) (domain.Token, error) {
			return domain.Token{Value: "shared", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	cache := NewTokenCache(issuer, time.Second, discardLogger())

	const callers = 25
	var wg sync.WaitGroup
	results := make([]domain.Token, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetToken(context.Background(), "reg-1")
		}(i)
	}

	require.Eventually(t, func() bool { return issuer.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(issuer.release)
	wg.Wait()

	assert.Equal(t, int32(1), issuer.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].Value)
	}
}

func TestTokenCache_FailurePropagatesAndIsNotCached(t *testing.T) {
	fail := true
	issuer := &stubIssuer{issueFn: func(ctx context.Context, id string) (domain.Token, error) {
		if fail {
			return domain.Token{}, errors.New("dial tcp: connection refused")
		}
		return domain.Token{Value: "ok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	cache := NewTokenCache(issuer, time.Second, discardLogger())

	_, err := cache.GetToken(context.Background(), "reg-1")
	require.Error(t, err)
	var authErr *domain.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "reg-1", authErr.RegistrationID)

	fail = false
	tok, err := cache.GetToken(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", tok.Value)
	assert.Equal(t, int32(2), issuer.calls.Load())
}

func TestTokenCache_Invalidate(t *testing.T) {
	issuer := &stubIssuer{issueFn: func(ctx context.Context, id string) (domain.Token, error) {
		return domain.Token{Value: "v", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	cache := NewTokenCache(issuer, time.Second, discardLogger())

	_, err := cache.GetToken(context.Background(), "reg-1")
	require.NoError(t, err)
	cache.Invalidate("reg-1")
	_, err = cache.GetToken(context.Background(), "reg-1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), issuer.calls.Load())
}
