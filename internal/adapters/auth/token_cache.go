package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

// TokenIssuer obtains a fresh token from the identity provider.
type TokenIssuer interface {
	IssueToken(ctx context.Context, registrationID string) (domain.Token, error)
}

// TokenCache keeps one access token per credential registration and refreshes
// it at most once at a time per registration.
type TokenCache struct {
	issuer TokenIssuer
	margin time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]domain.Token
	group   singleflight.Group
}

type Option func(*TokenCache)

func WithClock(now func() time.Time) Option {
	return func(c *TokenCache) {
		c.now = now
	}
}

func NewTokenCache(issuer TokenIssuer, margin time.Duration, logger *slog.Logger, opts ...Option) *TokenCache {
	c := &TokenCache{
		issuer:  issuer,
		margin:  margin,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]domain.Token),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetToken returns the cached token for registrationID, refreshing it when it
// is within the expiry margin. Concurrent callers share one refresh.
func (c *TokenCache) GetToken(ctx context.Context, registrationID string) (domain.Token, error) {
	if tok, ok := c.cached(registrationID); ok {
		return tok, nil
	}

	v, err, shared := c.group.Do(registrationID, func() (interface{}, error) {
		// a refresh that finished between the cache miss and Do already stored a token
		if tok, ok := c.cached(registrationID); ok {
			return tok, nil
		}
		return c.refresh(ctx, registrationID)
	})
	if err != nil {
		return domain.Token{}, err
	}
	if shared {
		c.logger.Debug("joined in-flight token refresh", "registration_id", registrationID)
	}
	return v.(domain.Token), nil
}

func (c *TokenCache) refresh(ctx context.Context, registrationID string) (domain.Token, error) {
	tok, err := c.issuer.IssueToken(ctx, registrationID)
	if err != nil {
		c.Invalidate(registrationID)

		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			return domain.Token{}, err
		}
		return domain.Token{}, &domain.AuthError{RegistrationID: registrationID, Err: err}
	}
	tok.RegistrationID = registrationID

	c.mu.Lock()
	c.entries[registrationID] = tok
	c.mu.Unlock()

	c.logger.Debug("access token refreshed",
		"registration_id", registrationID,
		"expires_at", tok.ExpiresAt)
	return tok, nil
}

func (c *TokenCache) cached(registrationID string) (domain.Token, bool) {
	c.mu.RLock()
	tok, ok := c.entries[registrationID]
	c.mu.RUnlock()

	if !ok {
		return domain.Token{}, false
	}
	if !tok.ValidAt(c.now(), c.margin) {
		c.mu.Lock()
		// only evict the entry we looked at, a concurrent refresh may have replaced it
		if cur, ok := c.entries[registrationID]; ok && cur.Value == tok.Value {
			delete(c.entries, registrationID)
		}
		c.mu.Unlock()
		return domain.Token{}, false
	}
	return tok, true
}

// Invalidate evicts the cached token, forcing the next GetToken to refresh.
func (c *TokenCache) Invalidate(registrationID string) {
	c.mu.Lock()
	delete(c.entries, registrationID)
	c.mu.Unlock()
}
