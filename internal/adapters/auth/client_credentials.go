package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
)

// ClientCredentialsIssuer performs the OAuth2 client-credentials grant against
// the identity provider. Each registration is requested with its id as the
// registration_id endpoint parameter.
type ClientCredentialsIssuer struct {
	base       clientcredentials.Config
	httpClient *http.Client

	mu      sync.Mutex
	configs map[string]*clientcredentials.Config
}

func NewClientCredentialsIssuer(cfg config.IdentityConfig, httpClient *http.Client) *ClientCredentialsIssuer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ClientCredentialsIssuer{
		base: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: httpClient,
		configs:    make(map[string]*clientcredentials.Config),
	}
}

func (i *ClientCredentialsIssuer) configFor(registrationID string) *clientcredentials.Config {
	i.mu.Lock()
	defer i.mu.Unlock()

	if c, ok := i.configs[registrationID]; ok {
		return c
	}
	c := i.base
	c.EndpointParams = url.Values{"registration_id": {registrationID}}
	i.configs[registrationID] = &c
	return &c
}

func (i *ClientCredentialsIssuer) IssueToken(ctx context.Context, registrationID string) (domain.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, i.httpClient)

	tok, err := i.configFor(registrationID).Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return domain.Token{}, &domain.AuthError{
				RegistrationID: registrationID,
				Err:            fmt.Errorf("identity provider rejected grant (status %d, %s): %w", retrieveErr.Response.StatusCode, retrieveErr.ErrorCode, err),
			}
		}
		return domain.Token{}, &domain.AuthError{
			RegistrationID: registrationID,
			Err:            fmt.Errorf("identity provider unreachable: %w", err),
		}
	}

	return domain.Token{
		RegistrationID: registrationID,
		Value:          tok.AccessToken,
		ExpiresAt:      tok.Expiry,
	}, nil
}
