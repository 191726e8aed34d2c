// Package oauth obtains bearer tokens for the registration API with the
// client-credentials grant.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/felixgeelhaar/bulkreg/internal/registration/application"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Default token endpoint settings.
const (
	DefaultTokenURL = "https://auth.bizzabo.com/oauth/token"
	DefaultAudience = "https://api.bizzabo.com/api"
)

// TokenProvider exchanges client credentials for an access token.
type TokenProvider struct {
	tokenURL string
	audience string
	client   *http.Client
	logger   *slog.Logger
}

// Option configures a TokenProvider.
type Option func(*TokenProvider)

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(client *http.Client) Option {
	return func(p *TokenProvider) {
		p.client = client
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *TokenProvider) {
		p.logger = logger
	}
}

// NewTokenProvider creates a provider for the given endpoint and audience.
// Empty values fall back to the defaults.
func NewTokenProvider(tokenURL, audience string, opts ...Option) *TokenProvider {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if audience == "" {
		audience = DefaultAudience
	}
	p := &TokenProvider{
		tokenURL: tokenURL,
		audience: audience,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ application.CredentialProvider = (*TokenProvider)(nil)

// AccessToken performs one token request. Tokens are not cached; every call
// hits the endpoint.
func (p *TokenProvider) AccessToken(ctx context.Context, creds application.Credentials) (string, error) {
	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     p.tokenURL,
		EndpointParams: url.Values{
			"audience":   {p.audience},
			"account_id": {creds.AccountID},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}

	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}

	token, err := cfg.Token(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "token request failed", "token_url", p.tokenURL, "error", err)
		return "", fmt.Errorf("request access token: %w", err)
	}
	return token.AccessToken, nil
}
