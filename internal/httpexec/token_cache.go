package httpexec

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
)

// TokenCache caches OAuth2 client-credentials token sources keyed by
// (tenant, client id). The oauth2 token source handles refresh and expiry;
// the cache only prevents one source per request.
type TokenCache struct {
	mu      sync.Mutex
	sources map[string]oauthSource
}

type oauthSource interface {
	token(ctx context.Context) (string, error)
}

type clientCredentialsSource struct {
	ts oauth2.TokenSource
}

func (s *clientCredentialsSource) token(context.Context) (string, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// NewTokenCache creates an empty TokenCache.
func NewTokenCache() *TokenCache {
	return &TokenCache{sources: make(map[string]oauthSource)}
}

// Token returns a valid bearer token for the given auth config, acquiring or
// refreshing it as needed.
func (c *TokenCache) Token(ctx context.Context, tenantID string, auth hub.AuthConfig) (string, error) {
	if auth.TokenURL == "" || auth.ClientID == "" {
		return "", fmt.Errorf("oauth2 auth config is missing token_url or client_id")
	}

	key := tenantID + ":" + auth.ClientID

	c.mu.Lock()
	src, ok := c.sources[key]
	if !ok {
		cfg := &clientcredentials.Config{
			TokenURL:     auth.TokenURL,
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			Scopes:       auth.Scopes,
		}
		// The reuse token source behind TokenSource caches the bearer token
		// until it expires.
		src = &clientCredentialsSource{ts: cfg.TokenSource(context.Background())}
		c.sources[key] = src
	}
	c.mu.Unlock()

	return src.token(ctx)
}
