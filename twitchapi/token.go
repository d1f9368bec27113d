package twitchapi

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultTokenURL = "https://id.twitch.tv/oauth2/token" //nolint:gosec // G101: OAuth endpoint, not a credential

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// Refresh is handled by the oauth2 package; tokens are reused until near expiry.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // override for tests; defaults to the Twitch id endpoint

	mu  sync.Mutex
	src oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", fmt.Errorf("missing client id/secret for twitch app token")
	}
	ts.mu.Lock()
	if ts.src == nil {
		u := ts.TokenURL
		if u == "" {
			u = defaultTokenURL
		}
		cfg := &clientcredentials.Config{
			ClientID:     ts.ClientID,
			ClientSecret: ts.ClientSecret,
			TokenURL:     u,
			// Twitch expects credentials in the form body, not basic auth.
			AuthStyle: oauth2.AuthStyleInParams,
		}
		ts.src = cfg.TokenSource(context.Background())
	}
	src := ts.src
	ts.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("twitch app token: %w", err)
	}
	return tok.AccessToken, nil
}
