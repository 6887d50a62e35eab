package wns

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-dispatch/internal/storage/cache"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultAuthURL = "https://login.live.com/accesstoken.srf"
	scope          = "notify.windows.com"

	// tokens are dropped from the cache this long before they expire
	expiryMargin = time.Minute
)

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

// Authenticator exchanges client credentials for access tokens. With a cache it
// reuses a token until shortly before it expires.
type Authenticator struct {
	authURL    string
	httpClient *http.Client
	cache      cache.Client
	logger     *slog.Logger
}

// NewAuthenticator creates an Authenticator. tokens may be nil to disable caching.
func NewAuthenticator(authURL string, httpClient *http.Client, tokens cache.Client, logger *slog.Logger) *Authenticator {
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Authenticator{
		authURL:    authURL,
		httpClient: httpClient,
		cache:      tokens,
		logger:     logger.With("component", "WNSAuthenticator"),
	}
}

// AccessToken returns a bearer token for the client credentials.
func (a *Authenticator) AccessToken(ctx context.Context, clientID, clientSecret string) (string, error) {
	load := func(ctx context.Context) (cachedToken, error) {
		return a.exchange(ctx, clientID, clientSecret)
	}
	if a.cache == nil {
		tok, err := load(ctx)
		return tok.AccessToken, err
	}

	ttl := func(t cachedToken) time.Duration {
		if t.Expiry.IsZero() {
			return 0
		}
		return time.Until(t.Expiry) - expiryMargin
	}
	tok, err := cache.ReadAside(ctx, a.cache, tokenKey(clientID, clientSecret), load, ttl)
	return tok.AccessToken, err
}

// Invalidate drops a cached token, used after WNS rejects it.
func (a *Authenticator) Invalidate(ctx context.Context, clientID, clientSecret string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Del(ctx, tokenKey(clientID, clientSecret)); err != nil {
		a.logger.Warn("Failed to drop cached WNS token", "client_id", clientID, "err", err)
	}
}

// tokenKey binds a cached token to the exact credentials that obtained it.
func tokenKey(clientID, clientSecret string) string {
	sum := sha256.Sum256([]byte(clientSecret))
	return "wns:oauth:" + clientID + ":" + hex.EncodeToString(sum[:])
}

func (a *Authenticator) exchange(ctx context.Context, clientID, clientSecret string) (cachedToken, error) {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     a.authURL,
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, a.httpClient))
	if err != nil {
		a.logger.Error("WNS token exchange failed", "client_id", clientID, "err", err)
		return cachedToken{}, authError(err)
	}
	return cachedToken{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}

func authError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
		return &notification.AuthError{
			Provider:    provider,
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
			Err:         err,
		}
	}
	return &notification.AuthError{Provider: provider, Err: err}
}
