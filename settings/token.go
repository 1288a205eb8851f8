package settings

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// LastChannelKey is the settings key for provider's last connected channel.
func LastChannelKey(provider string) string { return provider + ".last_channel" }

// RefreshTokenKey is the settings key for provider's OAuth refresh token.
func RefreshTokenKey(provider string) string { return provider + ".refresh_token" }

// TokenStore persists OAuth tokens for one provider. Only the refresh token
// is durable; access tokens are re-minted after a restart.
type TokenStore struct {
	store    Store
	provider string
}

func NewTokenStore(store Store, provider string) *TokenStore {
	return &TokenStore{store: store, provider: provider}
}

// Load returns a token holding only the stored refresh token, or
// ErrNotFound when the provider was never authorized.
func (t *TokenStore) Load(ctx context.Context) (*oauth2.Token, error) {
	rt, err := t.store.Get(ctx, RefreshTokenKey(t.provider))
	if err != nil {
		return nil, err
	}
	if rt == "" {
		return nil, ErrNotFound
	}
	return &oauth2.Token{RefreshToken: rt}, nil
}

// Save persists tok's refresh token. Tokens without one (a refresh that did
// not rotate it) leave the stored value alone.
func (t *TokenStore) Save(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil || tok.RefreshToken == "" {
		return nil
	}
	if err := t.store.Set(ctx, RefreshTokenKey(t.provider), tok.RefreshToken); err != nil {
		return fmt.Errorf("persist %s refresh token: %w", t.provider, err)
	}
	return nil
}

// Clear forgets the stored token, forcing re-authorization.
func (t *TokenStore) Clear(ctx context.Context) error {
	return t.store.Delete(ctx, RefreshTokenKey(t.provider))
}

// Authorized reports whether a refresh token is stored.
func (t *TokenStore) Authorized(ctx context.Context) bool {
	_, err := t.Load(ctx)
	return err == nil
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
