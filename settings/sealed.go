package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/live-ingest/crypto"
)

// IsSecret reports whether key holds a credential. Secret keys end in
// ".refresh_token" or ".access_token".
func IsSecret(key string) bool {
	return strings.HasSuffix(key, ".refresh_token") || strings.HasSuffix(key, ".access_token")
}

// Sealed encrypts secret keys before they reach the underlying store.
// Plaintext secrets written before encryption was enabled are still readable;
// cmd/seal-settings rewrites them.
type Sealed struct {
	inner Store
	enc   crypto.Encryptor
}

// NewSealed wraps inner. A nil encryptor makes Sealed a pass-through.
func NewSealed(inner Store, enc crypto.Encryptor) *Sealed {
	return &Sealed{inner: inner, enc: enc}
}

func (s *Sealed) Get(ctx context.Context, key string) (string, error) {
	v, err := s.inner.Get(ctx, key)
	if err != nil || s.enc == nil {
		return v, err
	}
	if !crypto.IsSealed(v) {
		if IsSecret(key) && v != "" {
			slog.Warn("secret setting stored in plaintext", slog.String("key", key), slog.String("component", "settings"))
		}
		return v, nil
	}
	plain, err := crypto.Open(s.enc, v)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	return plain, nil
}

func (s *Sealed) Set(ctx context.Context, key, value string) error {
	if s.enc != nil && IsSecret(key) {
		sealed, err := crypto.Seal(s.enc, value)
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		value = sealed
	}
	return s.inner.Set(ctx, key, value)
}

func (s *Sealed) Delete(ctx context.Context, key string) error { return s.inner.Delete(ctx, key) }

// PlaintextSecrets lists the secret keys in store that are not sealed.
func PlaintextSecrets(ctx context.Context, store Store) ([]string, error) {
	l, ok := store.(Lister)
	if !ok {
		return nil, fmt.Errorf("store %T cannot list keys", store)
	}
	keys, err := l.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if !IsSecret(k) {
			continue
		}
		v, err := store.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		if v != "" && !crypto.IsSealed(v) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Reseal rewrites every plaintext secret key in sealed form. It returns the
// number of keys rewritten.
func (s *Sealed) Reseal(ctx context.Context) (int, error) {
	if s.enc == nil {
		return 0, fmt.Errorf("no encryption key configured")
	}
	keys, err := PlaintextSecrets(ctx, s.inner)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		v, err := s.inner.Get(ctx, k)
		if err != nil {
			return i, fmt.Errorf("read %s: %w", k, err)
		}
		if err := s.Set(ctx, k, v); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}
