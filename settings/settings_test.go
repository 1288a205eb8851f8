package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/onnwee/live-ingest/crypto"
)

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	fs, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := fs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if err := fs.Set(ctx, LastChannelKey("tiktok"), "streamer"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := fs.Set(ctx, "drop.me", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := fs.Delete(ctx, "drop.me"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if v, err := reopened.Get(ctx, "tiktok.last_channel"); err != nil || v != "streamer" {
		t.Fatalf("Get after reopen = %q, %v", v, err)
	}
	keys, _ := reopened.Keys(ctx)
	if len(keys) != 1 {
		t.Fatalf("keys = %v, want only the channel", keys)
	}
}

func TestOpenFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSealedEncryptsSecretsOnly(t *testing.T) {
	ctx := context.Background()
	key, _ := crypto.GenerateKey()
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		t.Fatal(err)
	}
	inner := NewMemory()
	s := NewSealed(inner, enc)

	if err := s.Set(ctx, RefreshTokenKey("youtube"), "1//refresh"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, LastChannelKey("youtube"), "video123"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, _ := inner.Get(ctx, "youtube.refresh_token")
	if !crypto.IsSealed(raw) || strings.Contains(raw, "1//refresh") {
		t.Fatalf("refresh token stored as %q", raw)
	}
	if raw, _ := inner.Get(ctx, "youtube.last_channel"); raw != "video123" {
		t.Fatalf("channel stored as %q, want plaintext", raw)
	}
	if v, err := s.Get(ctx, "youtube.refresh_token"); err != nil || v != "1//refresh" {
		t.Fatalf("Get = %q, %v", v, err)
	}
}

func TestSealedReseal(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	_ = inner.Set(ctx, "youtube.refresh_token", "plain-rt")
	_ = inner.Set(ctx, "tiktok.last_channel", "someone")

	key, _ := crypto.GenerateKey()
	enc, _ := crypto.NewAESEncryptor(key)
	s := NewSealed(inner, enc)

	// readable before migration
	if v, _ := s.Get(ctx, "youtube.refresh_token"); v != "plain-rt" {
		t.Fatalf("plaintext secret unreadable: %q", v)
	}
	n, err := s.Reseal(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Reseal = %d, %v; want 1", n, err)
	}
	if raw, _ := inner.Get(ctx, "youtube.refresh_token"); !crypto.IsSealed(raw) {
		t.Fatalf("secret not sealed after Reseal: %q", raw)
	}
	if n, _ := s.Reseal(ctx); n != 0 {
		t.Fatalf("second Reseal rewrote %d keys", n)
	}
	if _, err := NewSealed(inner, nil).Reseal(ctx); err == nil {
		t.Fatal("Reseal without a key should fail")
	}
}

func TestTokenStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTokenStore(NewMemory(), "youtube")

	if _, err := ts.Load(ctx); !IsNotFound(err) {
		t.Fatalf("Load on empty store err = %v", err)
	}
	if ts.Authorized(ctx) {
		t.Fatal("empty store reports authorized")
	}
	if err := ts.Save(ctx, &oauth2.Token{AccessToken: "at", RefreshToken: "rt"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// a refresh that does not rotate the refresh token keeps the old one
	if err := ts.Save(ctx, &oauth2.Token{AccessToken: "at2"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tok, err := ts.Load(ctx)
	if err != nil || tok.RefreshToken != "rt" || tok.AccessToken != "" {
		t.Fatalf("Load = %+v, %v", tok, err)
	}
	if err := ts.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ts.Authorized(ctx) {
		t.Fatal("still authorized after Clear")
	}
}
