package youtubeapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/live-ingest/config"
	"github.com/onnwee/live-ingest/connection"
	"github.com/onnwee/live-ingest/settings"
	"github.com/onnwee/live-ingest/testutil"
)

func testService(t *testing.T, mock *testutil.MockYouTubeServer) (*Service, *settings.TokenStore) {
	t.Helper()
	store := settings.NewTokenStore(settings.NewMemory(), "youtube")
	svc := New(&config.Config{YTClientID: "id", YTClientSecret: "secret", YTLoopbackPort: 8914}, store)
	svc.oauth.Endpoint = mock.OAuthEndpoint()
	return svc, store
}

func TestNewScopes(t *testing.T) {
	tests := []struct {
		name   string
		scopes string
		want   []string
	}{
		{name: "default", scopes: "", want: []string{defaultScope}},
		{name: "short name", scopes: "youtube.readonly", want: []string{"https://www.googleapis.com/auth/youtube.readonly"}},
		{name: "comma separated", scopes: "youtube.readonly,https://www.googleapis.com/auth/youtube", want: []string{
			"https://www.googleapis.com/auth/youtube.readonly", "https://www.googleapis.com/auth/youtube",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(&config.Config{YTScopes: tt.scopes, YTLoopbackPort: 9000}, nil)
			got := svc.Config().Scopes
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Fatalf("scopes = %q, want %q", got, tt.want)
			}
			if svc.Config().RedirectURL != "http://127.0.0.1:9000/auth/youtube/callback" {
				t.Errorf("redirect = %q", svc.Config().RedirectURL)
			}
		})
	}
}

func TestAuthCodeURLRequestsOfflineAccess(t *testing.T) {
	svc := New(&config.Config{YTClientID: "id", YTLoopbackPort: 8914}, nil)
	u := svc.AuthCodeURL("state123")
	for _, want := range []string{"access_type=offline", "prompt=consent", "state=state123", "client_id=id"} {
		if !strings.Contains(u, want) {
			t.Errorf("auth url %q missing %q", u, want)
		}
	}
}

func TestExchangePersistsRefreshToken(t *testing.T) {
	mock := testutil.NewMockYouTubeServer(t)
	mock.MockOAuthTokenResponse("access-1", "refresh-1", 3600)
	svc, store := testService(t, mock)
	ctx := context.Background()

	if svc.Authorized(ctx) {
		t.Fatal("authorized before exchange")
	}
	tok, err := svc.Exchange(ctx, "code")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if tok.AccessToken != "access-1" {
		t.Errorf("access token = %q", tok.AccessToken)
	}
	stored, err := store.Load(ctx)
	if err != nil || stored.RefreshToken != "refresh-1" {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
	// the exchanged token is fresh: no refresh call needed
	before := mock.Calls(testutil.TokenPath)
	if tok, err := svc.Token(); err != nil || tok.AccessToken != "access-1" {
		t.Fatalf("Token = %+v, %v", tok, err)
	}
	if mock.Calls(testutil.TokenPath) != before {
		t.Error("valid token was refreshed")
	}
}

func TestTokenRefreshesFromStoredRefreshToken(t *testing.T) {
	mock := testutil.NewMockYouTubeServer(t)
	mock.MockOAuthTokenResponse("access-2", "", 3600)
	svc, store := testService(t, mock)
	ctx := context.Background()
	if err := store.Save(ctx, testutil.Token("stored-rt")); err != nil {
		t.Fatal(err)
	}

	tok, err := svc.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "access-2" {
		t.Fatalf("access = %q", tok.AccessToken)
	}
	if _, err := svc.Token(); err != nil {
		t.Fatal(err)
	}
	if n := mock.Calls(testutil.TokenPath); n != 1 {
		t.Fatalf("token endpoint called %d times, want 1", n)
	}
	// a refresh that does not rotate the refresh token keeps the stored one
	if stored, _ := store.Load(ctx); stored.RefreshToken != "stored-rt" {
		t.Fatalf("stored refresh token = %q", stored.RefreshToken)
	}
}

func TestTokenRefreshedProactivelyNearExpiry(t *testing.T) {
	mock := testutil.NewMockYouTubeServer(t)
	// 60s lifetime is inside the two minute refresh lead
	mock.MockOAuthTokenResponse("short-lived", "", 60)
	svc, store := testService(t, mock)
	_ = store.Save(context.Background(), testutil.Token("rt"))

	for i := 0; i < 3; i++ {
		if _, err := svc.Token(); err != nil {
			t.Fatal(err)
		}
	}
	if n := mock.Calls(testutil.TokenPath); n != 3 {
		t.Fatalf("token endpoint called %d times, want 3", n)
	}
}

func TestForceRefresh(t *testing.T) {
	mock := testutil.NewMockYouTubeServer(t)
	mock.MockOAuthTokenResponse("a", "", 3600)
	svc, store := testService(t, mock)
	_ = store.Save(context.Background(), testutil.Token("rt"))

	if _, err := svc.Token(); err != nil {
		t.Fatal(err)
	}
	if err := svc.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	if n := mock.Calls(testutil.TokenPath); n != 2 {
		t.Fatalf("token endpoint called %d times, want 2", n)
	}
}

func TestTokenErrors(t *testing.T) {
	t.Run("not authorized", func(t *testing.T) {
		mock := testutil.NewMockYouTubeServer(t)
		svc, _ := testService(t, mock)
		_, err := svc.Token()
		if !errors.Is(err, ErrNotAuthorized) || connection.Classify(err) != connection.ClassAuth {
			t.Fatalf("err = %v, class %v", err, connection.Classify(err))
		}
	})
	t.Run("refresh rejected", func(t *testing.T) {
		mock := testutil.NewMockYouTubeServer(t)
		mock.Handle(testutil.TokenPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
		})
		svc, store := testService(t, mock)
		_ = store.Save(context.Background(), testutil.Token("revoked"))
		_, err := svc.Token()
		if connection.Classify(err) != connection.ClassAuth {
			t.Fatalf("class = %v, want auth (err %v)", connection.Classify(err), err)
		}
	})
	t.Run("token endpoint down", func(t *testing.T) {
		mock := testutil.NewMockYouTubeServer(t)
		mock.Handle(testutil.TokenPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		svc, store := testService(t, mock)
		_ = store.Save(context.Background(), testutil.Token("rt"))
		_, err := svc.Token()
		if err == nil || connection.Classify(err) != connection.ClassTransient {
			t.Fatalf("class = %v, want transient (err %v)", connection.Classify(err), err)
		}
	})
}

func TestRevoke(t *testing.T) {
	mock := testutil.NewMockYouTubeServer(t)
	svc, store := testService(t, mock)
	ctx := context.Background()
	_ = store.Save(ctx, testutil.Token("rt"))
	if !svc.Authorized(ctx) {
		t.Fatal("not authorized with a stored token")
	}
	if err := svc.Revoke(ctx); err != nil {
		t.Fatal(err)
	}
	if svc.Authorized(ctx) {
		t.Fatal("still authorized after Revoke")
	}
}

// hangTokenEndpoint makes the token endpoint wait until the client gives up
// or the test ends.
func hangTokenEndpoint(t *testing.T, mock *testutil.MockYouTubeServer) {
	t.Helper()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	mock.Handle(testutil.TokenPath, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
}

func TestForceRefreshHonoursContext(t *testing.T) {
	mock := testutil.NewMockYouTubeServer(t)
	hangTokenEndpoint(t, mock)
	svc, store := testService(t, mock)
	_ = store.Save(context.Background(), testutil.Token("rt"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := svc.ForceRefresh(ctx)
	if err == nil {
		t.Fatal("expected error from an abandoned refresh")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("ForceRefresh returned after %s; context ignored", elapsed)
	}
}

func TestTokenContextHonoursContext(t *testing.T) {
	mock := testutil.NewMockYouTubeServer(t)
	hangTokenEndpoint(t, mock)
	svc, store := testService(t, mock)
	_ = store.Save(context.Background(), testutil.Token("rt"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := svc.TokenContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("TokenContext err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("TokenContext returned after %s", elapsed)
	}
}

func TestForceRefreshWithoutAuthorization(t *testing.T) {
	mock := testutil.NewMockYouTubeServer(t)
	svc, _ := testService(t, mock)
	err := svc.ForceRefresh(context.Background())
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}
