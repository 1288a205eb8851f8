// Package youtubeapi is the polling transport for YouTube Live chat: OAuth2
// token handling, a thin client over the Data API and the Poller that feeds
// the ingest queue.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/onnwee/live-ingest/config"
	"github.com/onnwee/live-ingest/connection"
	"github.com/onnwee/live-ingest/settings"
	"github.com/onnwee/live-ingest/telemetry"
)

const (
	provider = "youtube"

	// refreshLead is how long before expiry the access token is replaced.
	refreshLead = 2 * time.Minute
	// refreshTimeout bounds one refresh-token grant.
	refreshTimeout = 15 * time.Second

	defaultScope = "https://www.googleapis.com/auth/youtube.readonly"
)

// ErrNotAuthorized means no refresh token is stored; the user has to go
// through the consent flow.
var ErrNotAuthorized = errors.New("youtube account not authorized")

// TokenStore persists the refresh token. settings.TokenStore satisfies it.
type TokenStore interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, tok *oauth2.Token) error
	Clear(ctx context.Context) error
}

// Service owns the OAuth2 client configuration and the live token source.
// It implements oauth2.TokenSource so HTTP clients built from it always see
// the current credentials, including after a forced refresh.
type Service struct {
	oauth *oauth2.Config
	store TokenStore
	// ctx carries the HTTP client used for token calls
	ctx context.Context

	mu  sync.Mutex
	src oauth2.TokenSource
	ref *refresher
}

// New builds a Service from cfg.
func New(cfg *config.Config, store TokenStore) *Service {
	scopes := []string{defaultScope}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	for i, s := range scopes {
		if !strings.Contains(s, "/") {
			scopes[i] = "https://www.googleapis.com/auth/" + s
		}
	}
	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.YTClientID,
			ClientSecret: cfg.YTClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.YTRedirectURL(),
			Scopes:       scopes,
		},
		store: store,
		ctx:   context.Background(),
	}
}

// Config exposes the OAuth2 client configuration.
func (s *Service) Config() *oauth2.Config { return s.oauth }

// AuthCodeURL returns the consent URL. Offline access with forced approval
// makes Google return a refresh token every time.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and persists the refresh
// token.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(s.httpContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("token response carried no refresh token")
	}
	if err := s.store.Save(ctx, tok); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ref = newRefresher(s, tok.RefreshToken)
	s.src = oauth2.ReuseTokenSourceWithExpiry(tok, s.ref, refreshLead)
	s.mu.Unlock()
	slog.Info("youtube account authorized", slog.Time("expiry", tok.Expiry), slog.String("component", "youtube_oauth"))
	return tok, nil
}

// Token returns a valid access token, refreshing it when it is within
// refreshLead of expiry.
func (s *Service) Token() (*oauth2.Token, error) {
	src, err := s.source(context.Background())
	if err != nil {
		return nil, err
	}
	return src.Token()
}

// TokenContext is Token for callers with a context. It returns as soon as
// ctx ends; a refresh already under way finishes in the background and
// still lands in the cache.
func (s *Service) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	src, err := s.source(ctx)
	if err != nil {
		return nil, err
	}
	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := src.Token()
		ch <- result{tok, err}
	}()
	select {
	case r := <-ch:
		return r.tok, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ForceRefresh mints a new access token on ctx and replaces the cached one.
// Used after the API rejects a token that looked valid.
func (s *Service) ForceRefresh(ctx context.Context) error {
	if _, err := s.source(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	ref := s.ref
	s.mu.Unlock()
	if ref == nil {
		return connection.Classified(connection.ClassAuth, ErrNotAuthorized)
	}

	tok, err := ref.grant(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	// a concurrent Exchange or Revoke wins
	if s.ref == ref {
		s.src = oauth2.ReuseTokenSourceWithExpiry(tok, ref, refreshLead)
	}
	s.mu.Unlock()
	return nil
}

// Authorized reports whether a refresh token is available.
func (s *Service) Authorized(ctx context.Context) bool {
	_, err := s.source(ctx)
	return err == nil
}

// Revoke forgets the stored authorization.
func (s *Service) Revoke(ctx context.Context) error {
	s.mu.Lock()
	s.src, s.ref = nil, nil
	s.mu.Unlock()
	return s.store.Clear(ctx)
}

// HTTPClient returns a client that authenticates every request with the
// current token. Fetching the token honours the request's context.
func (s *Service) HTTPClient() *http.Client {
	return &http.Client{
		Transport: &bearerTransport{svc: s, base: http.DefaultTransport},
		Timeout:   30 * time.Second,
	}
}

type bearerTransport struct {
	svc  *Service
	base http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.svc.TokenContext(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return (&oauth2.Transport{Source: oauth2.StaticTokenSource(tok), Base: t.base}).RoundTrip(req)
}

func (s *Service) source(ctx context.Context) (oauth2.TokenSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src != nil {
		return s.src, nil
	}
	tok, err := s.store.Load(ctx)
	if err != nil {
		if settings.IsNotFound(err) {
			return nil, connection.Classified(connection.ClassAuth, ErrNotAuthorized)
		}
		return nil, fmt.Errorf("load youtube token: %w", err)
	}
	s.ref = newRefresher(s, tok.RefreshToken)
	s.src = oauth2.ReuseTokenSourceWithExpiry(nil, s.ref, refreshLead)
	return s.src, nil
}

func (s *Service) httpContext(ctx context.Context) context.Context {
	if c, ok := s.ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		return context.WithValue(ctx, oauth2.HTTPClient, c)
	}
	return ctx
}

// refresher always performs a refresh-token grant. Caching and early expiry
// are left to the ReuseTokenSource wrapping it. One grant runs at a time;
// sem is a channel so waiting for it can be abandoned.
type refresher struct {
	svc *Service
	sem chan struct{}
	rt  string
}

func newRefresher(svc *Service, rt string) *refresher {
	return &refresher{svc: svc, sem: make(chan struct{}, 1), rt: rt}
}

// Token implements oauth2.TokenSource for callers without a context.
func (r *refresher) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	return r.grant(ctx)
}

func (r *refresher) grant(ctx context.Context) (*oauth2.Token, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.sem }()

	ctx, cancel := context.WithTimeout(r.svc.httpContext(ctx), refreshTimeout)
	defer cancel()

	tok, err := r.svc.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: r.rt}).Token()
	if err != nil {
		telemetry.IncTokenRefresh(provider, "error")
		slog.Warn("youtube token refresh failed", slog.Any("err", err), slog.String("component", "youtube_oauth"))
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && rejected(re) {
			return nil, connection.Classified(connection.ClassAuth, fmt.Errorf("refresh rejected, re-authorization required: %w", err))
		}
		return nil, connection.Classified(connection.ClassTransient, fmt.Errorf("refresh token: %w", err))
	}
	telemetry.IncTokenRefresh(provider, "ok")
	if tok.RefreshToken != "" && tok.RefreshToken != r.rt {
		if err := r.svc.store.Save(ctx, tok); err != nil {
			slog.Warn("persist rotated refresh token failed", slog.Any("err", err), slog.String("component", "youtube_oauth"))
		}
		r.rt = tok.RefreshToken
	}
	slog.Debug("youtube token refreshed", slog.Time("expiry", tok.Expiry), slog.String("component", "youtube_oauth"))
	return tok, nil
}

// rejected reports whether the token endpoint refused the refresh token
// itself, as opposed to failing transiently.
func rejected(re *oauth2.RetrieveError) bool {
	if re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" {
		return true
	}
	return re.Response != nil && (re.Response.StatusCode == http.StatusUnauthorized || re.Response.StatusCode == http.StatusBadRequest)
}
