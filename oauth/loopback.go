package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	// StartPath redirects the browser to the consent page.
	StartPath = "/auth/youtube/start"
	// CallbackPath is where the provider redirects after consent.
	CallbackPath = "/auth/youtube/callback"
)

const stateTTL = 10 * time.Minute

// ErrInvalidState is returned for callbacks whose state was never issued or
// has expired.
var ErrInvalidState = errors.New("invalid or expired oauth state")

// Exchanger is the provider side of the flow. youtubeapi.Service satisfies it.
type Exchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Loopback runs the authorization-code flow against a redirect to a local
// listener. Its handlers can be mounted on the admin server or served by
// Authorize on the fixed loopback port.
type Loopback struct {
	ex  Exchanger
	now func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
	waiter chan error
}

func NewLoopback(ex Exchanger) *Loopback {
	return &Loopback{ex: ex, now: time.Now, states: make(map[string]time.Time)}
}

// Begin issues a state and returns the consent URL carrying it.
func (l *Loopback) Begin() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	st := hex.EncodeToString(b)
	now := l.now()
	l.mu.Lock()
	for k, exp := range l.states {
		if now.After(exp) {
			delete(l.states, k)
		}
	}
	l.states[st] = now.Add(stateTTL)
	l.mu.Unlock()
	return l.ex.AuthCodeURL(st), nil
}

// consume validates and forgets st.
func (l *Loopback) consume(st string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.states[st]
	delete(l.states, st)
	return ok && !l.now().After(exp)
}

// HandleStart redirects the browser to the consent page.
func (l *Loopback) HandleStart(w http.ResponseWriter, r *http.Request) {
	u, err := l.Begin()
	if err != nil {
		http.Error(w, "state generation failed", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// HandleCallback completes the flow: it checks the state, exchanges the
// code and reports the outcome to a pending Authorize.
func (l *Loopback) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		err := fmt.Errorf("authorization denied: %s", e)
		l.finish(err)
		writePage(w, http.StatusBadRequest, "Authorization failed", err.Error())
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !l.consume(st) {
		http.Error(w, ErrInvalidState.Error(), http.StatusBadRequest)
		return
	}
	if _, err := l.ex.Exchange(r.Context(), code); err != nil {
		slog.Error("oauth code exchange failed", slog.Any("err", err), slog.String("component", "oauth"))
		l.finish(err)
		writePage(w, http.StatusBadGateway, "Authorization failed", err.Error())
		return
	}
	l.finish(nil)
	writePage(w, http.StatusOK, "Authorized", "You can close this window.")
}

// Handler serves StartPath and CallbackPath, for running the flow on the
// loopback port alongside the admin server.
func (l *Loopback) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(StartPath, l.HandleStart)
	mux.HandleFunc(CallbackPath, l.HandleCallback)
	return mux
}

func (l *Loopback) finish(err error) {
	l.mu.Lock()
	w := l.waiter
	l.waiter = nil
	l.mu.Unlock()
	if w != nil {
		w <- err
	}
}

// Authorize serves the callback on addr (host:port of the registered
// redirect URI), hands the consent URL to show, and blocks until the
// redirect arrives or ctx ends.
func (l *Loopback) Authorize(ctx context.Context, addr string, show func(url string)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	result := make(chan error, 1)
	l.mu.Lock()
	l.waiter = result
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		if l.waiter == result {
			l.waiter = nil
		}
		l.mu.Unlock()
	}()

	srv := &http.Server{Handler: l.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("loopback listener failed", slog.Any("err", err), slog.String("component", "oauth"))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	u, err := l.Begin()
	if err != nil {
		return err
	}
	show(u)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

func writePage(w http.ResponseWriter, status int, title, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<!doctype html><title>%s</title><h1>%s</h1><p>%s</p>", html.EscapeString(title), html.EscapeString(title), html.EscapeString(msg))
}
