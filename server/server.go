// Package server exposes the admin HTTP surface of the ingest service:
// health and readiness probes, per-provider pipeline status, Prometheus
// metrics, a Server-Sent Events stream of canonical events, pipeline
// control and the YouTube consent routes. Every request gets a correlation
// id and a span.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/live-ingest/oauth"
	"github.com/onnwee/live-ingest/telemetry"
)

// Deps are the collaborators NewMux routes to.
type Deps struct {
	Runner Controller
	Hub    *Hub
	// Auth serves the consent routes; nil when YouTube is not configured.
	Auth   *oauth.Loopback
	Checks []Check
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter's sweep goroutine.
func NewMux(ctx context.Context, d Deps) http.Handler {
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()

	h := NewHandlers(d.Runner, d.Hub, d.Checks...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/events", h.HandleEvents)

	if d.Auth != nil {
		// start mints a state entry per call, so it shares the admin limiter
		mux.Handle(oauth.StartPath, rateLimitMiddleware(http.HandlerFunc(d.Auth.HandleStart), limiter))
		mux.HandleFunc(oauth.CallbackPath, d.Auth.HandleCallback)
	}

	admin := http.NewServeMux()
	admin.HandleFunc("/admin/connect", h.HandleAdminConnect)
	admin.HandleFunc("/admin/disconnect", h.HandleAdminDisconnect)
	admin.HandleFunc("/admin/ingestion", h.HandleAdminIngestion)
	mux.Handle("/admin/", adminAuth(rateLimitMiddleware(admin, limiter), authCfg))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+route(r.URL.Path),
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route(r.URL.Path)),
		)
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.statusCode))
		var err error
		if rec.statusCode >= 400 {
			err = fmt.Errorf("HTTP %d", rec.statusCode)
		}
		telemetry.EndSpan(span, err)
	})
	return withCORSConfig(handler, corsCfg)
}

// route collapses unknown paths so span names stay low-cardinality.
func route(path string) string {
	switch path {
	case "/metrics", "/healthz", "/readyz", "/status", "/events",
		"/admin/connect", "/admin/disconnect", "/admin/ingestion",
		oauth.StartPath, oauth.CallbackPath:
		return path
	}
	return "other"
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Start serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err), slog.String("component", "http"))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err), slog.String("component", "http"))
		return err
	}
	return nil
}
