// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesReceived   *prometheus.CounterVec // provider
	MessagesDropped    *prometheus.CounterVec // provider
	ParseFailures      *prometheus.CounterVec // provider
	EventsEmitted      *prometheus.CounterVec // provider, kind
	ReconnectAttempts  *prometheus.CounterVec // provider
	CooldownSuppressed *prometheus.CounterVec // provider
	TokenRefreshes     *prometheus.CounterVec // provider, result

	// Histograms (seconds)
	PollDuration *prometheus.HistogramVec // provider, call

	// Gauges
	QueueDepthGauge      *prometheus.GaugeVec // provider
	ConnectionStateGauge *prometheus.GaugeVec // provider; 0=disconnected 1=connecting 2=connected 3=reconnecting
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ingest_messages_received_total", Help: "Raw provider messages accepted into the queue"}, []string{"provider"})
		MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ingest_messages_dropped_total", Help: "Messages discarded by queue overflow or paused ingestion"}, []string{"provider"})
		ParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ingest_parse_failures_total", Help: "Messages skipped because they could not be normalized"}, []string{"provider"})
		EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ingest_events_emitted_total", Help: "Canonical events delivered to the consumer"}, []string{"provider", "kind"})
		ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ingest_reconnect_attempts_total", Help: "Reconnect attempts scheduled after a transport failure"}, []string{"provider"})
		CooldownSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ingest_cooldown_suppressed_total", Help: "Spawn commands suppressed by a viewer cooldown"}, []string{"provider"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ingest_token_refresh_total", Help: "OAuth token refresh attempts by result"}, []string{"provider", "result"})
		PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "ingest_poll_duration_seconds", Help: "Duration of provider API calls", Buckets: prometheus.DefBuckets}, []string{"provider", "call"})
		QueueDepthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "ingest_queue_depth", Help: "Messages waiting in the hand-off queue"}, []string{"provider"})
		ConnectionStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "ingest_connection_state", Help: "Connection state (0=disconnected,1=connecting,2=connected,3=reconnecting)"}, []string{"provider"})
	})
}

func inc(c *prometheus.CounterVec, n int, labels ...string) {
	if c != nil && n > 0 {
		c.WithLabelValues(labels...).Add(float64(n))
	}
}

// AddReceived counts messages accepted into provider's queue.
func AddReceived(provider string, n int) { inc(MessagesReceived, n, provider) }

// AddDropped counts discarded messages.
func AddDropped(provider string, n int) { inc(MessagesDropped, n, provider) }

// IncParseFailure counts one message that failed normalization.
func IncParseFailure(provider string) { inc(ParseFailures, 1, provider) }

// IncEvent counts one emitted canonical event.
func IncEvent(provider, kind string) { inc(EventsEmitted, 1, provider, kind) }

// IncReconnect counts one scheduled reconnect.
func IncReconnect(provider string) { inc(ReconnectAttempts, 1, provider) }

// IncCooldownSuppressed counts one suppressed spawn command.
func IncCooldownSuppressed(provider string) { inc(CooldownSuppressed, 1, provider) }

// IncTokenRefresh counts a refresh attempt; result is "ok" or "error".
func IncTokenRefresh(provider, result string) { inc(TokenRefreshes, 1, provider, result) }

// SetQueueDepth records the current queue length of provider.
func SetQueueDepth(provider string, n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.WithLabelValues(provider).Set(float64(n))
	}
}

// SetConnectionState records the numeric connection state of provider.
func SetConnectionState(provider string, state int) {
	if ConnectionStateGauge != nil {
		ConnectionStateGauge.WithLabelValues(provider).Set(float64(state))
	}
}

// ObservePoll records the duration of one provider API call.
func ObservePoll(provider, call string, d time.Duration) {
	if PollDuration != nil {
		PollDuration.WithLabelValues(provider, call).Observe(d.Seconds())
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation returns ctx with a fresh random correlation id.
func NewCorrelation(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithCorrelation(ctx, id), id
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
