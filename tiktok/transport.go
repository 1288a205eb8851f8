// Package tiktok is the streaming transport: a websocket to a local broker
// process that relays TikTok LIVE events as JSON frames.
//
// The network goroutine only ever writes to the queue. Losing the socket is
// reported by enqueuing a synthetic _disconnected frame, which the tick
// goroutine turns into a state machine failure.
package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/live-ingest/connection"
	"github.com/onnwee/live-ingest/event"
	"github.com/onnwee/live-ingest/normalize"
	"github.com/onnwee/live-ingest/queue"
	"github.com/onnwee/live-ingest/telemetry"
)

const (
	DefaultBrokerURL    = "ws://127.0.0.1:21213/"
	DefaultDialAttempts = 5
	DefaultDialDelay    = time.Second
)

// Config holds the broker connection settings.
type Config struct {
	URL          string
	DialAttempts int
	DialDelay    time.Duration
}

type connectCommand struct {
	Command  string `json:"command"`
	Username string `json:"username"`
}

// Transport implements connection.Transport for TikTok.
type Transport struct {
	cfg    Config
	queue  *queue.Queue
	broker *Broker
	dialer *websocket.Dialer
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   *websocket.Conn
	done   chan struct{}

	// set when the last attempt could not reach the broker; the next Start
	// relaunches it first
	suspect atomic.Bool
}

// New returns a Transport writing to q. broker may be nil when the broker is
// run externally.
func New(cfg Config, q *queue.Queue, broker *Broker) *Transport {
	if cfg.URL == "" {
		cfg.URL = DefaultBrokerURL
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = DefaultDialAttempts
	}
	if cfg.DialDelay <= 0 {
		cfg.DialDelay = DefaultDialDelay
	}
	return &Transport{
		cfg:    cfg,
		queue:  q,
		broker: broker,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		now:    time.Now,
	}
}

// Start launches the connect sequence in the background.
func (t *Transport) Start(creds connection.Credentials) error {
	u, err := url.Parse(t.cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return connection.Classified(connection.ClassFatal, fmt.Errorf("invalid broker url %q", t.cfg.URL))
	}
	t.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel, t.done = cancel, done
	t.mu.Unlock()

	go func() {
		defer close(done)
		t.run(ctx, creds.Channel)
	}()
	return nil
}

// Stop cancels the connect sequence, closes the socket and waits for the
// reader to exit. The broker keeps running.
func (t *Transport) Stop() {
	t.mu.Lock()
	cancel, conn, done := t.cancel, t.conn, t.done
	t.cancel, t.conn, t.done = nil, nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close() // unblocks ReadMessage
	}
	<-done
}

// Close stops the transport and the supervised broker.
func (t *Transport) Close() {
	t.Stop()
	t.broker.Stop()
}

func (t *Transport) run(ctx context.Context, channel string) {
	spanCtx, span := telemetry.StartSpan(ctx, string(event.ProviderTikTok), "tiktok.connect", attribute.String("channel", channel))

	var err error
	if t.suspect.Swap(false) {
		err = t.broker.Restart(spanCtx)
	} else {
		err = t.broker.Ensure(spanCtx)
	}
	if err != nil {
		telemetry.EndSpan(span, err)
		t.lost(ctx, err.Error(), connection.ClassBroker)
		return
	}

	conn, err := t.dial(spanCtx)
	if err != nil {
		telemetry.EndSpan(span, err)
		if ctx.Err() == nil {
			t.suspect.Store(true)
		}
		t.lost(ctx, err.Error(), connection.ClassBroker)
		return
	}
	if !t.attach(ctx, conn) {
		telemetry.EndSpan(span, ctx.Err())
		return
	}

	if err := conn.WriteJSON(connectCommand{Command: "connect", Username: channel}); err != nil {
		telemetry.EndSpan(span, err)
		t.lost(ctx, fmt.Sprintf("send connect command: %v", err), connection.ClassTransient)
		return
	}
	telemetry.EndSpan(span, nil)
	slog.Info("tiktok broker connected", slog.String("channel", channel), slog.String("url", t.cfg.URL), slog.String("component", "tiktok"))

	t.read(ctx, conn)
}

// dial tries the broker DialAttempts times, DialDelay apart.
func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= t.cfg.DialAttempts; attempt++ {
		conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Debug("broker dial failed", slog.Int("attempt", attempt), slog.Any("err", err), slog.String("component", "tiktok"))
		if attempt == t.cfg.DialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.cfg.DialDelay):
		}
	}
	return nil, fmt.Errorf("broker unreachable after %d attempts: %w", t.cfg.DialAttempts, lastErr)
}

// attach publishes conn so Stop can close it. It reports false (and closes
// conn) when Stop already ran.
func (t *Transport) attach(ctx context.Context, conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	t.conn = conn
	return true
}

func (t *Transport) read(ctx context.Context, conn *websocket.Conn) {
	var frames frameAssembler
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason := err.Error()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "broker closed the connection"
			}
			t.lost(ctx, reason, connection.ClassTransient)
			return
		}
		for _, f := range frames.Feed(data) {
			t.queue.Enqueue(f, t.now())
		}
	}
}

// lost enqueues a _disconnected marker unless the loss was caused by Stop.
func (t *Transport) lost(ctx context.Context, reason string, class connection.ErrorClass) {
	if ctx.Err() != nil {
		return
	}
	slog.Warn("tiktok connection lost", slog.String("reason", reason), slog.String("class", class.String()), slog.String("component", "tiktok"))
	t.queue.Enqueue(DisconnectedFrame(reason, class), t.now())
}

type lossData struct {
	Reason string `json:"reason"`
	Class  string `json:"class"`
}

type lossFrame struct {
	Type string   `json:"type"`
	Data lossData `json:"data"`
}

// DisconnectedFrame encodes the synthetic transport-loss frame.
func DisconnectedFrame(reason string, class connection.ErrorClass) []byte {
	b, _ := json.Marshal(lossFrame{Type: normalize.DisconnectedTag, Data: lossData{Reason: reason, Class: class.String()}})
	return b
}
