package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/onnwee/live-ingest/connection"
	"github.com/onnwee/live-ingest/event"
	"github.com/onnwee/live-ingest/settings"
)

// DefaultTickInterval is the consumer tick period.
const DefaultTickInterval = 100 * time.Millisecond

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrRunnerStopped   = errors.New("runner stopped")
)

// SettingsWriter persists small values. settings.Store satisfies it.
type SettingsWriter interface {
	Set(ctx context.Context, key, value string) error
}

// LastChannelKey is the settings key holding the last channel used for p.
func LastChannelKey(p event.Provider) string { return settings.LastChannelKey(string(p)) }

type request struct {
	fn   func(now time.Time) error
	done chan error
}

// Runner owns every pipeline and drives them from a single goroutine.
type Runner struct {
	interval  time.Duration
	pipelines map[event.Provider]*Pipeline
	order     []event.Provider
	settings  SettingsWriter
	clock     func() time.Time

	requests chan request
	stopped  chan struct{}
	status   atomic.Pointer[[]Status]
}

// NewRunner returns a Runner over pipelines. settings may be nil.
func NewRunner(interval time.Duration, settings SettingsWriter, pipelines ...*Pipeline) *Runner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	r := &Runner{
		interval:  interval,
		pipelines: make(map[event.Provider]*Pipeline, len(pipelines)),
		settings:  settings,
		clock:     time.Now,
		requests:  make(chan request),
		stopped:   make(chan struct{}),
	}
	for _, p := range pipelines {
		r.pipelines[p.Provider()] = p
		r.order = append(r.order, p.Provider())
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	r.publish()
	return r
}

// Run ticks every pipeline until ctx is cancelled, then disconnects them.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.stopped)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	slog.Info("ingest runner started", slog.Duration("interval", r.interval), slog.Int("providers", len(r.order)), slog.String("component", "chat"))
	for {
		select {
		case <-ctx.Done():
			for _, id := range r.order {
				r.pipelines[id].Disconnect()
			}
			r.publish()
			slog.Info("ingest runner stopped", slog.String("component", "chat"))
			return ctx.Err()
		case req := <-r.requests:
			err := req.fn(r.clock())
			r.publish()
			req.done <- err
		case <-ticker.C:
			r.tick(r.clock())
		}
	}
}

func (r *Runner) tick(now time.Time) {
	for _, id := range r.order {
		r.pipelines[id].Tick(now)
	}
	r.publish()
}

func (r *Runner) publish() {
	st := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		st = append(st, r.pipelines[id].Status())
	}
	r.status.Store(&st)
}

// Status returns the snapshot published after the last tick or request.
func (r *Runner) Status() []Status {
	if st := r.status.Load(); st != nil {
		return *st
	}
	return nil
}

// Providers returns the provider ids the runner drives.
func (r *Runner) Providers() []event.Provider { return append([]event.Provider(nil), r.order...) }

// do runs fn on the tick goroutine and waits for its result.
func (r *Runner) do(ctx context.Context, fn func(now time.Time) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case r.requests <- req:
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect requests a new session for provider. On success the channel is
// remembered as the provider's last channel.
func (r *Runner) Connect(ctx context.Context, provider event.Provider, channel string) error {
	p, ok := r.pipelines[provider]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	creds := connection.Credentials{Channel: channel}
	if err := r.do(ctx, func(now time.Time) error { return p.Connect(creds, now) }); err != nil {
		return err
	}
	slog.Info("connect requested", slog.String("provider", string(provider)), slog.String("channel", channel), slog.String("component", "chat"))
	if r.settings != nil {
		if err := r.settings.Set(ctx, LastChannelKey(provider), channel); err != nil {
			slog.Warn("failed to persist last channel", slog.String("provider", string(provider)), slog.Any("err", err), slog.String("component", "chat"))
		}
	}
	return nil
}

// Disconnect drops provider's session.
func (r *Runner) Disconnect(ctx context.Context, provider event.Provider) error {
	p, ok := r.pipelines[provider]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return r.do(ctx, func(time.Time) error {
		p.Disconnect()
		return nil
	})
}

// SetIngestion switches ingestion on or off for every pipeline.
func (r *Runner) SetIngestion(ctx context.Context, on bool) error {
	return r.do(ctx, func(time.Time) error {
		for _, id := range r.order {
			r.pipelines[id].SetIngestion(on)
		}
		slog.Info("ingestion switched", slog.Bool("on", on), slog.String("component", "chat"))
		return nil
	})
}
