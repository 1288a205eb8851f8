package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/live-ingest/connection"
	"github.com/onnwee/live-ingest/normalize"
	"github.com/onnwee/live-ingest/queue"
	"github.com/onnwee/live-ingest/telemetry"
)

const (
	DefaultMinInterval    = 2 * time.Second
	DefaultLikesInterval  = 30 * time.Second
	DefaultCallsPerMinute = 60
)

// PollerConfig tunes the poll loops.
type PollerConfig struct {
	// MinInterval is the floor under the server-suggested poll interval.
	MinInterval time.Duration
	// LikesInterval is the period of the like-count loop. Zero disables it.
	LikesInterval time.Duration
	// CallsPerMinute caps Data API calls across both loops.
	CallsPerMinute int
}

// Refresher mints a new access token on demand. *Service satisfies it.
type Refresher interface {
	ForceRefresh(ctx context.Context) error
}

// Poller implements connection.Transport for YouTube: a message loop that
// follows the page cursor at the server's pace, and a slower loop sampling
// the like count. Both loops only write to the queue.
type Poller struct {
	api     ChatAPI
	auth    Refresher
	queue   *queue.Queue
	cfg     PollerConfig
	limiter *rate.Limiter
	now     func() time.Time
	// sleep waits d or until ctx ends; replaced in tests
	sleep func(ctx context.Context, d time.Duration) bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	pmu    sync.Mutex
	paused bool
	wake   chan struct{}
}

// NewPoller returns a poller reading through api. auth may be nil when the
// client is not token-based.
func NewPoller(api ChatAPI, auth Refresher, q *queue.Queue, cfg PollerConfig) *Poller {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.LikesInterval < 0 {
		cfg.LikesInterval = 0
	}
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = DefaultCallsPerMinute
	}
	return &Poller{
		api:     api,
		auth:    auth,
		queue:   q,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.CallsPerMinute)), 2),
		now:     time.Now,
		sleep:   sleepCtx,
		wake:    make(chan struct{}),
	}
}

// Start resolves the live chat of the video named by creds.Channel and
// begins polling in the background.
func (p *Poller) Start(creds connection.Credentials) error {
	p.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.mu.Lock()
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.run(ctx, creds.Channel)
	}()
	return nil
}

// Stop cancels both loops and waits for them to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetPaused suspends polling without dropping the session. It never blocks.
func (p *Poller) SetPaused(paused bool) {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	if p.paused == paused {
		return
	}
	p.paused = paused
	if paused {
		p.wake = make(chan struct{})
		slog.Info("youtube polling paused", slog.String("component", "youtube"))
		return
	}
	close(p.wake)
	slog.Info("youtube polling resumed", slog.String("component", "youtube"))
}

// Paused reports the pause switch.
func (p *Poller) Paused() bool {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	return p.paused
}

// waitActive blocks while paused. It reports false once ctx ends.
func (p *Poller) waitActive(ctx context.Context) bool {
	for {
		p.pmu.Lock()
		paused, wake := p.paused, p.wake
		p.pmu.Unlock()
		if !paused {
			return ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			return false
		case <-wake:
		}
	}
}

func (p *Poller) run(ctx context.Context, videoID string) {
	spanCtx, span := telemetry.StartSpan(ctx, provider, "youtube.connect", attribute.String("video_id", videoID))
	var chatID string
	err := p.call(spanCtx, "videos", func(ctx context.Context) error {
		var err error
		chatID, err = p.api.LiveChatID(ctx, videoID)
		return err
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		p.lost(ctx, err)
		return
	}

	// the first page is the chat backlog; only its cursor is kept
	var first pageResult
	err = p.call(ctx, "messages", func(ctx context.Context) error {
		res, err := p.api.Messages(ctx, chatID, "")
		first = pageOf(res)
		return err
	})
	if err != nil {
		p.lost(ctx, err)
		return
	}
	p.send(ctx, normalize.YouTubeEnvelope{Kind: normalize.EnvConnected, LiveChatID: chatID, VideoID: videoID})
	slog.Info("youtube live chat connected", slog.String("video_id", videoID), slog.String("live_chat_id", chatID), slog.Int("skipped_backlog", first.items), slog.String("component", "youtube"))
	if first.offline {
		p.send(ctx, normalize.YouTubeEnvelope{Kind: normalize.EnvStreamEnd, VideoID: videoID})
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if p.cfg.LikesInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.likesLoop(loopCtx, videoID)
		}()
	}
	p.messageLoop(loopCtx, ctx, chatID, first)
	cancel()
	wg.Wait()
}

type pageResult struct {
	next     string
	interval time.Duration
	items    int
	offline  bool
}

func pageOf(res *yt.LiveChatMessageListResponse) pageResult {
	if res == nil {
		return pageResult{}
	}
	return pageResult{
		next:     res.NextPageToken,
		interval: time.Duration(res.PollingIntervalMillis) * time.Millisecond,
		items:    len(res.Items),
		offline:  res.OfflineAt != "",
	}
}

// messageLoop follows the page cursor. sessionCtx decides whether a failure
// is reported: loopCtx is also cancelled when the loop itself exits.
func (p *Poller) messageLoop(ctx, sessionCtx context.Context, chatID string, page pageResult) {
	for {
		if !p.sleep(ctx, max(page.interval, p.cfg.MinInterval)) || !p.waitActive(ctx) {
			return
		}
		pageToken := page.next
		err := p.call(ctx, "messages", func(ctx context.Context) error {
			res, err := p.api.Messages(ctx, chatID, pageToken)
			if err != nil {
				return err
			}
			page = pageOf(res)
			for _, item := range res.Items {
				p.send(ctx, normalize.YouTubeEnvelope{Kind: normalize.EnvMessage, Item: item})
			}
			return nil
		})
		if err != nil {
			p.lost(sessionCtx, err)
			return
		}
		if page.offline {
			p.send(sessionCtx, normalize.YouTubeEnvelope{Kind: normalize.EnvStreamEnd, LiveChatID: chatID})
			return
		}
	}
}

// likesLoop samples the like count. Failures are logged and skipped; losing
// a sample only delays a milestone.
func (p *Poller) likesLoop(ctx context.Context, videoID string) {
	for {
		if !p.waitActive(ctx) {
			return
		}
		var likes int64
		err := p.call(ctx, "likes", func(ctx context.Context) error {
			var err error
			likes, err = p.api.Likes(ctx, videoID)
			return err
		})
		switch {
		case err == nil:
			p.send(ctx, normalize.YouTubeEnvelope{Kind: normalize.EnvLikes, Count: likes, VideoID: videoID})
		case ctx.Err() == nil:
			slog.Warn("youtube like count poll failed", slog.Any("err", err), slog.String("component", "youtube"))
		}
		if !p.sleep(ctx, p.cfg.LikesInterval) {
			return
		}
	}
}

// call runs fn under the call budget, timing it. A 401 triggers one forced
// token refresh and a retry; the result is classified.
func (p *Poller) call(ctx context.Context, name string, fn func(context.Context) error) error {
	refreshed := false
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		err := fn(ctx)
		telemetry.ObservePoll(provider, name, time.Since(start))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if unauthorized(err) && !refreshed && p.auth != nil {
			refreshed = true
			slog.Info("youtube rejected access token; refreshing", slog.String("call", name), slog.String("component", "youtube"))
			if rerr := p.auth.ForceRefresh(ctx); rerr != nil {
				if connection.Classify(rerr) == connection.ClassTransient {
					return rerr
				}
				return connection.Classified(connection.ClassAuth, fmt.Errorf("token refresh after 401: %w", rerr))
			}
			continue
		}
		return classify(err)
	}
}

// lost reports a failed session through the queue, unless Stop caused it.
func (p *Poller) lost(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, ErrStreamEnded) {
		slog.Info("youtube live chat ended", slog.Any("reason", err), slog.String("component", "youtube"))
		p.send(ctx, normalize.YouTubeEnvelope{Kind: normalize.EnvStreamEnd, Reason: err.Error()})
		return
	}
	class := connection.Classify(err)
	slog.Warn("youtube poll failed", slog.Any("err", err), slog.String("class", class.String()), slog.String("component", "youtube"))
	p.send(ctx, normalize.YouTubeEnvelope{Kind: normalize.EnvDisconnected, Reason: err.Error(), Class: class.String()})
}

func (p *Poller) send(ctx context.Context, env normalize.YouTubeEnvelope) {
	if ctx.Err() != nil {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		slog.Error("encode youtube envelope", slog.Any("err", err), slog.String("component", "youtube"))
		return
	}
	p.queue.Enqueue(b, p.now())
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
