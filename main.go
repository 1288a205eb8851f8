// Command live-ingest runs the live-event ingestion service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the settings store (JSON file, or Postgres when DB_DSN is set),
//     sealing secrets when ENCRYPTION_KEY is set.
//   - Builds the TikTok (broker websocket) and YouTube (polled Data API)
//     pipelines and drives them from a single tick goroutine.
//   - Keeps the YouTube access token fresh while a session is live.
//   - Exposes /healthz, /readyz, /status, /metrics, /events and the admin
//     control routes.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-ingest/chat"
	"github.com/onnwee/live-ingest/config"
	"github.com/onnwee/live-ingest/connection"
	"github.com/onnwee/live-ingest/crypto"
	"github.com/onnwee/live-ingest/db"
	"github.com/onnwee/live-ingest/event"
	"github.com/onnwee/live-ingest/normalize"
	"github.com/onnwee/live-ingest/oauth"
	"github.com/onnwee/live-ingest/queue"
	"github.com/onnwee/live-ingest/server"
	"github.com/onnwee/live-ingest/settings"
	"github.com/onnwee/live-ingest/telemetry"
	"github.com/onnwee/live-ingest/tiktok"
	"github.com/onnwee/live-ingest/youtubeapi"
)

const version = "1.0.0"

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("live-ingest", version, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("ingest service failed", slog.Any("err", err))
		stop()
		shutdownTracing()
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}

func setupLogger(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", strings.ToLower(format)))
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, database, err := openSettings(ctx, cfg)
	if err != nil {
		return err
	}
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}

	hub := server.NewHub(server.DefaultSubscriberBuffer)
	sink := event.NewFanout(event.LogSink{}, hub)
	commands := chat.NewCommandParser(cfg.SpawnCommands, cfg.StanceCmds)
	options := func(p event.Provider, q *queue.Queue, n normalize.Normalizer, t connection.Transport) chat.Options {
		return chat.Options{
			Provider:      p,
			Queue:         q,
			Normalizer:    n,
			Transport:     t,
			Sink:          sink,
			Policy:        cfg.Reconnect,
			GiftWindow:    cfg.GiftWindow,
			GiftTiers:     cfg.GiftTiers,
			Cooldown:      cfg.Cooldown,
			Milestones:    cfg.Milestones,
			Commands:      commands,
			DrainPerTick:  cfg.DrainPerTick,
			SweepInterval: cfg.SweepInterval,
		}
	}

	checks := []server.Check{{Name: "settings", Fn: func(ctx context.Context) error {
		_, err := store.Get(ctx, settings.LastChannelKey(string(event.ProviderTikTok)))
		if settings.IsNotFound(err) {
			return nil
		}
		return err
	}}}
	if database != nil {
		checks = append(checks, server.Check{Name: "database", Fn: database.PingContext})
	}

	// TikTok
	var pipelines []*chat.Pipeline
	var tt *tiktok.Transport
	if err := cfg.ValidateTikTok(); err != nil {
		slog.Warn("tiktok pipeline disabled", slog.Any("err", err))
	} else {
		q := queue.New(cfg.QueueCapacity)
		tt = tiktok.New(tiktok.Config{
			URL:          cfg.TikTokBrokerURL,
			DialAttempts: cfg.TikTokDialAttempts,
			DialDelay:    cfg.TikTokDialDelay,
		}, q, tiktok.NewBroker(cfg.TikTokBrokerCmd, cfg.TikTokBrokerArgs))
		defer tt.Close()
		pipelines = append(pipelines, chat.NewPipeline(options(event.ProviderTikTok, q, normalize.TikTok{}, tt)))
	}

	// YouTube
	var yts *youtubeapi.Service
	var loopback *oauth.Loopback
	if err := cfg.ValidateYouTube(); err != nil {
		slog.Warn("youtube pipeline disabled", slog.Any("err", err))
	} else {
		yts = youtubeapi.New(cfg, settings.NewTokenStore(store, string(event.ProviderYouTube)))
		api, err := youtubeapi.NewDataAPI(ctx, yts.HTTPClient(), cfg.YTAPIEndpoint)
		if err != nil {
			return fmt.Errorf("youtube data api: %w", err)
		}
		q := queue.New(cfg.QueueCapacity)
		poller := youtubeapi.NewPoller(api, yts, q, youtubeapi.PollerConfig{
			MinInterval:    cfg.YTMinPollInterval,
			LikesInterval:  cfg.YTLikesPollInterval,
			CallsPerMinute: cfg.YTCallsPerMinute,
		})
		defer poller.Stop()
		pipelines = append(pipelines, chat.NewPipeline(options(event.ProviderYouTube, q, normalize.NewYouTube(cfg.YTCoinsPerUSD), poller)))
		loopback = oauth.NewLoopback(yts)
		checks = append(checks, server.Check{Name: "youtube_auth", Fn: func(ctx context.Context) error {
			if !yts.Authorized(ctx) {
				return youtubeapi.ErrNotAuthorized
			}
			return nil
		}})
	}
	if len(pipelines) == 0 {
		return errors.New("no provider configured")
	}

	runner := chat.NewRunner(cfg.TickInterval, store, pipelines...)
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()

	if yts != nil {
		live := func() bool { return sessionLive(runner, event.ProviderYouTube) }
		oauth.StartRefresher(ctx, string(event.ProviderYouTube), time.Minute, yts.TokenContext, live, youtubeapi.ErrNotAuthorized)
		if cfg.YTRedirectURI == "" {
			addr := fmt.Sprintf("127.0.0.1:%d", cfg.YTLoopbackPort)
			go func() {
				if err := server.Start(ctx, addr, loopback.Handler()); err != nil {
					slog.Error("oauth loopback listener exited", slog.Any("err", err), slog.String("component", "oauth"))
				}
			}()
			slog.Info("youtube consent available", slog.String("url", "http://"+addr+oauth.StartPath), slog.Bool("authorized", yts.Authorized(ctx)))
		}
	}

	if tt != nil {
		autoConnect(ctx, runner, store, event.ProviderTikTok, cfg.TikTokUsername)
	}
	if yts != nil {
		if yts.Authorized(ctx) {
			autoConnect(ctx, runner, store, event.ProviderYouTube, cfg.YTVideoID)
		} else {
			slog.Info("youtube not authorized; open the consent URL, then POST /admin/connect", slog.String("component", "youtube"))
		}
	}

	handler := server.NewMux(ctx, server.Deps{Runner: runner, Hub: hub, Auth: loopback, Checks: checks})
	httpDone := make(chan error, 1)
	go func() { httpDone <- server.Start(ctx, cfg.HTTPAddr, handler) }()

	var httpErr error
	select {
	case httpErr = <-httpDone:
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	cancel()
	if err := <-runnerDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if httpErr != nil {
		return fmt.Errorf("http server: %w", httpErr)
	}
	return nil
}

// openSettings opens the durable settings store, sealed when an
// encryption key is configured. The database is nil unless DB_DSN is set.
func openSettings(ctx context.Context, cfg *config.Config) (settings.Store, *sql.DB, error) {
	store, database, err := db.OpenStore(ctx, cfg.DBDsn, cfg.SettingsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open settings: %w", err)
	}
	if cfg.EncryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY not set; refresh tokens are stored in plaintext", slog.String("component", "settings"))
		return store, database, nil
	}
	enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
	if err != nil {
		if database != nil {
			_ = database.Close()
		}
		return nil, nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	return settings.NewSealed(store, enc), database, nil
}

// autoConnect requests a session for channel, or the provider's last
// channel when none is configured.
func autoConnect(ctx context.Context, runner *chat.Runner, store settings.Store, p event.Provider, channel string) {
	source := "config"
	if channel == "" {
		last, err := store.Get(ctx, settings.LastChannelKey(string(p)))
		if err != nil {
			if !settings.IsNotFound(err) {
				slog.Warn("failed to read last channel", slog.String("provider", string(p)), slog.Any("err", err))
			}
			slog.Info("no channel configured; waiting for /admin/connect", slog.String("provider", string(p)))
			return
		}
		channel, source = last, "last_channel"
	}
	if err := runner.Connect(ctx, p, channel); err != nil {
		slog.Error("auto-connect failed", slog.String("provider", string(p)), slog.String("channel", channel), slog.Any("err", err))
		return
	}
	slog.Info("auto-connect requested", slog.String("provider", string(p)), slog.String("channel", channel), slog.String("source", source))
}

// sessionLive reports whether p has a session in progress.
func sessionLive(runner *chat.Runner, p event.Provider) bool {
	for _, st := range runner.Status() {
		if st.Provider == string(p) {
			return st.State != connection.Disconnected.String()
		}
	}
	return false
}
