// Command authorize runs the YouTube consent flow once from a terminal and
// stores the resulting refresh token, so the service can start already
// authorized.
//
// Usage:
//
//	authorize [--timeout 5m]
//	authorize --revoke
//
// Environment Variables:
//
//	YT_CLIENT_ID, YT_CLIENT_SECRET: OAuth client (required)
//	YT_LOOPBACK_PORT: callback port on 127.0.0.1 (default 8914)
//	SETTINGS_PATH or DB_DSN: where the token is stored
//	ENCRYPTION_KEY: seal the token at rest
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-ingest/config"
	"github.com/onnwee/live-ingest/crypto"
	"github.com/onnwee/live-ingest/db"
	"github.com/onnwee/live-ingest/oauth"
	"github.com/onnwee/live-ingest/settings"
	"github.com/onnwee/live-ingest/youtubeapi"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "How long to wait for the consent redirect")
	revoke := flag.Bool("revoke", false, "Forget the stored authorization and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateYouTube(); err != nil {
		slog.Error("youtube is not configured", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open settings", slog.Any("err", err))
		os.Exit(1)
	}
	svc := youtubeapi.New(cfg, settings.NewTokenStore(store, "youtube"))

	if *revoke {
		err = svc.Revoke(ctx)
	} else {
		ctx, cancel := context.WithTimeout(ctx, *timeout)
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.YTLoopbackPort)
		err = oauth.NewLoopback(svc).Authorize(ctx, addr, func(u string) {
			fmt.Fprintln(os.Stderr, "Open this URL in a browser to grant access:")
			fmt.Println(u)
		})
		cancel()
	}
	closeStore()
	if err != nil {
		slog.Error("authorization failed", slog.Any("err", err))
		os.Exit(1)
	}
	if *revoke {
		slog.Info("youtube authorization removed")
		return
	}
	slog.Info("youtube authorized; refresh token stored")
}

func open(ctx context.Context, cfg *config.Config) (settings.Store, func(), error) {
	store, database, err := db.OpenStore(ctx, cfg.DBDsn, cfg.SettingsPath)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if database != nil {
			_ = database.Close()
		}
	}
	if cfg.EncryptionKey == "" {
		return store, closeStore, nil
	}
	enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	return settings.NewSealed(store, enc), closeStore, nil
}
