// Command seal-settings encrypts refresh tokens that were written to the
// settings store before ENCRYPTION_KEY was configured.
//
// Usage:
//
//	seal-settings [--dry-run]
//	seal-settings --generate-key
//
// Environment Variables:
//
//	SETTINGS_PATH: settings file (default data/settings.json)
//	DB_DSN: use the Postgres kv table instead of the file
//	ENCRYPTION_KEY: base64-encoded 32-byte key (required unless --generate-key)
//
// Example:
//
//	export ENCRYPTION_KEY="$(seal-settings --generate-key)"
//	seal-settings --dry-run
//	seal-settings
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/onnwee/live-ingest/config"
	"github.com/onnwee/live-ingest/crypto"
	"github.com/onnwee/live-ingest/db"
	"github.com/onnwee/live-ingest/settings"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "List plaintext secrets without rewriting them")
	genKey := flag.Bool("generate-key", false, "Print a new random ENCRYPTION_KEY and exit")
	flag.Parse()

	if *genKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.EncryptionKey == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required")
		os.Exit(1)
	}
	enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("err", err))
		os.Exit(1)
	}

	ctx := context.Background()
	store, closeStore, err := open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open settings", slog.Any("err", err))
		os.Exit(1)
	}
	_, err = seal(ctx, store, enc, *dryRun)
	closeStore()
	if err != nil {
		slog.Error("sealing failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func open(ctx context.Context, cfg *config.Config) (settings.Store, func(), error) {
	store, database, err := db.OpenStore(ctx, cfg.DBDsn, cfg.SettingsPath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if database != nil {
			_ = database.Close()
		}
	}, nil
}

// seal rewrites plaintext secrets in store and returns the keys found.
func seal(ctx context.Context, store settings.Store, enc crypto.Encryptor, dryRun bool) ([]string, error) {
	keys, err := settings.PlaintextSecrets(ctx, store)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		slog.Info("no plaintext secrets found")
		return nil, nil
	}
	for _, k := range keys {
		slog.Info("plaintext secret", slog.String("key", k), slog.Bool("dry_run", dryRun))
	}
	if dryRun {
		return keys, nil
	}
	n, err := settings.NewSealed(store, enc).Reseal(ctx)
	slog.Info("sealing summary", slog.Int("found", len(keys)), slog.Int("sealed", n))
	return keys, err
}
