package db

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/onnwee/live-ingest/settings"
)

// OpenStore returns the Postgres kv store when dsn is set, otherwise the
// JSON file at path. The returned handle is nil for the file store.
func OpenStore(ctx context.Context, dsn, path string) (settings.Store, *sql.DB, error) {
	if dsn == "" {
		fs, err := settings.OpenFile(path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("settings stored on disk", slog.String("path", fs.Path()), slog.String("component", "settings"))
		return fs, nil, nil
	}
	database, err := Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(ctx, database); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	slog.Info("settings stored in postgres", slog.String("component", "settings"))
	return &KV{DB: database}, database, nil
}
