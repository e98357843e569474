package repository

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent, so running it on an existing database is a no-op.
func Migrate(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, string(body)); err != nil {
			logger.Error("migration failed", zap.Error(err), zap.String("migration", name))
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		logger.Info("migration applied", zap.String("migration", name))
	}
	return nil
}
