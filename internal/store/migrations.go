package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/hyperengineering/shelfsync/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending server migrations using goose.
// It uses the embedded SQL files from the migrations package.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations.FS, migrations.ServerDir)
	if err != nil {
		return fmt.Errorf("server migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// SchemaVersion returns the current migration version of db.
func SchemaVersion(ctx context.Context, db *sql.DB) (int64, error) {
	fsys, err := fs.Sub(migrations.FS, migrations.ServerDir)
	if err != nil {
		return 0, fmt.Errorf("server migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}

	return provider.GetDBVersion(ctx)
}
