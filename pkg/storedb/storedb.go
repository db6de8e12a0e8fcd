// Package storedb opens SQLite databases and applies per-module schema
// migrations.
package storedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jingkaihe/fusebridge/internal/errx"
)

// Migration is one schema step. Versions of a module start at 1 and
// increase by one.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

type OpenOptions struct {
	Path       string
	Module     string
	Migrations []Migration
}

// Open opens (creating if needed) the database at opts.Path and applies
// every migration of opts.Module newer than the recorded version.
func Open(opts OpenOptions) (*sql.DB, error) {
	if opts.Module == "" {
		return nil, ErrMissingModuleName
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, errx.Wrap(ErrCreateDir, err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, errx.Wrap(ErrOpen, err)
	}
	// One writer at a time; sqlite serialises anyway.
	db.SetMaxOpenConns(1)

	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(context.Background(), db, opts.Module, opts.Migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func configure(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return errx.Wrap(ErrConfigure, err)
		}
	}
	return nil
}

// Version returns the last migration applied for module, or 0.
func Version(ctx context.Context, db *sql.DB, module string) (int, error) {
	var v sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations WHERE module = ?`, module).Scan(&v)
	if err != nil {
		return 0, errx.Wrap(ErrMigrationVersion, err)
	}
	return int(v.Int64), nil
}

func migrate(ctx context.Context, db *sql.DB, module string, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  module TEXT NOT NULL,
  version INTEGER NOT NULL,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL,
  PRIMARY KEY (module, version)
)`); err != nil {
		return errx.Wrap(ErrMigrationTable, err)
	}

	current, err := Version(ctx, db, module)
	if err != nil {
		return err
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			return errx.With(ErrMigrationOrder, fmt.Sprintf(": %s migration %d at position %d", module, m.Version, i))
		}
		if m.Version <= current {
			continue
		}
		if err := apply(ctx, db, module, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, module string, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errx.Wrap(ErrApplyMigration, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return errx.Wrap(ErrApplyMigration, fmt.Errorf("%s %d (%s): %w", module, m.Version, m.Name, err))
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations(module, version, name, applied_at) VALUES (?, ?, ?, ?)`,
		module, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return errx.Wrap(ErrApplyMigration, err)
	}
	if err := tx.Commit(); err != nil {
		return errx.Wrap(ErrApplyMigration, err)
	}
	return nil
}
