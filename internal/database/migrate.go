package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockKey serializes schema migration across server replicas.
const migrationLockKey int64 = 0x70617263656c // "parcel"

// Migrations returns the embedded migration file names in apply order.
func Migrations() ([]string, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Migrate applies every embedded migration in a single transaction. The
// migrations are idempotent, so running them on every start is safe.
func (db *Database) Migrate(ctx context.Context) error {
	names, err := Migrations()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		for _, name := range names {
			body, err := migrationFS.ReadFile(name)
			if err != nil {
				return fmt.Errorf("failed to read migration %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", name, err)
			}
		}
		return nil
	})
}
