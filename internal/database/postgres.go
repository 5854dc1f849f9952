package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stwalsh4118/parcelguard/internal/config"
)

const (
	applicationName = "parcelguard"
	// lockTimeout bounds how long a transaction waits on a lock cell held by
	// another writer. Expiry surfaces as lock_not_available.
	lockTimeout = 5 * time.Second
)

// Database wraps the pgx connection pool backing the parcel store.
type Database struct {
	Pool *pgxpool.Pool
}

// DSN builds the connection string for the given configuration.
// Credentials are escaped so passwords may contain URL metacharacters.
func DSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// poolConfig derives pool settings. Gate transactions hold a connection for
// the whole read-decide-write, so the pool size caps concurrent submissions.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pc.MinConns = int32(cfg.PoolMin)
	pc.MaxConns = int32(cfg.PoolMax)
	pc.ConnConfig.ConnectTimeout = 5 * time.Second
	pc.MaxConnIdleTime = 30 * time.Second
	pc.MaxConnLifetime = time.Hour
	pc.HealthCheckPeriod = time.Minute

	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	pc.ConnConfig.RuntimeParams["lock_timeout"] = fmt.Sprintf("%dms", lockTimeout.Milliseconds())
	return pc, nil
}

// NewPostgresPool connects to PostgreSQL and verifies the connection.
func NewPostgresPool(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{Pool: pool}, nil
}

// Ping checks if the database connection is alive.
func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close waits for checked-out connections to be returned, then closes the pool.
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Stats returns pool statistics, or nil before the pool exists.
func (db *Database) Stats() *pgxpool.Stat {
	if db.Pool == nil {
		return nil
	}
	return db.Pool.Stat()
}
