// Package postgres implements the quota and activity repositories on
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"relayer/internal/domain"
)

// DB wraps a *sql.DB and implements domain repository interfaces.
type DB struct {
	sql *sql.DB
}

// Ensure interfaces are met.
var _ domain.QuotaRepository = (*DB)(nil)
var _ domain.ActivityRepository = (*DB)(nil)

// Open connects to PostgreSQL, pings, and runs migrations.
func Open(connStr string) (*DB, error) {
	s, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(10)
	s.SetMaxIdleConns(5)
	s.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	d := &DB{sql: s}
	if err := d.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS quota_sessions (user_key TEXT PRIMARY KEY, count INTEGER NOT NULL DEFAULT 0);",
		"CREATE TABLE IF NOT EXISTS quota_days (user_key TEXT NOT NULL, day TEXT NOT NULL, count INTEGER NOT NULL DEFAULT 0, PRIMARY KEY (user_key, day));",
		"CREATE TABLE IF NOT EXISTS activities (id BIGINT NOT NULL, user_key TEXT NOT NULL, action TEXT NOT NULL, hash TEXT NOT NULL UNIQUE, created_at BIGINT NOT NULL, status TEXT NOT NULL CHECK(status IN ('pending','confirmed','failed')), block_number BIGINT NOT NULL DEFAULT 0, PRIMARY KEY (user_key, id));",
		"CREATE INDEX IF NOT EXISTS idx_activities_user_created ON activities(user_key, id DESC);",
		"CREATE TABLE IF NOT EXISTS relay_meta (key TEXT PRIMARY KEY, value BIGINT NOT NULL);",
		"CREATE INDEX IF NOT EXISTS idx_activities_pending ON activities(status) WHERE status = 'pending';",
	}

	for _, stmt := range stmts {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
