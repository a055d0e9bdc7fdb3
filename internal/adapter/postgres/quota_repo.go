package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"relayer/internal/domain"
)

// Reserve locks the user's counter rows for the duration of one transaction,
// so concurrent reservations for the same key are decided one at a time.
func (d *DB) Reserve(ctx context.Context, userKey, day string, limits domain.QuotaLimits) (domain.QuotaUsage, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return domain.QuotaUsage{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO quota_sessions(user_key, count) VALUES($1, 0) ON CONFLICT (user_key) DO NOTHING;", userKey); err != nil {
		return domain.QuotaUsage{}, fmt.Errorf("init session quota: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO quota_days(user_key, day, count) VALUES($1, $2, 0) ON CONFLICT (user_key, day) DO NOTHING;", userKey, day); err != nil {
		return domain.QuotaUsage{}, fmt.Errorf("init daily quota: %w", err)
	}

	usage, err := readUsage(ctx, tx, userKey, day, " FOR UPDATE")
	if err != nil {
		return domain.QuotaUsage{}, err
	}
	if err := domain.CheckQuota(usage, limits); err != nil {
		return usage, err
	}

	if _, err := tx.ExecContext(ctx, "UPDATE quota_sessions SET count = count + 1 WHERE user_key=$1;", userKey); err != nil {
		return domain.QuotaUsage{}, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE quota_days SET count = count + 1 WHERE user_key=$1 AND day=$2;", userKey, day); err != nil {
		return domain.QuotaUsage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QuotaUsage{}, err
	}

	usage.Session++
	usage.Daily++
	return usage, nil
}

// Usage returns the counters for userKey on day.
func (d *DB) Usage(ctx context.Context, userKey, day string) (domain.QuotaUsage, error) {
	return readUsage(ctx, d.sql, userKey, day, "")
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readUsage(ctx context.Context, q queryer, userKey, day, lock string) (domain.QuotaUsage, error) {
	var u domain.QuotaUsage
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE((SELECT count FROM quota_sessions WHERE user_key=$1"+lock+"), 0);", userKey).Scan(&u.Session)
	if err != nil {
		return u, err
	}
	err = q.QueryRowContext(ctx,
		"SELECT COALESCE((SELECT count FROM quota_days WHERE user_key=$1 AND day=$2"+lock+"), 0);", userKey, day).Scan(&u.Daily)
	return u, err
}
