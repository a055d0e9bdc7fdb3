package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"relayer/internal/domain"
)

// AppendActivity inserts rec and trims userKey's log to the bound.
func (d *DB) AppendActivity(ctx context.Context, userKey string, rec domain.ActivityRecord) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO activities(id, user_key, action, hash, created_at, status, block_number) VALUES($1, $2, $3, $4, $5, $6, $7);",
		rec.ID, userKey, rec.Action, rec.Hash, rec.Timestamp, string(rec.Status), rec.BlockNumber,
	); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM activities WHERE user_key=$1 AND id NOT IN (SELECT id FROM activities WHERE user_key=$1 ORDER BY id DESC LIMIT $2);",
		userKey, domain.MaxActivityPerUser,
	); err != nil {
		return fmt.Errorf("trim activity: %w", err)
	}
	return tx.Commit()
}

// ListActivity returns userKey's log, newest first.
func (d *DB) ListActivity(ctx context.Context, userKey string) ([]domain.ActivityRecord, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT id, action, hash, created_at, status, block_number FROM activities WHERE user_key=$1 ORDER BY id DESC LIMIT $2;",
		userKey, domain.MaxActivityPerUser)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		r, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TransitionActivity moves a pending record to status.
func (d *DB) TransitionActivity(ctx context.Context, userKey string, id int64, status domain.ActivityStatus, blockNumber int64) (bool, error) {
	if status != domain.StatusConfirmed {
		blockNumber = 0
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		"UPDATE activities SET status=$3, block_number=$4 WHERE user_key=$1 AND id=$2 AND status='pending' AND status <> $3;",
		userKey, id, string(status), blockNumber)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	if blockNumber > 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO relay_meta(key, value) VALUES('last_block', $1) ON CONFLICT (key) DO UPDATE SET value = GREATEST(relay_meta.value, EXCLUDED.value);",
			blockNumber,
		); err != nil {
			return false, fmt.Errorf("raise last block: %w", err)
		}
	}
	return true, tx.Commit()
}

// LastBlockNumber returns the block high-water mark, which outlives trimmed
// activity rows.
func (d *DB) LastBlockNumber(ctx context.Context) (int64, error) {
	var last int64
	err := d.sql.QueryRowContext(ctx, "SELECT COALESCE(MAX(value), 0) FROM relay_meta WHERE key='last_block';").Scan(&last)
	return last, err
}

// FindActivityByHash returns the owner and record for hash.
func (d *DB) FindActivityByHash(ctx context.Context, hash string) (string, domain.ActivityRecord, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT user_key, id, action, hash, created_at, status, block_number FROM activities WHERE hash=$1;", hash)

	var (
		userKey string
		r       domain.ActivityRecord
		status  string
	)
	if err := row.Scan(&userKey, &r.ID, &r.Action, &r.Hash, &r.Timestamp, &status, &r.BlockNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ActivityRecord{}, domain.ErrNotFound
		}
		return "", domain.ActivityRecord{}, err
	}
	r.Status = domain.ActivityStatus(status)
	return userKey, r, nil
}

// ListPendingActivity returns pending records across all users, oldest first.
func (d *DB) ListPendingActivity(ctx context.Context) ([]domain.PendingActivity, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT user_key, id, action, hash, created_at, status, block_number FROM activities WHERE status='pending' ORDER BY id ASC;")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.PendingActivity
	for rows.Next() {
		var (
			p      domain.PendingActivity
			status string
		)
		if err := rows.Scan(&p.UserKey, &p.Record.ID, &p.Record.Action, &p.Record.Hash, &p.Record.Timestamp, &status, &p.Record.BlockNumber); err != nil {
			return nil, err
		}
		p.Record.Status = domain.ActivityStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanActivity(rows *sql.Rows) (domain.ActivityRecord, error) {
	var (
		r      domain.ActivityRecord
		status string
	)
	if err := rows.Scan(&r.ID, &r.Action, &r.Hash, &r.Timestamp, &status, &r.BlockNumber); err != nil {
		return r, err
	}
	r.Status = domain.ActivityStatus(status)
	return r, nil
}
