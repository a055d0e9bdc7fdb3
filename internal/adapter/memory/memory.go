// Package memory implements an in-memory repository for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"relayer/internal/domain"
)

// DB implements an in-memory quota and activity store.
type DB struct {
	mu       sync.Mutex
	sessions map[string]int
	days     map[string]int
	activity map[string][]domain.ActivityRecord
	// lastBlock outlives trimmed records.
	lastBlock int64
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		sessions: make(map[string]int),
		days:     make(map[string]int),
		activity: make(map[string][]domain.ActivityRecord),
	}
}

// Ensure interfaces are met.
var _ domain.QuotaRepository = (*DB)(nil)
var _ domain.ActivityRepository = (*DB)(nil)

// --- QuotaRepository ---

// Reserve checks and increments both counters under one lock.
func (db *DB) Reserve(ctx context.Context, userKey, day string, limits domain.QuotaLimits) (domain.QuotaUsage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	dayKey := userKey + ":" + day
	usage := domain.QuotaUsage{Session: db.sessions[userKey], Daily: db.days[dayKey]}
	if err := domain.CheckQuota(usage, limits); err != nil {
		return usage, err
	}

	db.sessions[userKey]++
	db.days[dayKey]++
	return domain.QuotaUsage{Session: db.sessions[userKey], Daily: db.days[dayKey]}, nil
}

// Usage returns the counters for userKey on day.
func (db *DB) Usage(ctx context.Context, userKey, day string) (domain.QuotaUsage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return domain.QuotaUsage{Session: db.sessions[userKey], Daily: db.days[userKey+":"+day]}, nil
}

// --- ActivityRepository ---

// AppendActivity prepends rec to userKey's log.
func (db *DB) AppendActivity(ctx context.Context, userKey string, rec domain.ActivityRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.activity[userKey] = domain.PrependBounded(db.activity[userKey], rec)
	return nil
}

// ListActivity returns a copy of userKey's log.
func (db *DB) ListActivity(ctx context.Context, userKey string) ([]domain.ActivityRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]domain.ActivityRecord, len(db.activity[userKey]))
	copy(result, db.activity[userKey])
	return result, nil
}

// TransitionActivity moves a non-terminal record to status.
func (db *DB) TransitionActivity(ctx context.Context, userKey string, id int64, status domain.ActivityStatus, blockNumber int64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	moved := domain.ApplyTransition(db.activity[userKey], id, status, blockNumber)
	if moved && status == domain.StatusConfirmed {
		db.lastBlock = max(db.lastBlock, blockNumber)
	}
	return moved, nil
}

// LastBlockNumber returns the highest confirmed block number.
func (db *DB) LastBlockNumber(ctx context.Context) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.lastBlock, nil
}

// FindActivityByHash scans every log for hash.
func (db *DB) FindActivityByHash(ctx context.Context, hash string) (string, domain.ActivityRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for userKey, log := range db.activity {
		for _, r := range log {
			if r.Hash == hash {
				return userKey, r, nil
			}
		}
	}
	return "", domain.ActivityRecord{}, domain.ErrNotFound
}

// ListPendingActivity returns pending records, oldest first.
func (db *DB) ListPendingActivity(ctx context.Context) ([]domain.PendingActivity, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []domain.PendingActivity
	for userKey, log := range db.activity {
		for _, r := range log {
			if r.Status == domain.StatusPending {
				out = append(out, domain.PendingActivity{UserKey: userKey, Record: r})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.ID < out[j].Record.ID
	})
	return out, nil
}
