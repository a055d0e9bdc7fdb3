// Package bolt implements the durable quota and activity documents on top of
// a single BoltDB file.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"relayer/internal/domain"
)

var (
	quotaBucket    = []byte("quotas")
	activityBucket = []byte("activity")
	hashBucket     = []byte("activity_hashes")
	metaBucket     = []byte("meta")

	lastBlockKey = []byte("last_block")
)

// quotaDoc is the stored quota document of one user.
type quotaDoc struct {
	Session int            `json:"session"`
	Days    map[string]int `json:"days"`
}

// DB is a BoltDB-backed quota and activity store. Every write runs in its
// own bbolt.Update transaction, which bbolt serializes and fsyncs before
// returning.
type DB struct {
	db *bbolt.DB
}

// Ensure interfaces are met.
var _ domain.QuotaRepository = (*DB)(nil)
var _ domain.ActivityRepository = (*DB)(nil)

// Open opens or creates the store at path.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	b, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	d := &DB{db: b}
	if err := d.ensureBuckets(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying BoltDB database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ensureBuckets() error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{quotaBucket, activityBucket, hashBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// --- QuotaRepository ---

// Reserve checks and increments both counters inside one write transaction.
func (d *DB) Reserve(ctx context.Context, userKey, day string, limits domain.QuotaLimits) (domain.QuotaUsage, error) {
	if err := ctx.Err(); err != nil {
		return domain.QuotaUsage{}, err
	}

	var usage domain.QuotaUsage
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(quotaBucket)
		doc, err := readQuota(b, userKey)
		if err != nil {
			return err
		}

		usage = domain.QuotaUsage{Session: doc.Session, Daily: doc.Days[day]}
		if err := domain.CheckQuota(usage, limits); err != nil {
			return err
		}

		doc.Session++
		doc.Days[day]++
		usage = domain.QuotaUsage{Session: doc.Session, Daily: doc.Days[day]}
		return writeJSON(b, []byte(userKey), doc)
	})
	return usage, err
}

// Usage returns the counters for userKey on day.
func (d *DB) Usage(ctx context.Context, userKey, day string) (domain.QuotaUsage, error) {
	if err := ctx.Err(); err != nil {
		return domain.QuotaUsage{}, err
	}

	var usage domain.QuotaUsage
	err := d.db.View(func(tx *bbolt.Tx) error {
		doc, err := readQuota(tx.Bucket(quotaBucket), userKey)
		if err != nil {
			return err
		}
		usage = domain.QuotaUsage{Session: doc.Session, Daily: doc.Days[day]}
		return nil
	})
	return usage, err
}

func readQuota(b *bbolt.Bucket, userKey string) (quotaDoc, error) {
	doc := quotaDoc{Days: map[string]int{}}
	raw := b.Get([]byte(userKey))
	if raw == nil {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("unmarshal quota %q: %w", userKey, err)
	}
	if doc.Days == nil {
		doc.Days = map[string]int{}
	}
	return doc, nil
}

// --- ActivityRepository ---

// AppendActivity prepends rec to userKey's log and drops the hash index
// entries of records pushed out of the bound.
func (d *DB) AppendActivity(ctx context.Context, userKey string, rec domain.ActivityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(activityBucket)
		idx := tx.Bucket(hashBucket)

		log, err := readLog(b, userKey)
		if err != nil {
			return err
		}
		next := domain.PrependBounded(log, rec)

		kept := make(map[string]bool, len(next))
		for _, r := range next {
			kept[r.Hash] = true
		}
		for _, r := range log {
			if !kept[r.Hash] {
				if err := idx.Delete([]byte(r.Hash)); err != nil {
					return fmt.Errorf("drop hash index: %w", err)
				}
			}
		}
		if err := idx.Put([]byte(rec.Hash), []byte(userKey)); err != nil {
			return fmt.Errorf("put hash index: %w", err)
		}
		return writeJSON(b, []byte(userKey), next)
	})
}

// ListActivity returns userKey's log, newest first.
func (d *DB) ListActivity(ctx context.Context, userKey string) ([]domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var log []domain.ActivityRecord
	err := d.db.View(func(tx *bbolt.Tx) error {
		var err error
		log, err = readLog(tx.Bucket(activityBucket), userKey)
		return err
	})
	if log == nil {
		log = []domain.ActivityRecord{}
	}
	return log, err
}

// TransitionActivity moves a non-terminal record to status.
func (d *DB) TransitionActivity(ctx context.Context, userKey string, id int64, status domain.ActivityStatus, blockNumber int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var moved bool
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(activityBucket)
		log, err := readLog(b, userKey)
		if err != nil {
			return err
		}
		if moved = domain.ApplyTransition(log, id, status, blockNumber); !moved {
			return nil
		}
		if status == domain.StatusConfirmed {
			if err := raiseLastBlock(tx.Bucket(metaBucket), blockNumber); err != nil {
				return err
			}
		}
		return writeJSON(b, []byte(userKey), log)
	})
	return moved, err
}

// LastBlockNumber reads the block high-water mark kept in the meta bucket.
func (d *DB) LastBlockNumber(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var last int64
	err := d.db.View(func(tx *bbolt.Tx) error {
		var err error
		last, err = readLastBlock(tx.Bucket(metaBucket))
		return err
	})
	return last, err
}

func readLastBlock(b *bbolt.Bucket) (int64, error) {
	raw := b.Get(lastBlockKey)
	if raw == nil {
		return 0, nil
	}
	var last int64
	if err := json.Unmarshal(raw, &last); err != nil {
		return 0, fmt.Errorf("unmarshal %s: %w", lastBlockKey, err)
	}
	return last, nil
}

func raiseLastBlock(b *bbolt.Bucket, block int64) error {
	last, err := readLastBlock(b)
	if err != nil || block <= last {
		return err
	}
	return writeJSON(b, lastBlockKey, block)
}

// FindActivityByHash resolves hash through the hash index.
func (d *DB) FindActivityByHash(ctx context.Context, hash string) (string, domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.ActivityRecord{}, err
	}

	var (
		userKey string
		found   domain.ActivityRecord
	)
	err := d.db.View(func(tx *bbolt.Tx) error {
		owner := tx.Bucket(hashBucket).Get([]byte(hash))
		if owner == nil {
			return domain.ErrNotFound
		}
		userKey = string(owner)

		log, err := readLog(tx.Bucket(activityBucket), userKey)
		if err != nil {
			return err
		}
		for _, r := range log {
			if r.Hash == hash {
				found = r
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return userKey, found, err
}

// ListPendingActivity returns pending records across all users, oldest first.
func (d *DB) ListPendingActivity(ctx context.Context) ([]domain.PendingActivity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []domain.PendingActivity
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(activityBucket).ForEach(func(k, v []byte) error {
			var log []domain.ActivityRecord
			if err := json.Unmarshal(v, &log); err != nil {
				return fmt.Errorf("unmarshal activity %q: %w", k, err)
			}
			for _, r := range log {
				if r.Status == domain.StatusPending {
					out = append(out, domain.PendingActivity{UserKey: string(k), Record: r})
				}
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.ID < out[j].Record.ID
	})
	return out, err
}

func readLog(b *bbolt.Bucket, userKey string) ([]domain.ActivityRecord, error) {
	raw := b.Get([]byte(userKey))
	if raw == nil {
		return nil, nil
	}
	var log []domain.ActivityRecord
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("unmarshal activity %q: %w", userKey, err)
	}
	return log, nil
}

func writeJSON(b *bbolt.Bucket, key []byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put(key, payload)
}
