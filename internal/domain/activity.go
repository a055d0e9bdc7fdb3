package domain

import (
	"context"
	"errors"
)

// MaxActivityPerUser bounds each user's activity log.
const MaxActivityPerUser = 100

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ActivityStatus is the lifecycle state of a relayed action.
type ActivityStatus string

const (
	StatusPending   ActivityStatus = "pending"
	StatusConfirmed ActivityStatus = "confirmed"
	StatusFailed    ActivityStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ActivityStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// ActivityRecord is one logged sponsored action.
type ActivityRecord struct {
	ID          int64          `json:"id"`
	Action      string         `json:"action"`
	Hash        string         `json:"hash"`
	Timestamp   int64          `json:"timestamp"`
	Status      ActivityStatus `json:"status"`
	BlockNumber int64          `json:"blockNumber,omitempty"`
}

// PendingActivity pairs a pending record with the log it belongs to.
type PendingActivity struct {
	UserKey string
	Record  ActivityRecord
}

// ActivityRepository is the port for the per-user activity log.
//
// Logs are newest first and hold at most MaxActivityPerUser records.
// Listing an unknown user returns an empty slice. TransitionActivity is a
// no-op (false, nil) for unknown ids and for records already terminal.
type ActivityRepository interface {
	AppendActivity(ctx context.Context, userKey string, rec ActivityRecord) error
	ListActivity(ctx context.Context, userKey string) ([]ActivityRecord, error)
	TransitionActivity(ctx context.Context, userKey string, id int64, status ActivityStatus, blockNumber int64) (bool, error)
	FindActivityByHash(ctx context.Context, hash string) (string, ActivityRecord, error)
	ListPendingActivity(ctx context.Context) ([]PendingActivity, error)
	// LastBlockNumber is the highest block number ever assigned, 0 if none.
	LastBlockNumber(ctx context.Context) (int64, error)
}

// PrependBounded returns log with rec at the head, truncated to the bound.
func PrependBounded(log []ActivityRecord, rec ActivityRecord) []ActivityRecord {
	out := make([]ActivityRecord, 0, min(len(log)+1, MaxActivityPerUser))
	out = append(out, rec)
	for _, r := range log {
		if len(out) == MaxActivityPerUser {
			break
		}
		out = append(out, r)
	}
	return out
}

// ApplyTransition moves the record with id to status in place. It reports
// false when the id is absent or the record is already terminal.
func ApplyTransition(log []ActivityRecord, id int64, status ActivityStatus, blockNumber int64) bool {
	for i := range log {
		if log[i].ID != id {
			continue
		}
		if log[i].Status.Terminal() || log[i].Status == status {
			return false
		}
		log[i].Status = status
		if status == StatusConfirmed {
			log[i].BlockNumber = blockNumber
		}
		return true
	}
	return false
}
