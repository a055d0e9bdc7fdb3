package domain

import (
	"context"
	"errors"
)

var (
	// ErrSessionQuotaExceeded indicates the per-session cap has been reached.
	ErrSessionQuotaExceeded = errors.New("quota exceeded (session)")
	// ErrDailyQuotaExceeded indicates the per-day cap has been reached.
	ErrDailyQuotaExceeded = errors.New("quota exceeded (daily)")
)

// QuotaLimits caps the number of sponsored actions one identity may trigger.
type QuotaLimits struct {
	MaxPerSession int
	MaxPerDay     int
}

// QuotaUsage is a snapshot of both counters for one user and one day.
type QuotaUsage struct {
	Session int `json:"session"`
	Daily   int `json:"daily"`
}

// QuotaRepository is the port for quota persistence.
//
// Reserve must decide and increment atomically per user key: two concurrent
// reservations for the same key never both observe the same counts.
type QuotaRepository interface {
	Reserve(ctx context.Context, userKey, day string, limits QuotaLimits) (QuotaUsage, error)
	Usage(ctx context.Context, userKey, day string) (QuotaUsage, error)
}

// CheckQuota applies the limits to a usage snapshot, session cap first.
func CheckQuota(u QuotaUsage, limits QuotaLimits) error {
	if u.Session >= limits.MaxPerSession {
		return ErrSessionQuotaExceeded
	}
	if u.Daily >= limits.MaxPerDay {
		return ErrDailyQuotaExceeded
	}
	return nil
}
