package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relayer/internal/domain"
)

// QuotaService enforces the per-session and per-day action caps.
type QuotaService struct {
	repo   domain.QuotaRepository
	limits domain.QuotaLimits
	now    func() time.Time
}

// NewQuotaService creates a QuotaService backed by the given repository.
func NewQuotaService(repo domain.QuotaRepository, limits domain.QuotaLimits) *QuotaService {
	return &QuotaService{repo: repo, limits: limits, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *QuotaService) WithClock(now func() time.Time) *QuotaService {
	s.now = now
	return s
}

// Limits returns the configured caps.
func (s *QuotaService) Limits() domain.QuotaLimits {
	return s.limits
}

// CheckAndReserve consumes one action from userKey's quotas. Rejections are
// domain.ErrSessionQuotaExceeded or domain.ErrDailyQuotaExceeded and leave
// both counters untouched; storage failures wrap ErrPersistence.
func (s *QuotaService) CheckAndReserve(ctx context.Context, userKey string) (domain.QuotaUsage, error) {
	usage, err := s.repo.Reserve(ctx, userKey, DayKey(s.now()), s.limits)
	if err != nil {
		if errors.Is(err, domain.ErrSessionQuotaExceeded) || errors.Is(err, domain.ErrDailyQuotaExceeded) {
			return usage, err
		}
		return usage, fmt.Errorf("%w: reserve quota: %w", ErrPersistence, err)
	}
	return usage, nil
}

// Usage returns userKey's counters for the current day.
func (s *QuotaService) Usage(ctx context.Context, userKey string) (domain.QuotaUsage, error) {
	usage, err := s.repo.Usage(ctx, userKey, DayKey(s.now()))
	if err != nil {
		return usage, fmt.Errorf("%w: read quota: %w", ErrPersistence, err)
	}
	return usage, nil
}

// DayKey is the UTC calendar date of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
