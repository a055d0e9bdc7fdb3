package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relayer/internal/domain"
)

// firstBlock is the block number given to the first confirmation.
const firstBlock = 1000

// Confirmer decides the outcome of a pending action. Returning false leaves
// the record pending until the next tick.
type Confirmer interface {
	Decide(ctx context.Context, item domain.PendingActivity, now time.Time) (domain.ActivityStatus, bool)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, item domain.PendingActivity, now time.Time) (domain.ActivityStatus, bool)

// Decide calls f.
func (f ConfirmerFunc) Decide(ctx context.Context, item domain.PendingActivity, now time.Time) (domain.ActivityStatus, bool) {
	return f(ctx, item, now)
}

// LatencyConfirmer confirms actions once they have been pending for After,
// standing in for an external confirmation feed.
type LatencyConfirmer struct {
	After time.Duration
}

// Decide confirms records older than c.After.
func (c LatencyConfirmer) Decide(_ context.Context, item domain.PendingActivity, now time.Time) (domain.ActivityStatus, bool) {
	if now.Sub(time.UnixMilli(item.Record.Timestamp)) < c.After {
		return "", false
	}
	return domain.StatusConfirmed, true
}

// ConfirmationTicker periodically moves pending actions to a terminal status.
type ConfirmationTicker struct {
	repo      domain.ActivityRepository
	confirmer Confirmer
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	seeded    bool
	nextBlock int64
}

// NewConfirmationTicker creates a ticker running every interval.
func NewConfirmationTicker(repo domain.ActivityRepository, confirmer Confirmer, interval time.Duration, logger *slog.Logger) *ConfirmationTicker {
	return &ConfirmationTicker{
		repo:      repo,
		confirmer: confirmer,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		nextBlock: firstBlock,
	}
}

// WithClock replaces the time source. Intended for tests.
func (t *ConfirmationTicker) WithClock(now func() time.Time) *ConfirmationTicker {
	t.now = now
	return t
}

// Run ticks until ctx is done.
func (t *ConfirmationTicker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := t.Tick(ctx); err != nil {
				t.logger.Error("confirm: tick failed", "err", err)
			} else if n > 0 {
				t.logger.Debug("confirm: tick", "transitioned", n)
			}
		}
	}
}

// Tick scans every pending record once and returns how many transitioned.
// The first tick resumes block numbering after the highest stored block.
func (t *ConfirmationTicker) Tick(ctx context.Context) (int, error) {
	pending, err := t.repo.ListPendingActivity(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list pending: %w", ErrPersistence, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seeded {
		last, err := t.repo.LastBlockNumber(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: read last block: %w", ErrPersistence, err)
		}
		t.nextBlock = max(firstBlock, last+1)
		t.seeded = true
	}

	now := t.now()
	changed := 0
	for _, item := range pending {
		status, ok := t.confirmer.Decide(ctx, item, now)
		if !ok || !status.Terminal() {
			continue
		}
		var block int64
		if status == domain.StatusConfirmed {
			block = t.nextBlock
		}
		moved, err := t.repo.TransitionActivity(ctx, item.UserKey, item.Record.ID, status, block)
		if err != nil {
			return changed, fmt.Errorf("%w: transition %s: %w", ErrPersistence, item.Record.Hash, err)
		}
		if moved {
			changed++
			if status == domain.StatusConfirmed {
				t.nextBlock++
			}
		}
	}
	return changed, nil
}
