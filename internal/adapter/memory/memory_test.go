package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"relayer/internal/domain"
)

func TestQuotaRepository(t *testing.T) {
	db := New()
	ctx := context.Background()
	limits := domain.QuotaLimits{MaxPerSession: 2, MaxPerDay: 10}

	for i := 1; i <= 2; i++ {
		u, err := db.Reserve(ctx, "a@example.com", "2026-10-19", limits)
		if err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
		if u.Session != i {
			t.Errorf("expected session count %d, got %d", i, u.Session)
		}
	}

	if _, err := db.Reserve(ctx, "a@example.com", "2026-10-19", limits); err != domain.ErrSessionQuotaExceeded {
		t.Fatalf("expected ErrSessionQuotaExceeded, got %v", err)
	}

	u, _ := db.Usage(ctx, "a@example.com", "2026-10-19")
	if u.Session != 2 || u.Daily != 2 {
		t.Errorf("rejection must not mutate counters, got %+v", u)
	}

	// Other user is independent
	u, err := db.Reserve(ctx, "b@example.com", "2026-10-19", limits)
	if err != nil || u.Session != 1 {
		t.Errorf("expected fresh quota for other user, got %+v, %v", u, err)
	}
}

func TestQuotaDayIsolation(t *testing.T) {
	db := New()
	ctx := context.Background()
	limits := domain.QuotaLimits{MaxPerSession: 100, MaxPerDay: 1}

	if _, err := db.Reserve(ctx, "u", "2026-10-19", limits); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := db.Reserve(ctx, "u", "2026-10-19", limits); err != domain.ErrDailyQuotaExceeded {
		t.Fatalf("expected ErrDailyQuotaExceeded, got %v", err)
	}

	u, err := db.Reserve(ctx, "u", "2026-10-20", limits)
	if err != nil {
		t.Fatalf("next day must have a fresh daily counter: %v", err)
	}
	if u.Daily != 1 || u.Session != 2 {
		t.Errorf("unexpected usage %+v", u)
	}

	prev, _ := db.Usage(ctx, "u", "2026-10-19")
	if prev.Daily != 1 {
		t.Errorf("previous day changed: %+v", prev)
	}
}

func TestQuotaConcurrentReserve(t *testing.T) {
	db := New()
	ctx := context.Background()
	limits := domain.QuotaLimits{MaxPerSession: 5, MaxPerDay: 100}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.Reserve(ctx, "same", "2026-10-19", limits); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 5 {
		t.Errorf("expected exactly 5 accepted reservations, got %d", accepted)
	}
}

func TestActivityRepository(t *testing.T) {
	db := New()
	ctx := context.Background()

	// Unknown users list as empty
	items, err := db.ListActivity(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected 0 items, got %d", len(items))
	}

	for i := int64(1); i <= 105; i++ {
		rec := domain.ActivityRecord{ID: i, Action: "nft.mint", Hash: hashOf(i), Status: domain.StatusPending}
		if err := db.AppendActivity(ctx, "u", rec); err != nil {
			t.Fatalf("AppendActivity: %v", err)
		}
	}

	items, _ = db.ListActivity(ctx, "u")
	if len(items) != domain.MaxActivityPerUser {
		t.Fatalf("expected %d items, got %d", domain.MaxActivityPerUser, len(items))
	}
	if items[0].ID != 105 || items[99].ID != 6 {
		t.Errorf("expected newest-first 105..6, got %d..%d", items[0].ID, items[99].ID)
	}

	// Trimmed records are gone
	if _, _, err := db.FindActivityByHash(ctx, hashOf(5)); err != domain.ErrNotFound {
		t.Errorf("expected ErrNotFound for trimmed record, got %v", err)
	}

	userKey, rec, err := db.FindActivityByHash(ctx, hashOf(50))
	if err != nil || userKey != "u" || rec.ID != 50 {
		t.Errorf("FindActivityByHash = %q %+v %v", userKey, rec, err)
	}
}

func TestActivityTransitionIdempotent(t *testing.T) {
	db := New()
	ctx := context.Background()
	_ = db.AppendActivity(ctx, "u", domain.ActivityRecord{ID: 1, Hash: "0x1", Status: domain.StatusPending})

	moved, err := db.TransitionActivity(ctx, "u", 1, domain.StatusConfirmed, 1000)
	if err != nil || !moved {
		t.Fatalf("first transition: moved=%v err=%v", moved, err)
	}
	moved, err = db.TransitionActivity(ctx, "u", 1, domain.StatusConfirmed, 1001)
	if err != nil || moved {
		t.Fatalf("second transition must be a no-op: moved=%v err=%v", moved, err)
	}
	moved, err = db.TransitionActivity(ctx, "u", 42, domain.StatusConfirmed, 1002)
	if err != nil || moved {
		t.Fatalf("unknown id must be a no-op: moved=%v err=%v", moved, err)
	}

	items, _ := db.ListActivity(ctx, "u")
	if items[0].Status != domain.StatusConfirmed || items[0].BlockNumber != 1000 {
		t.Errorf("unexpected record %+v", items[0])
	}

	pending, _ := db.ListPendingActivity(ctx)
	if len(pending) != 0 {
		t.Errorf("expected no pending records, got %d", len(pending))
	}
}

func TestLastBlockNumber(t *testing.T) {
	db := New()
	ctx := context.Background()
	_ = db.AppendActivity(ctx, "u", domain.ActivityRecord{ID: 1, Hash: "0x1", Status: domain.StatusPending})
	_ = db.AppendActivity(ctx, "v", domain.ActivityRecord{ID: 2, Hash: "0x2", Status: domain.StatusPending})

	if last, _ := db.LastBlockNumber(ctx); last != 0 {
		t.Fatalf("expected 0 before any confirmation, got %d", last)
	}

	_, _ = db.TransitionActivity(ctx, "u", 1, domain.StatusConfirmed, 1007)
	_, _ = db.TransitionActivity(ctx, "v", 2, domain.StatusConfirmed, 1003)

	if last, _ := db.LastBlockNumber(ctx); last != 1007 {
		t.Errorf("expected 1007, got %d", last)
	}
}

func hashOf(i int64) string {
	return fmt.Sprintf("0x%064x", i)
}
