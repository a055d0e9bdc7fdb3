package bolt

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayer/internal/domain"
)

func openTemp(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relayer.db")
	d, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, path
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestReserve_SurvivesReopen(t *testing.T) {
	d, path := openTemp(t)
	ctx := context.Background()
	limits := domain.QuotaLimits{MaxPerSession: 2, MaxPerDay: 100}

	_, err := d.Reserve(ctx, "a@example.com", "2026-10-19", limits)
	require.NoError(t, err)
	_, err = d.Reserve(ctx, "a@example.com", "2026-10-19", limits)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	usage, err := reopened.Usage(ctx, "a@example.com", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaUsage{Session: 2, Daily: 2}, usage)

	_, err = reopened.Reserve(ctx, "a@example.com", "2026-10-19", limits)
	assert.ErrorIs(t, err, domain.ErrSessionQuotaExceeded)

	usage, err = reopened.Usage(ctx, "a@example.com", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaUsage{Session: 2, Daily: 2}, usage)
}

func TestReserve_DayIsolation(t *testing.T) {
	d, _ := openTemp(t)
	ctx := context.Background()
	limits := domain.QuotaLimits{MaxPerSession: 10, MaxPerDay: 1}

	_, err := d.Reserve(ctx, "u", "2026-10-19", limits)
	require.NoError(t, err)
	_, err = d.Reserve(ctx, "u", "2026-10-19", limits)
	require.ErrorIs(t, err, domain.ErrDailyQuotaExceeded)

	usage, err := d.Reserve(ctx, "u", "2026-10-20", limits)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaUsage{Session: 2, Daily: 1}, usage)

	prev, err := d.Usage(ctx, "u", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 1, prev.Daily)
}

func TestReserve_Concurrent(t *testing.T) {
	d, _ := openTemp(t)
	ctx := context.Background()
	limits := domain.QuotaLimits{MaxPerSession: 1, MaxPerDay: 100}

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Reserve(ctx, "new-user", "2026-10-19", limits)
			switch {
			case err == nil:
				accepted.Add(1)
			case assert.ErrorIs(t, err, domain.ErrSessionQuotaExceeded):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, accepted.Load())
	assert.EqualValues(t, 7, rejected.Load())
}

func TestActivity_BoundedAndIndexed(t *testing.T) {
	d, _ := openTemp(t)
	ctx := context.Background()

	list, err := d.ListActivity(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)

	for i := int64(1); i <= 120; i++ {
		require.NoError(t, d.AppendActivity(ctx, "u", domain.ActivityRecord{
			ID: i, Action: "msg.send", Hash: fmt.Sprintf("0x%02x", i), Status: domain.StatusPending,
		}))
	}

	list, err = d.ListActivity(ctx, "u")
	require.NoError(t, err)
	require.Len(t, list, domain.MaxActivityPerUser)
	for i, r := range list {
		assert.Equal(t, int64(120-i), r.ID)
	}

	_, _, err = d.FindActivityByHash(ctx, fmt.Sprintf("0x%02x", 20))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	owner, rec, err := d.FindActivityByHash(ctx, fmt.Sprintf("0x%02x", 21))
	require.NoError(t, err)
	assert.Equal(t, "u", owner)
	assert.Equal(t, int64(21), rec.ID)
}

func TestActivity_TransitionPersists(t *testing.T) {
	d, path := openTemp(t)
	ctx := context.Background()

	require.NoError(t, d.AppendActivity(ctx, "u", domain.ActivityRecord{ID: 1, Hash: "0x1", Status: domain.StatusPending}))
	require.NoError(t, d.AppendActivity(ctx, "v", domain.ActivityRecord{ID: 2, Hash: "0x2", Status: domain.StatusPending}))

	pending, err := d.ListPendingActivity(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "u", pending[0].UserKey)

	moved, err := d.TransitionActivity(ctx, "u", 1, domain.StatusConfirmed, 1000)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = d.TransitionActivity(ctx, "u", 1, domain.StatusConfirmed, 1001)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = d.TransitionActivity(ctx, "u", 99, domain.StatusConfirmed, 1002)
	require.NoError(t, err)
	assert.False(t, moved)

	require.NoError(t, d.Close())
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	_, rec, err := reopened.FindActivityByHash(ctx, "0x1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, rec.Status)
	assert.Equal(t, int64(1000), rec.BlockNumber)

	pending, err = reopened.ListPendingActivity(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "v", pending[0].UserKey)
}

func TestLastBlockNumber_SurvivesTrimAndReopen(t *testing.T) {
	d, path := openTemp(t)
	ctx := context.Background()

	last, err := d.LastBlockNumber(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, d.AppendActivity(ctx, "u", domain.ActivityRecord{ID: 1, Hash: "0x1", Status: domain.StatusPending}))
	require.NoError(t, d.AppendActivity(ctx, "v", domain.ActivityRecord{ID: 2, Hash: "0x2", Status: domain.StatusPending}))
	require.NoError(t, d.AppendActivity(ctx, "w", domain.ActivityRecord{ID: 3, Hash: "0x3", Status: domain.StatusPending}))

	_, err = d.TransitionActivity(ctx, "u", 1, domain.StatusConfirmed, 1005)
	require.NoError(t, err)
	_, err = d.TransitionActivity(ctx, "v", 2, domain.StatusConfirmed, 1001)
	require.NoError(t, err)
	_, err = d.TransitionActivity(ctx, "w", 3, domain.StatusFailed, 0)
	require.NoError(t, err)

	for i := int64(10); i < 10+domain.MaxActivityPerUser; i++ {
		require.NoError(t, d.AppendActivity(ctx, "u", domain.ActivityRecord{ID: i, Hash: fmt.Sprintf("0xu%d", i), Status: domain.StatusPending}))
	}
	_, _, err = d.FindActivityByHash(ctx, "0x1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, d.Close())
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	last, err = reopened.LastBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1005), last)
}
