package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayer/internal/domain"
)

// openTestDB connects to RELAYER_TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("RELAYER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RELAYER_TEST_DATABASE_URL not set")
	}
	d, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestReserve(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	user := "pg-" + uuid.NewString()
	limits := domain.QuotaLimits{MaxPerSession: 2, MaxPerDay: 100}

	u, err := d.Reserve(ctx, user, "2026-10-19", limits)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaUsage{Session: 1, Daily: 1}, u)

	_, err = d.Reserve(ctx, user, "2026-10-20", limits)
	require.NoError(t, err)

	_, err = d.Reserve(ctx, user, "2026-10-20", limits)
	assert.ErrorIs(t, err, domain.ErrSessionQuotaExceeded)

	u, err = d.Usage(ctx, user, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaUsage{Session: 2, Daily: 1}, u)
}

func TestReserve_Concurrent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	user := "pg-" + uuid.NewString()
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
			_, err := d.Reserve(ctx, user, "2026-10-19", limits)
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

	u, err := d.Usage(ctx, user, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaUsage{Session: 1, Daily: 1}, u)
}

func TestActivity(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	user := "pg-" + uuid.NewString()

	for i := int64(1); i <= 103; i++ {
		require.NoError(t, d.AppendActivity(ctx, user, domain.ActivityRecord{
			ID: i, Action: "nft.mint", Hash: fmt.Sprintf("%s-%d", user, i), Timestamp: i, Status: domain.StatusPending,
		}))
	}

	list, err := d.ListActivity(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, domain.MaxActivityPerUser)
	assert.Equal(t, int64(103), list[0].ID)
	assert.Equal(t, int64(4), list[len(list)-1].ID)

	moved, err := d.TransitionActivity(ctx, user, 103, domain.StatusConfirmed, 1000)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = d.TransitionActivity(ctx, user, 103, domain.StatusConfirmed, 1001)
	require.NoError(t, err)
	assert.False(t, moved)

	owner, rec, err := d.FindActivityByHash(ctx, fmt.Sprintf("%s-%d", user, 103))
	require.NoError(t, err)
	assert.Equal(t, user, owner)
	assert.Equal(t, domain.StatusConfirmed, rec.Status)
	assert.Equal(t, int64(1000), rec.BlockNumber)

	_, _, err = d.FindActivityByHash(ctx, fmt.Sprintf("%s-%d", user, 1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
