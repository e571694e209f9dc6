package pgqueue

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/banshee-data/footfall.report/internal/jobs"
	"github.com/banshee-data/footfall.report/internal/timeutil"
)

func setupQueue(t *testing.T) (*Queue, *timeutil.MockClock) {
	t.Helper()
	dsn := os.Getenv("FOOTFALL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set FOOTFALL_TEST_POSTGRES_DSN to run PostgreSQL queue tests")
	}
	db, err := Open(dsn)
	require.NoError(t, err)
	q := New(db, 2)
	require.NoError(t, q.AutoMigrate(context.Background()))
	require.NoError(t, db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&JobRow{}).Error)

	clock := timeutil.NewMockClock(time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC))
	q.Clock = clock
	return q, clock
}

func TestClaimOrderAndTransition(t *testing.T) {
	q, clock := setupQueue(t)
	ctx := context.Background()

	later, err := q.Enqueue(ctx, jobs.TypeKPIRebuild, map[string]any{"n": 1}, clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	first, err := q.Enqueue(ctx, jobs.TypeKPIRebuild, map[string]any{"n": 0}, clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, jobs.TypeKPIRebuild, nil, clock.Now().Add(time.Hour))
	require.NoError(t, err)

	got, err := q.Claim(ctx, "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, jobs.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LockedBy)
	assert.Equal(t, "w1", *got.LockedBy)

	got, err = q.Claim(ctx, "w1", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, later.ID, got.ID)

	got, err = q.Claim(ctx, "w1", 0)
	require.NoError(t, err)
	assert.Nil(t, got, "future job must not be claimed")
}

func TestClaimExclusive(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(ctx, jobs.TypeProcessSegment, map[string]int{"segment_id": i}, time.Time{})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Claim(ctx, "w", 0)
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
	for id, c := range seen {
		assert.Equal(t, 1, c, "job %d claimed %d times", id, c)
	}
}

func TestSweepStaleAndFinish(t *testing.T) {
	q, clock := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, jobs.TypeKPIRebuild, nil, time.Time{})
	require.NoError(t, err)
	j, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, j)

	clock.Advance(2 * time.Minute)
	requeued, failed, err := q.SweepStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)
	assert.Zero(t, failed)

	again, err := q.Claim(ctx, "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)

	clock.Advance(2 * time.Minute)
	_, failed, err = q.SweepStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)
	got, err := q.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, jobs.ReasonMaxAttemptsReached, *got.LastError)

	// The first owner's lock was swept, so it can no longer finish the job.
	assert.ErrorIs(t, q.MarkDone(ctx, j), jobs.ErrLockLost)

	_, err = q.Enqueue(ctx, jobs.TypeKPIRebuild, nil, time.Time{})
	require.NoError(t, err)
	other, err := q.Claim(ctx, "w3", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.ErrorIs(t, q.MarkDone(ctx, &jobs.Job{ID: other.ID}), jobs.ErrLockLost)
	require.NoError(t, q.MarkFailed(ctx, other, "boom"))
	got, err = q.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, "boom", *got.LastError)

	assert.ErrorIs(t, q.MarkDone(ctx, &jobs.Job{ID: -1}), ErrNotFound)
}
