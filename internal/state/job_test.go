package state

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/studiobrain/internal/store"
	"github.com/roach88/studiobrain/internal/testutil"
)

func newJobEnv(t *testing.T) (*Job, *store.Store, *testutil.FakeClock, *atomic.Int64) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pending := &atomic.Int64{}
	src := SourceFunc{SourceName: "proposals", Fn: func(ctx context.Context) (Contribution, error) {
		return Contribution{Section: SectionCounts, Values: map[string]int64{"proposalsPending": pending.Load()}}, nil
	}}
	job := NewJob(NewComputer([]Source{src}, WithClock(clock.Now)), s, nil)
	return job, s, clock, pending
}

func TestJob_FirstRunHasNoDiff(t *testing.T) {
	job, s, _, pending := newJobEnv(t)
	pending.Store(2)

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Diff)

	got, err := s.GetSnapshot(context.Background(), "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Counts["proposalsPending"])
}

func TestJob_SameDateRerunOverwrites(t *testing.T) {
	job, s, clock, pending := newJobEnv(t)
	ctx := context.Background()

	pending.Store(1)
	_, err := job.Run(ctx)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	pending.Store(6)
	_, err = job.Run(ctx)
	require.NoError(t, err)

	got, err := s.GetSnapshot(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Counts["proposalsPending"])
}

func TestJob_DiffAgainstPreviousDate(t *testing.T) {
	job, s, clock, pending := newJobEnv(t)
	ctx := context.Background()

	pending.Store(1)
	_, err := job.Run(ctx)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	pending.Store(4)
	res, err := job.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Diff)
	assert.Equal(t, "2026-03-14", res.Diff.FromSnapshotDate)
	assert.Equal(t, "2026-03-15", res.Diff.ToSnapshotDate)
	assert.Equal(t, int64(1), res.Diff.Changes["counts.proposalsPending"].From)
	assert.Equal(t, int64(4), res.Diff.Changes["counts.proposalsPending"].To)

	stored, err := s.LatestDiff(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Diff.Changes, stored.Changes)

	// Back to the previous value on the same date: the stale diff goes.
	pending.Store(1)
	res, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Nil(t, res.Diff)
	_, err = s.LatestDiff(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
