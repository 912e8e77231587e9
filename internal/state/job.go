package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/studiobrain/internal/model"
	"github.com/roach88/studiobrain/internal/store"
)

// SnapshotStore is the persistence the job needs. *store.Store
// satisfies it.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap model.StudioStateSnapshot) error
	PreviousSnapshot(ctx context.Context, date string) (model.StudioStateSnapshot, error)
	UpsertDiff(ctx context.Context, diff model.StudioStateDiff) error
	DeleteDiff(ctx context.Context, toDate string) error
}

// RunResult is the outcome of one job run. Diff is nil when nothing
// changed or there was no earlier snapshot.
type RunResult struct {
	Snapshot model.StudioStateSnapshot `json:"snapshot"`
	Diff     *model.StudioStateDiff    `json:"diff"`
}

// Job computes, persists and diffs one snapshot per run. It is the only
// writer of snapshots and diffs.
type Job struct {
	computer *Computer
	store    SnapshotStore
	logger   *slog.Logger
}

// NewJob creates a job. A nil logger uses slog.Default().
func NewJob(c *Computer, s SnapshotStore, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{computer: c, store: s, logger: logger}
}

// Run computes the snapshot for today, upserts it, and stores the diff
// against the most recent earlier date. A re-run with no changes removes
// any diff left by an earlier run on the same date.
func (j *Job) Run(ctx context.Context) (RunResult, error) {
	snap := j.computer.Compute(ctx)
	if err := j.store.UpsertSnapshot(ctx, snap); err != nil {
		return RunResult{}, err
	}

	prev, err := j.store.PreviousSnapshot(ctx, snap.SnapshotDate)
	if errors.Is(err, store.ErrNotFound) {
		return RunResult{Snapshot: snap}, j.store.DeleteDiff(ctx, snap.SnapshotDate)
	}
	if err != nil {
		return RunResult{}, fmt.Errorf("load previous snapshot: %w", err)
	}

	diff := Diff(prev, snap)
	if diff == nil {
		if err := j.store.DeleteDiff(ctx, snap.SnapshotDate); err != nil {
			return RunResult{}, err
		}
	} else if err := j.store.UpsertDiff(ctx, *diff); err != nil {
		return RunResult{}, err
	}

	j.logger.Info("state snapshot stored",
		"date", snap.SnapshotDate,
		"completeness", snap.Diagnostics.Completeness,
		"changes", changeCount(diff),
	)
	return RunResult{Snapshot: snap, Diff: diff}, nil
}

func changeCount(d *model.StudioStateDiff) int {
	if d == nil {
		return 0
	}
	return len(d.Changes)
}
