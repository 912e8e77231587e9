package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/studiobrain/internal/canon"
	"github.com/roach88/studiobrain/internal/model"
)

// UpsertSnapshot writes the snapshot for its date, replacing any row
// already stored for that date.
func (s *Store) UpsertSnapshot(ctx context.Context, snap model.StudioStateSnapshot) error {
	body, err := canon.Marshal(snap)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.SnapshotDate, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state_snapshots (snapshot_date, schema_version, generated_at_ms, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(snapshot_date) DO UPDATE SET
			schema_version = excluded.schema_version,
			generated_at_ms = excluded.generated_at_ms,
			body = excluded.body
	`, snap.SnapshotDate, snap.SchemaVersion, toMillis(snap.GeneratedAt), string(body))
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.SnapshotDate, err)
	}
	return nil
}

// GetSnapshot returns the snapshot stored for date (YYYY-MM-DD).
// Returns ErrNotFound if none exists.
func (s *Store) GetSnapshot(ctx context.Context, date string) (model.StudioStateSnapshot, error) {
	return s.querySnapshot(ctx, `SELECT body FROM state_snapshots WHERE snapshot_date = ?`, date)
}

// PreviousSnapshot returns the most recent snapshot strictly before date.
// Returns ErrNotFound if there is none.
func (s *Store) PreviousSnapshot(ctx context.Context, date string) (model.StudioStateSnapshot, error) {
	return s.querySnapshot(ctx, `
		SELECT body FROM state_snapshots WHERE snapshot_date < ?
		ORDER BY snapshot_date DESC LIMIT 1
	`, date)
}

// LatestSnapshot returns the snapshot with the greatest date.
func (s *Store) LatestSnapshot(ctx context.Context) (model.StudioStateSnapshot, error) {
	return s.querySnapshot(ctx, `SELECT body FROM state_snapshots ORDER BY snapshot_date DESC LIMIT 1`)
}

func (s *Store) querySnapshot(ctx context.Context, query string, args ...any) (model.StudioStateSnapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StudioStateSnapshot{}, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return model.StudioStateSnapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	var snap model.StudioStateSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return model.StudioStateSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// UpsertDiff stores the diff keyed by its target date.
func (s *Store) UpsertDiff(ctx context.Context, diff model.StudioStateDiff) error {
	changes, err := canon.Marshal(diff.Changes)
	if err != nil {
		return fmt.Errorf("upsert diff %s: %w", diff.ToSnapshotDate, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state_diffs (to_snapshot_date, from_snapshot_date, created_at_ms, changes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(to_snapshot_date) DO UPDATE SET
			from_snapshot_date = excluded.from_snapshot_date,
			created_at_ms = excluded.created_at_ms,
			changes = excluded.changes
	`, diff.ToSnapshotDate, diff.FromSnapshotDate, toMillis(s.now()), string(changes))
	if err != nil {
		return fmt.Errorf("upsert diff %s: %w", diff.ToSnapshotDate, err)
	}
	return nil
}

// DeleteDiff removes the diff targeting date, if any. A re-run that finds
// no changes must not leave an earlier run's diff behind.
func (s *Store) DeleteDiff(ctx context.Context, toDate string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state_diffs WHERE to_snapshot_date = ?`, toDate); err != nil {
		return fmt.Errorf("delete diff %s: %w", toDate, err)
	}
	return nil
}

// LatestDiff returns the diff with the greatest target date.
// Returns ErrNotFound if no diff has been produced.
func (s *Store) LatestDiff(ctx context.Context) (model.StudioStateDiff, error) {
	var diff model.StudioStateDiff
	var changes string
	err := s.db.QueryRowContext(ctx, `
		SELECT to_snapshot_date, from_snapshot_date, changes FROM state_diffs
		ORDER BY to_snapshot_date DESC LIMIT 1
	`).Scan(&diff.ToSnapshotDate, &diff.FromSnapshotDate, &changes)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StudioStateDiff{}, fmt.Errorf("diff: %w", ErrNotFound)
	}
	if err != nil {
		return model.StudioStateDiff{}, fmt.Errorf("query diff: %w", err)
	}
	if err := json.Unmarshal([]byte(changes), &diff.Changes); err != nil {
		return model.StudioStateDiff{}, fmt.Errorf("decode diff: %w", err)
	}
	return diff, nil
}
