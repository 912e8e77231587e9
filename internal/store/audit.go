package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/studiobrain/internal/model"
)

// AppendAuditEvent inserts an event and returns it with the assigned id
// and timestamp. Caller-supplied ID and At are ignored.
//
// Safe for concurrent use; each call is a single INSERT.
func (s *Store) AppendAuditEvent(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error) {
	if ev.ActorType == "" {
		ev.ActorType = model.ActorSystem
	}
	ev.ID = s.newID()
	ev.At = s.now().UTC().Truncate(time.Millisecond)
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}

	metaJSON, err := marshalObject(ev.Metadata)
	if err != nil {
		return model.AuditEvent{}, fmt.Errorf("append audit event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events
		(id, at_ms, actor_type, actor_id, action, rationale, target, approval_state, input_hash, output_hash, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		toMillis(ev.At),
		string(ev.ActorType),
		ev.ActorID,
		ev.Action,
		ev.Rationale,
		ev.Target,
		ev.ApprovalState,
		ev.InputHash,
		ev.OutputHash,
		metaJSON,
	)
	if err != nil {
		return model.AuditEvent{}, fmt.Errorf("append audit event: %w", err)
	}
	return ev, nil
}

// ListRecentAuditEvents returns up to limit events, newest first.
// Ties on timestamp resolve by insertion order (later insert first).
//
// Returns an empty slice (not nil) if there are no events.
func (s *Store) ListRecentAuditEvents(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		return []model.AuditEvent{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at_ms, actor_type, actor_id, action, rationale, target, approval_state, input_hash, output_hash, metadata
		FROM audit_events
		ORDER BY at_ms DESC, seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []model.AuditEvent{}
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// CountAuditEventsSince counts events whose action matches the SQL LIKE
// pattern and whose timestamp is at or after since.
func (s *Store) CountAuditEventsSince(ctx context.Context, actionPattern string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_events
		WHERE action LIKE ? AND at_ms >= ?
	`, actionPattern, toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

// CountAuditActionSince counts events with exactly the given action at or
// after since. Quota windows use this so capability ids containing LIKE
// wildcards never match their neighbours.
func (s *Store) CountAuditActionSince(ctx context.Context, action string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_events
		WHERE action = ? AND at_ms >= ?
	`, action, toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit action %s: %w", action, err)
	}
	return n, nil
}

// PruneAuditEventsBefore deletes events older than cutoff and returns the
// number removed. Irreversible; intended for the retention timer only.
func (s *Store) PruneAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE at_ms < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune audit events: rows affected: %w", err)
	}
	return n, nil
}

func scanAuditEvent(rows *sql.Rows) (model.AuditEvent, error) {
	var ev model.AuditEvent
	var atMs int64
	var actorType, metaJSON string
	if err := rows.Scan(
		&ev.ID, &atMs, &actorType, &ev.ActorID, &ev.Action, &ev.Rationale,
		&ev.Target, &ev.ApprovalState, &ev.InputHash, &ev.OutputHash, &metaJSON,
	); err != nil {
		return model.AuditEvent{}, fmt.Errorf("scan audit event: %w", err)
	}
	ev.At = fromMillis(atMs)
	ev.ActorType = model.ActorType(actorType)
	meta, err := unmarshalObject(metaJSON)
	if err != nil {
		return model.AuditEvent{}, fmt.Errorf("scan audit event %s: %w", ev.ID, err)
	}
	ev.Metadata = meta
	return ev, nil
}
