package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/studiobrain/internal/model"
)

const proposalColumns = `id, capability_id, actor_id, owner_uid, tenant_id, rationale, preview_summary,
	request_input, expected_effects, requested_by, input_hash, status, created_at_ms,
	approved_by, approved_at_ms, intake_id, intake_category, intake_flagged, intake_override`

// InsertProposal writes a new proposal row. The id must be unique.
func (s *Store) InsertProposal(ctx context.Context, p model.Proposal) error {
	inputJSON, err := marshalObject(p.RequestInput)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	effectsJSON, err := marshalStrings(p.ExpectedEffects)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}

	var approvedAt sql.NullInt64
	if p.ApprovedAt != nil {
		approvedAt = sql.NullInt64{Int64: toMillis(*p.ApprovedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (`+proposalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.CapabilityID,
		p.ActorID,
		p.OwnerUID,
		p.TenantID,
		p.Rationale,
		p.PreviewSummary,
		inputJSON,
		effectsJSON,
		p.RequestedBy,
		p.InputHash,
		string(p.Status),
		toMillis(p.CreatedAt),
		p.ApprovedBy,
		approvedAt,
		p.IntakeID,
		p.IntakeCategory,
		boolToInt(p.IntakeFlagged),
		string(p.IntakeOverride),
	)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// GetProposal retrieves a proposal by id. Returns ErrNotFound if absent.
func (s *Store) GetProposal(ctx context.Context, id string) (model.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Proposal{}, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	return p, err
}

// TransitionProposal moves a proposal from one status to another with a
// compare-and-set on the current status. approvedBy/at are recorded only
// for the approved and rejected targets.
//
// Returns ErrStaleTransition when the row is not in the from state, and
// an error for any move CanTransition does not allow.
func (s *Store) TransitionProposal(ctx context.Context, id string, from, to model.ProposalStatus, actorID string, at time.Time) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("transition proposal %s: %s -> %s not allowed", id, from, to)
	}

	var res sql.Result
	var err error
	switch to {
	case model.StatusApproved, model.StatusRejected:
		res, err = s.db.ExecContext(ctx, `
			UPDATE proposals SET status = ?, approved_by = ?, approved_at_ms = ?
			WHERE id = ? AND status = ?
		`, string(to), actorID, toMillis(at), id, string(from))
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE proposals SET status = ? WHERE id = ? AND status = ?
		`, string(to), id, string(from))
	}
	if err != nil {
		return fmt.Errorf("transition proposal %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition proposal %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("transition proposal %s: %w", id, ErrStaleTransition)
	}
	return nil
}

// SetIntakeOverride records a staff override decision on a pending
// proposal. Terminal proposals are never touched.
func (s *Store) SetIntakeOverride(ctx context.Context, id string, override model.IntakeOverride) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET intake_override = ?
		WHERE id = ? AND status = 'pending'
	`, string(override), id)
	if err != nil {
		return fmt.Errorf("set intake override %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set intake override %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("set intake override %s: %w", id, ErrStaleTransition)
	}
	return nil
}

// ListProposals returns proposals newest first. An empty status lists all.
func (s *Store) ListProposals(ctx context.Context, status model.ProposalStatus, limit int) ([]model.Proposal, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+proposalColumns+` FROM proposals
			ORDER BY created_at_ms DESC, id DESC LIMIT ?
		`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+proposalColumns+` FROM proposals WHERE status = ?
			ORDER BY created_at_ms DESC, id DESC LIMIT ?
		`, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	proposals := []model.Proposal{}
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return proposals, nil
}

// CountProposalsByStatus returns the number of proposals in each status.
// Every valid status is present in the result, zero if unused.
func (s *Store) CountProposalsByStatus(ctx context.Context) (map[model.ProposalStatus]int64, error) {
	counts := make(map[model.ProposalStatus]int64, len(model.ValidProposalStatuses))
	for st := range model.ValidProposalStatuses {
		counts[st] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM proposals GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count proposals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan proposal count: %w", err)
		}
		counts[model.ProposalStatus(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal counts: %w", err)
	}
	return counts, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (model.Proposal, error) {
	var p model.Proposal
	var inputJSON, effectsJSON, status, override string
	var createdMs int64
	var approvedMs sql.NullInt64
	var flagged int

	if err := row.Scan(
		&p.ID, &p.CapabilityID, &p.ActorID, &p.OwnerUID, &p.TenantID, &p.Rationale, &p.PreviewSummary,
		&inputJSON, &effectsJSON, &p.RequestedBy, &p.InputHash, &status, &createdMs,
		&p.ApprovedBy, &approvedMs, &p.IntakeID, &p.IntakeCategory, &flagged, &override,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Proposal{}, err
		}
		return model.Proposal{}, fmt.Errorf("scan proposal: %w", err)
	}

	input, err := unmarshalObject(inputJSON)
	if err != nil {
		return model.Proposal{}, fmt.Errorf("scan proposal %s: %w", p.ID, err)
	}
	effects, err := unmarshalStrings(effectsJSON)
	if err != nil {
		return model.Proposal{}, fmt.Errorf("scan proposal %s: %w", p.ID, err)
	}

	p.RequestInput = input
	p.ExpectedEffects = effects
	p.Status = model.ProposalStatus(status)
	p.CreatedAt = fromMillis(createdMs)
	if approvedMs.Valid {
		at := fromMillis(approvedMs.Int64)
		p.ApprovedAt = &at
	}
	p.IntakeFlagged = flagged != 0
	p.IntakeOverride = model.IntakeOverride(override)
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
