package model

import "time"

// ActorType distinguishes human reviewers from automated callers.
type ActorType string

const (
	ActorStaff  ActorType = "staff"
	ActorSystem ActorType = "system"
)

// AuditEvent is one append-only decision record.
//
// ID and At are assigned by the store on append; callers leave them
// empty. Rows are never updated; only age-based retention deletes them.
type AuditEvent struct {
	ID            string         `json:"id"`
	At            time.Time      `json:"at"`
	ActorType     ActorType      `json:"actorType"`
	ActorID       string         `json:"actorId"`
	Action        string         `json:"action"`
	Rationale     string         `json:"rationale"`
	Target        string         `json:"target"`
	ApprovalState string         `json:"approvalState"`
	InputHash     string         `json:"inputHash"`
	OutputHash    string         `json:"outputHash,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}
