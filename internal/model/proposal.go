package model

import "time"

// ProposalStatus is the approval state of a proposal.
type ProposalStatus string

const (
	StatusPending  ProposalStatus = "pending"
	StatusApproved ProposalStatus = "approved"
	StatusRejected ProposalStatus = "rejected"
	StatusExecuted ProposalStatus = "executed"
)

// ValidProposalStatuses defines allowed status values.
var ValidProposalStatuses = map[ProposalStatus]bool{
	StatusPending:  true,
	StatusApproved: true,
	StatusRejected: true,
	StatusExecuted: true,
}

// allowedTransitions lists the only legal status moves. Status never
// moves backwards; rejected and executed have no outgoing edges.
var allowedTransitions = map[ProposalStatus][]ProposalStatus{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusExecuted},
}

// Terminal reports whether no further transition is possible.
func (s ProposalStatus) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to ProposalStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IntakeOverride records a staff decision on a flagged intake.
type IntakeOverride string

const (
	OverrideNone    IntakeOverride = ""
	OverrideGranted IntakeOverride = "override_granted"
	OverrideDenied  IntakeOverride = "override_denied"
)

// Proposal is one actor's request to perform a capability.
type Proposal struct {
	ID              string         `json:"id"`
	CapabilityID    string         `json:"capabilityId"`
	ActorID         string         `json:"actorId"`
	OwnerUID        string         `json:"ownerUid"`
	TenantID        string         `json:"tenantId,omitempty"`
	Rationale       string         `json:"rationale"`
	PreviewSummary  string         `json:"previewSummary"`
	RequestInput    map[string]any `json:"requestInput"`
	ExpectedEffects []string       `json:"expectedEffects"`
	RequestedBy     string         `json:"requestedBy,omitempty"`
	InputHash       string         `json:"inputHash"`
	Status          ProposalStatus `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
	ApprovedBy      string         `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time     `json:"approvedAt,omitempty"`

	// Intake screening outcome. A flagged proposal needs an
	// override_granted decision before it can be approved.
	IntakeID       string         `json:"intakeId"`
	IntakeCategory string         `json:"intakeCategory"`
	IntakeFlagged  bool           `json:"intakeFlagged"`
	IntakeOverride IntakeOverride `json:"intakeOverride,omitempty"`
}
