package capability

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes runtime errors.
type ErrorCode string

const (
	// ErrCodeUnknownCapability indicates the capability id is not registered.
	ErrCodeUnknownCapability ErrorCode = "UNKNOWN_CAPABILITY"

	// ErrCodeInvalidStateTransition indicates an illegal lifecycle move,
	// such as approving a rejected proposal or executing a pending one.
	ErrCodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"

	// ErrCodeProposalNotFound indicates no proposal has the given id.
	ErrCodeProposalNotFound ErrorCode = "PROPOSAL_NOT_FOUND"

	// ErrCodeIntakeBlocked indicates a flagged proposal has no granted
	// override.
	ErrCodeIntakeBlocked ErrorCode = "INTAKE_BLOCKED"

	// ErrCodeInvalidOverride indicates a malformed intake override request.
	ErrCodeInvalidOverride ErrorCode = "INVALID_OVERRIDE"

	// ErrCodePolicyMisconfigured indicates policy metadata contradicts the
	// capability contract (a write capability marked exempt).
	ErrCodePolicyMisconfigured ErrorCode = "POLICY_MISCONFIGURED"
)

// Error is a runtime failure with a stable code.
type Error struct {
	Code         ErrorCode
	Message      string
	ProposalID   string
	CapabilityID string
	Err          error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProposalID != "" {
		return fmt.Sprintf("%s: %s (proposal=%s)", e.Code, e.Message, e.ProposalID)
	}
	if e.CapabilityID != "" {
		return fmt.Sprintf("%s: %s (capability=%s)", e.Code, e.Message, e.CapabilityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the runtime error code of err, or "" if err is not a
// runtime Error.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsInvalidTransition returns true if err is an INVALID_STATE_TRANSITION.
// Uses errors.As to handle wrapped errors.
func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidStateTransition
}

// IsNotFound returns true if err is a PROPOSAL_NOT_FOUND.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeProposalNotFound
}

// IsUnknownCapability returns true if err is an UNKNOWN_CAPABILITY.
func IsUnknownCapability(err error) bool {
	return CodeOf(err) == ErrCodeUnknownCapability
}

func newTransitionError(proposalID string, from, action string) *Error {
	return &Error{
		Code:       ErrCodeInvalidStateTransition,
		Message:    fmt.Sprintf("cannot %s a proposal in status %s", action, from),
		ProposalID: proposalID,
	}
}
