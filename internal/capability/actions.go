package capability

// Audit action names.

func actionProposalCreated(id string) string  { return "capability." + id + ".proposal_created" }
func actionProposalApproved(id string) string { return "capability." + id + ".proposal_approved" }
func actionProposalRejected(id string) string { return "capability." + id + ".proposal_rejected" }
func actionExecuted(id string) string         { return "capability." + id + ".executed" }
func actionExecutionBlocked(id string) string { return "capability." + id + ".execution_blocked" }
func actionExecutionFailed(id string) string  { return "capability." + id + ".execution_failed" }
func actionExecutionRefused(id string) string { return "capability." + id + ".execution_refused" }

const (
	ActionIntakeRoutedToReview  = "intake.routed_to_review"
	ActionIntakeOverrideGranted = "intake.override_granted"
	ActionIntakeOverrideDenied  = "intake.override_denied"
	ActionKillSwitchEnabled     = "kill_switch.enabled"
	ActionKillSwitchDisabled    = "kill_switch.disabled"
)

// SystemPolicyActor approves proposals that policy exempts from review.
const SystemPolicyActor = "system:policy"
