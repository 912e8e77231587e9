package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Lint issue codes.
const (
	IssueMissingOwner          = "MISSING_OWNER"
	IssueMissingRollbackPlan   = "MISSING_ROLLBACK_PLAN"
	IssueMissingEscalationPath = "MISSING_ESCALATION_PATH"
	IssueApprovalModeMismatch  = "APPROVAL_MODE_MISMATCH"
	IssueWriteCapabilityExempt = "WRITE_CAPABILITY_EXEMPT"
)

// Issue is one governance violation found by Lint.
type Issue struct {
	CapabilityID string `json:"capabilityId"`
	Target       string `json:"target"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

// Lint checks every capability against its policy metadata.
// Returns all issues found (does not fail-fast), ordered by capability id
// then rule order. A capability with no metadata entry is treated as an
// entry with every field empty.
func Lint(caps []Capability, meta MetadataSet) []Issue {
	sorted := make([]Capability, len(caps))
	copy(sorted, caps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	issues := []Issue{}
	for _, c := range sorted {
		m := meta[c.ID]
		add := func(code, msg string) {
			issues = append(issues, Issue{CapabilityID: c.ID, Target: c.Target, Code: code, Message: msg})
		}

		if strings.TrimSpace(m.Owner) == "" {
			add(IssueMissingOwner, "owner is required")
		}
		if strings.TrimSpace(m.RollbackPlan) == "" {
			add(IssueMissingRollbackPlan, "rollbackPlan is required")
		}
		if strings.TrimSpace(m.EscalationPath) == "" {
			add(IssueMissingEscalationPath, "escalationPath is required")
		}
		if m.ApprovalMode == ApprovalExempt && c.RequiresApproval {
			add(IssueApprovalModeMismatch, "capability requires approval but policy approvalMode is exempt")
		}
		if m.ApprovalMode == ApprovalExempt && !c.ReadOnly {
			add(IssueWriteCapabilityExempt, "write capability must not be exempt from approval")
		}
	}
	return issues
}

// Report is the policy lint result printed by the CLI.
type Report struct {
	OK                  bool           `json:"ok"`
	CheckedAt           time.Time      `json:"checkedAt"`
	CapabilitiesChecked int            `json:"capabilitiesChecked"`
	ByTarget            map[string]int `json:"byTarget"`
	Violations          []Issue        `json:"violations"`
}

// BuildReport runs Lint and summarises the outcome. ByTarget counts
// violations per capability target; every target appears, zero if clean.
func BuildReport(caps []Capability, meta MetadataSet, checkedAt time.Time) Report {
	issues := Lint(caps, meta)
	byTarget := make(map[string]int)
	for _, c := range caps {
		byTarget[c.Target] += 0
	}
	for _, is := range issues {
		byTarget[is.Target]++
	}
	return Report{
		OK:                  len(issues) == 0,
		CheckedAt:           checkedAt.UTC(),
		CapabilitiesChecked: len(caps),
		ByTarget:            byTarget,
		Violations:          issues,
	}
}

// Consistent reports whether executing c under m would contradict the
// approval contract. Lint catches the same condition; the runtime checks
// it again so a misconfigured deployment never executes silently.
func Consistent(c Capability, m Metadata) error {
	if !c.ReadOnly && m.ApprovalMode == ApprovalExempt {
		return fmt.Errorf("%s: write capability %s has approvalMode exempt", IssueWriteCapabilityExempt, c.ID)
	}
	return nil
}
