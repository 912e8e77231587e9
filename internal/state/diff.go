package state

import (
	"strings"

	"github.com/roach88/studiobrain/internal/model"
)

// Fields is the fixed set of numeric field paths compared between
// snapshots. A field absent from a snapshot reads as zero.
var Fields = []string{
	"counts.proposalsPending",
	"counts.proposalsApproved",
	"counts.proposalsRejected",
	"counts.proposalsExecuted",
	"counts.auditEvents24h",
	"counts.executions24h",
	"counts.blockedExecutions24h",
	"counts.failedExecutions24h",
	"counts.intakeReviews24h",
	"ops.devicesTotal",
	"ops.devicesOnline",
	"ops.devicesStale",
	"ops.devicesLowBattery",
	"ops.kilnsTotal",
	"ops.kilnsOnline",
	"ops.kilnsStale",
	"finance.openInvoices",
	"finance.unpaidCents",
	"finance.reservationsToday",
}

// Diff compares prev and cur over Fields. It returns nil when no field
// changed.
func Diff(prev, cur model.StudioStateSnapshot) *model.StudioStateDiff {
	changes := map[string]model.FieldChange{}
	for _, f := range Fields {
		from, to := fieldValue(prev, f), fieldValue(cur, f)
		if from != to {
			changes[f] = model.FieldChange{From: from, To: to}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return &model.StudioStateDiff{
		FromSnapshotDate: prev.SnapshotDate,
		ToSnapshotDate:   cur.SnapshotDate,
		Changes:          changes,
	}
}

func fieldValue(s model.StudioStateSnapshot, path string) int64 {
	section, name := splitField(path)
	return sectionMap(&s, section)[name]
}

// sectionMap returns the map backing section, or nil for an unknown one.
func sectionMap(s *model.StudioStateSnapshot, section Section) map[string]int64 {
	switch section {
	case SectionCounts:
		return s.Counts
	case SectionOps:
		return s.Ops
	case SectionFinance:
		return s.Finance
	}
	return nil
}

func splitField(path string) (Section, string) {
	section, name, _ := strings.Cut(path, ".")
	return Section(section), name
}
