package state

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/studiobrain/internal/connector"
	"github.com/roach88/studiobrain/internal/model"
)

// Section names a snapshot field group.
type Section string

const (
	SectionCounts  Section = "counts"
	SectionOps     Section = "ops"
	SectionFinance Section = "finance"
)

// Contribution is what one source adds to a snapshot.
type Contribution struct {
	Section Section
	Values  map[string]int64
}

// Source is one independent input to the snapshot.
type Source interface {
	Name() string
	Collect(ctx context.Context) (Contribution, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context) (Contribution, error)
}

func (s SourceFunc) Name() string { return s.SourceName }

func (s SourceFunc) Collect(ctx context.Context) (Contribution, error) { return s.Fn(ctx) }

// ProposalCounter is satisfied by *store.Store.
type ProposalCounter interface {
	CountProposalsByStatus(ctx context.Context) (map[model.ProposalStatus]int64, error)
}

// ProposalSource counts proposals per status.
func ProposalSource(s ProposalCounter) Source {
	return SourceFunc{SourceName: "proposals", Fn: func(ctx context.Context) (Contribution, error) {
		byStatus, err := s.CountProposalsByStatus(ctx)
		if err != nil {
			return Contribution{}, err
		}
		return Contribution{Section: SectionCounts, Values: map[string]int64{
			"proposalsPending":  byStatus[model.StatusPending],
			"proposalsApproved": byStatus[model.StatusApproved],
			"proposalsRejected": byStatus[model.StatusRejected],
			"proposalsExecuted": byStatus[model.StatusExecuted],
		}}, nil
	}}
}

// AuditCounter is satisfied by *store.Store.
type AuditCounter interface {
	CountAuditEventsSince(ctx context.Context, actionPattern string, since time.Time) (int64, error)
}

// AuditSource counts audit activity in the 24 hours before now.
func AuditSource(s AuditCounter, now func() time.Time) Source {
	patterns := []struct{ field, pattern string }{
		{"auditEvents24h", "%"},
		{"executions24h", "capability.%.executed"},
		{"blockedExecutions24h", "capability.%.execution_blocked"},
		{"failedExecutions24h", "capability.%.execution_failed"},
		{"intakeReviews24h", "intake.routed_to_review"},
	}
	return SourceFunc{SourceName: "audit", Fn: func(ctx context.Context) (Contribution, error) {
		since := now().Add(-24 * time.Hour)
		values := make(map[string]int64, len(patterns))
		for _, p := range patterns {
			n, err := s.CountAuditEventsSince(ctx, p.pattern, since)
			if err != nil {
				return Contribution{}, fmt.Errorf("%s: %w", p.field, err)
			}
			values[p.field] = n
		}
		return Contribution{Section: SectionCounts, Values: values}, nil
	}}
}

// StatusReader is satisfied by *connector.Registry.
type StatusReader interface {
	ReadStatus(ctx context.Context, connectorID string, input map[string]any) (connector.Result, error)
}

// LowBatteryPct is the threshold under which a device counts as low.
const LowBatteryPct = 20

// DeviceSource summarizes the devices reported by one connector. Field
// names are prefixed with prefix ("devices", "kilns").
func DeviceSource(r StatusReader, connectorID, prefix string) Source {
	return SourceFunc{SourceName: connectorID, Fn: func(ctx context.Context) (Contribution, error) {
		res, err := r.ReadStatus(ctx, connectorID, nil)
		if err != nil {
			return Contribution{}, err
		}
		var online, stale, low int64
		for _, d := range res.Devices {
			if d.Online {
				online++
			}
			if s, _ := d.Attributes["stale"].(bool); s {
				stale++
			}
			if d.BatteryPct != nil && *d.BatteryPct < LowBatteryPct {
				low++
			}
		}
		return Contribution{Section: SectionOps, Values: map[string]int64{
			prefix + "Total":      int64(len(res.Devices)),
			prefix + "Online":     online,
			prefix + "Stale":      stale,
			prefix + "LowBattery": low,
		}}, nil
	}}
}

// SummaryReader is satisfied by *connector.Backend.
type SummaryReader interface {
	Summary(ctx context.Context) (map[string]int64, error)
}

// FinanceSource copies the backend business summary into the finance
// section. Only the fields tracked by Fields are kept.
func FinanceSource(r SummaryReader) Source {
	return SourceFunc{SourceName: "finance", Fn: func(ctx context.Context) (Contribution, error) {
		summary, err := r.Summary(ctx)
		if err != nil {
			return Contribution{}, err
		}
		values := map[string]int64{}
		for _, f := range Fields {
			section, name := splitField(f)
			if section == SectionFinance {
				values[name] = summary[name]
			}
		}
		return Contribution{Section: SectionFinance, Values: values}, nil
	}}
}
