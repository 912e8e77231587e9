package capability

import (
	"context"
	"fmt"
	"time"
)

// QuotaWindow is the sliding window over which MaxCallsPerHour applies.
const QuotaWindow = time.Hour

// ActionCounter counts audit events with an exact action since a time.
type ActionCounter interface {
	CountAuditActionSince(ctx context.Context, action string, since time.Time) (int64, error)
}

// QuotaEnforcer tracks calls per capability over a sliding hour.
//
// Calls are counted from the audit log (executed and execution_failed
// events), so the window survives restarts and there is no separate
// counter to drift from the record of what actually ran.
type QuotaEnforcer struct {
	counter ActionCounter
	window  time.Duration
}

// NewQuotaEnforcer creates an enforcer over counter.
func NewQuotaEnforcer(counter ActionCounter) *QuotaEnforcer {
	return &QuotaEnforcer{counter: counter, window: QuotaWindow}
}

// Usage is the quota state of one capability.
type Usage struct {
	Count int64 `json:"count"`
	Limit int   `json:"limit"`
}

// Exceeded reports whether one more call would pass the limit. A limit of
// zero or less is unlimited.
func (u Usage) Exceeded() bool {
	return u.Limit > 0 && u.Count >= int64(u.Limit)
}

// Current returns the calls made for capabilityID in the window ending at
// now.
func (q *QuotaEnforcer) Current(ctx context.Context, capabilityID string, limit int, now time.Time) (Usage, error) {
	since := now.Add(-q.window)
	var total int64
	for _, action := range []string{actionExecuted(capabilityID), actionExecutionFailed(capabilityID)} {
		n, err := q.counter.CountAuditActionSince(ctx, action, since)
		if err != nil {
			return Usage{}, fmt.Errorf("quota %s: %w", capabilityID, err)
		}
		total += n
	}
	return Usage{Count: total, Limit: limit}, nil
}
