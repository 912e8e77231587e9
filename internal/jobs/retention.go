package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AuditPruner is satisfied by *store.Store.
type AuditPruner interface {
	PruneAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob returns a job Func that deletes audit events older than
// days. days must be positive.
func RetentionJob(p AuditPruner, days int, now func() time.Time, logger *slog.Logger) (Func, error) {
	if days <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", days)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		cutoff := now().AddDate(0, 0, -days)
		n, err := p.PruneAuditEventsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		logger.Info("audit retention pruned events", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
		return nil
	}, nil
}
