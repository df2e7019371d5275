package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/giftworks/telegift/telegift/database/repositories"
)

const checkerBatch = 200

// ConsistencyChecker periodically scans for purchases that were claimed but
// never gained their send/receive pair, the gap left when a process dies
// between the conditional claim write and the link back-fill. It only
// reports; repair is an operator decision.
type ConsistencyChecker struct {
	actions  repositories.ActionRepository
	interval time.Duration
}

func NewConsistencyChecker(actions repositories.ActionRepository, interval time.Duration) *ConsistencyChecker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ConsistencyChecker{actions: actions, interval: interval}
}

// Start runs the scan loop until ctx is cancelled.
func (c *ConsistencyChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single scan and logs every anomaly it finds.
func (c *ConsistencyChecker) RunOnce(ctx context.Context) {
	units, err := c.actions.FindUnlinkedClaimed(ctx, checkerBatch)
	if err != nil {
		slog.Error("consistency scan failed", slog.String("error", err.Error()))
		return
	}
	for _, u := range units {
		slog.Error("claimed purchase without transfer pair",
			slog.Int64("purchase_id", u.ID),
			slog.Int64("gift_id", u.GiftID),
			slog.Int64("buyer_id", u.UserID),
			slog.Int64("receiver_id", u.ReceiverID),
			slog.Time("created_at", u.CreatedAt))
	}
	if len(units) > 0 {
		slog.Warn("consistency scan found anomalies", slog.Int("count", len(units)))
	}
}
