package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandleRetryScan re-queues erred sales whose last attempt is older than
// the cooldown. The scan is capped so one sweep stays bounded even after a
// long gateway outage; stragglers ride the next sweep.
func (h *Handlers) HandleRetryScan(ctx context.Context, t *asynq.Task) error {
	track := h.metrics.Track(TaskRetryScan)
	candidates, err := h.billing.RetryCandidates(ctx, h.retryCooldown, h.retryBatchSize)
	if err != nil {
		return track.End(fmt.Errorf("retry scan: %w", err))
	}
	if len(candidates) == 0 {
		return track.End(nil)
	}

	queued := 0
	for _, sale := range candidates {
		if err := h.enqueuer.EnqueueSubmit(sale.ID); err != nil {
			h.logger.Error("requeue failed",
				slog.Int64("sale_id", sale.ID),
				slog.Any("error", err))
			continue
		}
		queued++
	}
	h.logger.Info("retry scan finished",
		slog.Int("candidates", len(candidates)),
		slog.Int("queued", queued))
	return track.End(nil)
}
