package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/mickstmt/izisales/internal/billing"
)

// HandleSubmitSale processes TaskSubmitSale tasks. Transient gateway
// failures return an error so Asynq retries on its backoff; validation
// failures and permanent rejections are recorded on the sale and consume
// no retry.
func (h *Handlers) HandleSubmitSale(ctx context.Context, t *asynq.Task) error {
	track := h.metrics.Track(TaskSubmitSale)
	var payload SubmitSalePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return track.End(asynq.SkipRetry)
	}

	outcome, err := h.billing.Submit(ctx, payload.SaleID)
	if err != nil {
		if errors.Is(err, billing.ErrSaleNotFound) {
			h.logger.Warn("submit task for unknown sale",
				slog.Int64("sale_id", payload.SaleID))
			return track.End(asynq.SkipRetry)
		}
		if errors.Is(err, billing.ErrCorrelativeOutOfOrder) ||
			errors.Is(err, billing.ErrLimitExceeded) ||
			errors.Is(err, billing.ErrAlreadyAccepted) {
			// Bookkeeping refusals do not resolve on the queue's backoff.
			// The sale stays ERROR with its gateway response intact; the
			// periodic retry scan picks it up once conditions change.
			h.logger.Error("submission bookkeeping refused",
				slog.Int64("sale_id", payload.SaleID),
				slog.Any("error", err))
			return track.End(asynq.SkipRetry)
		}
		return track.End(fmt.Errorf("submit sale %d: %w", payload.SaleID, err))
	}

	h.metrics.AddSubmission(string(outcome.Status))
	if outcome.Retryable {
		// The failure is recorded on the sale; returning an error hands
		// the bounded retry schedule to the queue.
		return track.End(fmt.Errorf("submit sale %d: transient gateway failure %s", payload.SaleID, outcome.Code))
	}

	h.logger.Info("submit task finished",
		slog.Int64("sale_id", outcome.SaleID),
		slog.String("correlative", outcome.Correlative),
		slog.String("status", string(outcome.Status)))
	return track.End(nil)
}
