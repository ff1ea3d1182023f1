package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mickstmt/izisales/internal/storage"
)

// Retention windows for stored artifacts. Signed documents and their
// acknowledgments are kept far longer than printable receipts.
const (
	documentRetention = 180 * 24 * time.Hour
	receiptRetention  = 90 * 24 * time.Hour
)

// HandleCleanup prunes aged artifacts and detaches receipt files of voided
// sales.
func (h *Handlers) HandleCleanup(ctx context.Context, t *asynq.Task) error {
	track := h.metrics.Track(TaskCleanup)
	now := time.Now().UTC()

	xmlRemoved, err := h.store.RemoveOlderThan(storage.ClassXML, now.Add(-documentRetention))
	if err != nil {
		return track.End(fmt.Errorf("cleanup: prune xml: %w", err))
	}
	cdrRemoved, err := h.store.RemoveOlderThan(storage.ClassCDR, now.Add(-documentRetention))
	if err != nil {
		return track.End(fmt.Errorf("cleanup: prune cdr: %w", err))
	}
	receiptsRemoved, err := h.store.RemoveOlderThan(storage.ClassReceipt, now.Add(-receiptRetention))
	if err != nil {
		return track.End(fmt.Errorf("cleanup: prune receipts: %w", err))
	}
	voidedCleared, err := h.billing.PruneVoidedReceipts(ctx, now.Add(-receiptRetention))
	if err != nil {
		return track.End(fmt.Errorf("cleanup: voided receipts: %w", err))
	}

	h.logger.Info("artifact cleanup finished",
		slog.Int("xml_removed", xmlRemoved),
		slog.Int("cdr_removed", cdrRemoved),
		slog.Int("receipts_removed", receiptsRemoved),
		slog.Int("voided_cleared", voidedCleared))
	return track.End(nil)
}
