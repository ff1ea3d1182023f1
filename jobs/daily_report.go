package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mickstmt/izisales/internal/billing"
)

// HandleDailyReport summarizes the day's submissions and the month's
// position against the revenue ceiling.
func (h *Handlers) HandleDailyReport(ctx context.Context, t *asynq.Task) error {
	track := h.metrics.Track(TaskDailyReport)
	day := time.Now().UTC()
	if len(t.Payload()) > 0 {
		var payload DailyReportPayload
		if err := json.Unmarshal(t.Payload(), &payload); err == nil && !payload.Day.IsZero() {
			day = payload.Day
		}
	}

	stats, err := h.billing.DailyReport(ctx, day)
	if err != nil {
		return track.End(fmt.Errorf("daily report: %w", err))
	}
	limit, err := h.billing.Limits().Status(ctx, day.Year(), day.Month())
	if err != nil {
		return track.End(fmt.Errorf("daily report: limit status: %w", err))
	}

	h.logger.Info("daily billing report",
		slog.String("day", stats.Day.Format("2006-01-02")),
		slog.Int("total", stats.Total),
		slog.Int("accepted", stats.Accepted),
		slog.Int("rejected", stats.Rejected),
		slog.Int("errored", stats.Errored),
		slog.Int("pending", stats.Pending),
		slog.String("invoiced", stats.TotalInvoiced.StringFixed(2)),
		slog.String("month_total", limit.TotalInvoiced.StringFixed(2)),
		slog.String("month_level", string(limit.AlertLevel)))

	switch limit.AlertLevel {
	case billing.AlertBlocked:
		h.logger.Error("monthly ceiling reached, sales are blocked",
			slog.String("month_total", limit.TotalInvoiced.StringFixed(2)))
	case billing.AlertWarning:
		h.logger.Warn("monthly revenue near ceiling",
			slog.String("month_total", limit.TotalInvoiced.StringFixed(2)),
			slog.String("remaining", limit.Remaining.StringFixed(2)))
	}
	return track.End(nil)
}
