package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskSubmitSale drives one sale through the submission pipeline.
	TaskSubmitSale = "billing:submit"
	// TaskRetryScan sweeps erred sales past their cooldown and re-queues
	// them.
	TaskRetryScan = "billing:retry_scan"
	// TaskDailyReport aggregates the day's submissions.
	TaskDailyReport = "billing:daily_report"
	// TaskCleanup prunes aged artifacts.
	TaskCleanup = "billing:cleanup"
)

// Cron specs for the recurring jobs, evaluated in UTC.
const (
	CronRetryScan   = "*/30 * * * *"
	CronDailyReport = "0 23 * * *"
	CronCleanup     = "0 2 * * 0"
)

// SubmitSalePayload identifies the sale to submit.
type SubmitSalePayload struct {
	SaleID int64 `json:"sale_id"`
}

// NewSubmitSaleTask constructs an Asynq task.
func NewSubmitSaleTask(payload SubmitSalePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSubmitSale, data), nil
}

// NewRetryScanTask constructs the periodic retry sweep task.
func NewRetryScanTask() *asynq.Task {
	return asynq.NewTask(TaskRetryScan, nil)
}

// DailyReportPayload optionally pins the report day; zero means the
// execution day.
type DailyReportPayload struct {
	Day time.Time `json:"day,omitempty"`
}

// NewDailyReportTask constructs the nightly report task.
func NewDailyReportTask() *asynq.Task {
	return asynq.NewTask(TaskDailyReport, nil)
}

// NewCleanupTask constructs the weekly artifact cleanup task.
func NewCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskCleanup, nil)
}
