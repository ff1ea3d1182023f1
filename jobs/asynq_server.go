package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mickstmt/izisales/internal/billing"
	jobmetrics "github.com/mickstmt/izisales/internal/jobs"
	"github.com/mickstmt/izisales/internal/storage"
)

// Handlers owns the task handler dependencies.
type Handlers struct {
	billing        *billing.Service
	store          *storage.Store
	enqueuer       *Client
	logger         *slog.Logger
	metrics        *jobmetrics.Metrics
	retryCooldown  time.Duration
	retryBatchSize int
}

// HandlersConfig collects handler dependencies.
type HandlersConfig struct {
	Billing        *billing.Service
	Store          *storage.Store
	Enqueuer       *Client
	Logger         *slog.Logger
	Metrics        *jobmetrics.Metrics
	RetryCooldown  time.Duration
	RetryBatchSize int
}

// NewHandlers constructs the task handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		billing:        cfg.Billing,
		store:          cfg.Store,
		enqueuer:       cfg.Enqueuer,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		retryCooldown:  cfg.RetryCooldown,
		retryBatchSize: cfg.RetryBatchSize,
	}
}

// Worker wraps the Asynq server and scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts       asynq.RedisClientOpt
	Logger          *slog.Logger
	Handlers        *Handlers
	SubmitRetryWait time.Duration
}

// NewWorker constructs a Worker instance. Submission retries use a flat
// wait rather than exponential backoff: the gateway either recovered or it
// did not, and the retry sweep already covers long outages.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	wait := cfg.SubmitRetryWait
	if wait <= 0 {
		wait = 5 * time.Minute
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			if task.Type() == TaskSubmitSale {
				return wait
			}
			return asynq.DefaultRetryDelayFunc(n, err, task)
		},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSubmitSale, cfg.Handlers.HandleSubmitSale)
	mux.HandleFunc(TaskRetryScan, cfg.Handlers.HandleRetryScan)
	mux.HandleFunc(TaskDailyReport, cfg.Handlers.HandleDailyReport)
	mux.HandleFunc(TaskCleanup, cfg.Handlers.HandleCleanup)

	scheduler := asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
	cron := []struct {
		spec string
		task *asynq.Task
	}{
		{CronRetryScan, NewRetryScanTask()},
		{CronDailyReport, NewDailyReportTask()},
		{CronCleanup, NewCleanupTask()},
	}
	for _, entry := range cron {
		if _, err := scheduler.Register(entry.spec, entry.task, asynq.Queue(QueueDefault)); err != nil {
			return nil, err
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if err := w.scheduler.Start(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.scheduler.Shutdown()
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		w.scheduler.Shutdown()
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client   *asynq.Client
	maxRetry int
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt, maxRetry int) *Client {
	if maxRetry <= 0 {
		maxRetry = 3
	}
	return &Client{client: asynq.NewClient(redisOpts), maxRetry: maxRetry}
}

// EnqueueSubmit queues one sale for submission. Satisfies the billing
// handler's enqueuer port.
func (c *Client) EnqueueSubmit(saleID int64) error {
	task, err := NewSubmitSaleTask(SubmitSalePayload{SaleID: saleID})
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(c.maxRetry),
	)
	return err
}

// Close releases the underlying client connection.
func (c *Client) Close() error {
	return c.client.Close()
}
