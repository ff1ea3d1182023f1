package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/mickstmt/izisales/internal/app"
	"github.com/mickstmt/izisales/internal/billing"
	"github.com/mickstmt/izisales/internal/billing/gateway"
	"github.com/mickstmt/izisales/internal/billing/ubl"
	jobmetrics "github.com/mickstmt/izisales/internal/jobs"
	"github.com/mickstmt/izisales/internal/platform/cache"
	"github.com/mickstmt/izisales/internal/platform/db"
	"github.com/mickstmt/izisales/internal/receipt"
	"github.com/mickstmt/izisales/internal/storage"
	"github.com/mickstmt/izisales/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The limit tracker degrades to uncached reads without redis.
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store, err := storage.NewStore(cfg.StorageDir)
	if err != nil {
		logger.Error("init artifact store", slog.Any("error", err))
		os.Exit(1)
	}

	repo := billing.NewRepository(pool)
	tracker := billing.NewLimitTracker(repo, redisClient, cfg.RUSWarningLimit, cfg.RUSBlockLimit)
	gw := gateway.NewClient(gateway.Config{
		BaseURL: cfg.PSEBaseURL,
		Token:   cfg.PSEToken,
		Sandbox: cfg.PSESandbox,
		Timeout: cfg.PSETimeout,
	}, logger)

	billingService := billing.NewService(billing.ServiceConfig{
		Repo:     repo,
		Limits:   tracker,
		Gateway:  gw,
		Store:    store,
		Receipts: receipt.NewRenderer(),
		Issuer: ubl.Issuer{
			RUC:       cfg.CompanyRUC,
			LegalName: cfg.CompanyName,
			Address:   cfg.CompanyAddress,
			Ubigeo:    cfg.CompanyUbigeo,
		},
		TaxRate: cfg.TaxRate,
		Logger:  logger,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queueClient := jobs.NewClient(redisOpts, cfg.SubmitMaxRetry)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	handlers := jobs.NewHandlers(jobs.HandlersConfig{
		Billing:        billingService,
		Store:          store,
		Enqueuer:       queueClient,
		Logger:         logger,
		Metrics:        jobmetrics.NewMetrics(nil),
		RetryCooldown:  cfg.RetryCooldown,
		RetryBatchSize: cfg.RetryBatchSize,
	})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       redisOpts,
		Logger:          logger,
		Handlers:        handlers,
		SubmitRetryWait: cfg.SubmitRetryWait,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
