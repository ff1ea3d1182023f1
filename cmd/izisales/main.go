package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/mickstmt/izisales/internal/app"
	"github.com/mickstmt/izisales/internal/billing"
	"github.com/mickstmt/izisales/internal/billing/gateway"
	"github.com/mickstmt/izisales/internal/billing/ubl"
	"github.com/mickstmt/izisales/internal/observability"
	"github.com/mickstmt/izisales/internal/platform/cache"
	"github.com/mickstmt/izisales/internal/platform/db"
	"github.com/mickstmt/izisales/internal/receipt"
	"github.com/mickstmt/izisales/internal/storage"
	"github.com/mickstmt/izisales/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if _, err := billingService.Allocator().EnsureSeries(ctx, billing.KindBoleta, cfg.DefaultSeries); err != nil {
		logger.Error("seed correlative series", slog.Any("error", err))
		os.Exit(1)
	}

	queueClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, cfg.SubmitMaxRetry)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	billingHandler := billing.NewHandler(logger, billingService, queueClient)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		BillingHandler: billingHandler,
		Metrics:        observability.NewMetrics(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
