package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/admission"
	"github.com/ricirt/message-dispatch/internal/api"
	"github.com/ricirt/message-dispatch/internal/config"
	"github.com/ricirt/message-dispatch/internal/db"
	"github.com/ricirt/message-dispatch/internal/dispatcher"
	"github.com/ricirt/message-dispatch/internal/metrics"
	"github.com/ricirt/message-dispatch/internal/provider"
	"github.com/ricirt/message-dispatch/internal/ratelimiter"
	"github.com/ricirt/message-dispatch/internal/repository"
	"github.com/ricirt/message-dispatch/internal/router"
	"github.com/ricirt/message-dispatch/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- message store ----
	ctx := context.Background()
	var repo repository.MessageRepository
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := db.Migrate(cfg.DatabaseURL, "migrations"); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")
		repo = repository.NewPgMessageRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, keeping messages in memory")
		repo = repository.NewMemoryMessageRepository()
	}

	// ---- dispatch core ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var thresholdOpts []admission.ThresholdOption
	if cfg.DispatchCriticalOnlyThresh > 0 {
		thresholdOpts = append(thresholdOpts, admission.WithCriticalOnlyThreshold(int64(cfg.DispatchCriticalOnlyThresh)))
	}
	thresholds, err := admission.NewThresholds(int64(cfg.DispatchMaxMessages), cfg.DispatchWorkers, thresholdOpts...)
	if err != nil {
		logger.Fatal("invalid dispatch thresholds", zap.Error(err))
	}

	affinity := router.NewAffinityRouter(thresholds, router.Options{
		InitialCapacity: cfg.DispatchQueueInitialCap,
		BurstFactor:     cfg.DispatchBurstFactor,
	}, logger.Named("dispatch"), m.RouterHooks())

	dispatchOpts := []dispatcher.Option{
		dispatcher.WithRejectHandler(service.RejectionRecorder(repo, logger)),
		dispatcher.WithBlockingTimeout(cfg.DispatchBlockingTimeout),
		dispatcher.WithOverloadLogInterval(cfg.DispatchOverloadLogEvery),
		dispatcher.WithStatsObserver(m.ObserveStats),
	}
	if cfg.DispatchReportingEnabled {
		dispatchOpts = append(dispatchOpts, dispatcher.WithReporting(cfg.DispatchReportingPeriod))
	}
	disp := dispatcher.New(affinity, logger.Named("dispatch"), dispatchOpts...)

	// Context for all background goroutines; cancelled once the dispatcher
	// has drained or given up.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if err := disp.Start(workerCtx); err != nil {
		logger.Fatal("failed to start dispatcher", zap.Error(err))
	}
	logger.Info("dispatcher configured",
		zap.Int("workers", thresholds.WorkerCount),
		zap.Int64("max_per_worker", thresholds.MaxPerWorker),
		zap.Int64("low_priority_reject_threshold", thresholds.LowPriorityRejectThreshold),
		zap.Int64("critical_only_threshold", thresholds.CriticalOnlyThreshold),
		zap.Int("hard_limit", thresholds.HardLimit(cfg.DispatchBurstFactor)),
	)

	// ---- application ----
	prov := provider.NewWebhookProvider(cfg.ProviderBaseURL, cfg.ProviderTimeout)
	limiter := ratelimiter.New(cfg.RateLimit)
	svc := service.NewMessageService(repo, disp, prov, limiter, cfg.RetryBackoff, cfg.MaxAttempts, logger)

	pollerCtx, cancelPoller := context.WithCancel(ctx)
	defer cancelPoller()
	poller := service.NewRetryPoller(repo, svc, cfg.RetryInterval, cfg.DispatchBlockingTimeout, logger.Named("retry"))
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(pollerCtx)
	}()

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(svc, disp, reg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop resubmitting retries.
	cancelPoller()
	<-pollerDone

	// 3. Drain queued work; whatever is left at the deadline is abandoned.
	if err := disp.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher did not drain before shutdown deadline", zap.Error(err))
	}
	cancelWorkers()

	logger.Info("server stopped cleanly")
}
