package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-leasing/internal/app"
	"github.com/odyssey-erp/odyssey-leasing/internal/gateway"
	"github.com/odyssey-erp/odyssey-leasing/internal/invoices"
	"github.com/odyssey-erp/odyssey-leasing/internal/leases"
	"github.com/odyssey-erp/odyssey-leasing/internal/notifications"
	"github.com/odyssey-erp/odyssey-leasing/internal/observability"
	"github.com/odyssey-erp/odyssey-leasing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-leasing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-leasing/internal/scheduler"
	schedulerhttp "github.com/odyssey-erp/odyssey-leasing/internal/scheduler/http"
	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
	"github.com/odyssey-erp/odyssey-leasing/jobs"
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
	loc, err := cfg.Location()
	if err != nil {
		logger.Error("resolve timezone", slog.Any("error", err))
		os.Exit(1)
	}

	if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
		logger.Error("migrate database", slog.Any("error", err))
		os.Exit(1)
	}
	dbpool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConnLifetime: time.Hour})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := metrics.Jobs()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	mailer := jobs.NewClient(redisOpts)
	defer func() {
		if err := mailer.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	notificationRepo := notifications.NewRepository(dbpool)
	dispatcher := notifications.NewDispatcher(notificationRepo,
		notifications.WithMailer(mailer),
		notifications.WithLogger(logger),
		notifications.WithMetrics(jobMetrics),
		notifications.WithLocation(loc),
	)
	notifier := notifications.NewNotifier(notificationRepo, dispatcher, logger)

	sweeper := leases.NewSweeper(leases.NewRepository(dbpool), dispatcher, loc)
	sweeper.Logger = logger
	sweeper.Metrics = jobMetrics

	invoiceOpts := []invoices.Option{
		invoices.WithConcurrency(cfg.SchedConcurrency),
		invoices.WithPaidNotifier(notifier),
	}
	if cfg.GatewayEnabled {
		gw, err := gateway.NewClient(gateway.Config{
			BaseURL:         cfg.GatewayBaseURL,
			ClientID:        cfg.GatewayClientID,
			ClientSecret:    cfg.GatewayClientSecret,
			NotificationURL: cfg.GatewayNotificationURL,
			Timeout:         cfg.GatewayTimeout,
		}, logger)
		if err != nil {
			logger.Error("init payment gateway", slog.Any("error", err))
			os.Exit(1)
		}
		defer gw.Close()
		invoiceOpts = append(invoiceOpts, invoices.WithCharges(gw))
	} else {
		logger.Info("payment gateway disabled, invoices are created without charges")
	}
	invoiceService := invoices.NewService(invoices.NewRepository(dbpool), loc, invoiceOpts...)
	invoiceService.Logger = logger
	invoiceService.Metrics = jobMetrics

	sched := scheduler.New(scheduler.Config{
		NotificationInterval: cfg.SchedNotificationInterval,
		LeaseInterval:        cfg.SchedLeaseInterval,
		RetentionInterval:    cfg.SchedRetentionInterval,
		InvoiceTickInterval:  cfg.SchedInvoiceTickInterval,
		WarmupDelay:          cfg.SchedWarmup,
		Retention:            cfg.SchedRetention,
		LockTTL:              cfg.SchedLockTTL,
		Location:             loc,
	}, scheduler.Deps{
		Notifications: notifier,
		Leases:        sweeper,
		Invoices:      invoiceService,
		Retention:     dispatcher,
		Locker:        shared.NewRedisLocker(redisClient),
		Logger:        logger,
		Metrics:       jobMetrics,
	})
	sched.Start(ctx)

	var confirmer schedulerhttp.ChargeConfirmer
	if cfg.GatewayEnabled {
		confirmer = invoiceService
	}
	opsHandler := schedulerhttp.NewHandler(sched, confirmer, cfg.OpsToken, logger).WithNotifications(notificationRepo)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Metrics:    metrics,
		Database:   dbpool,
		Redis:      app.PingFunc(cache.Ping(redisClient)),
		OpsHandler: opsHandler,
		JobHandler: jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}

	select {
	case <-sched.Stop().Done():
		logger.Info("scheduler stopped")
	case <-shutdownCtx.Done():
		logger.Warn("scheduler jobs still running at shutdown deadline")
	}
}
