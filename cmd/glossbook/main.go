package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/glossbook/glossbook/cmd/glossbook/cli"
	"github.com/glossbook/glossbook/internal/app"
	"github.com/glossbook/glossbook/internal/audit"
	"github.com/glossbook/glossbook/internal/catalog"
	"github.com/glossbook/glossbook/internal/dashboard"
	"github.com/glossbook/glossbook/internal/events"
	"github.com/glossbook/glossbook/internal/finance"
	"github.com/glossbook/glossbook/internal/inventory"
	"github.com/glossbook/glossbook/internal/observability"
	"github.com/glossbook/glossbook/internal/platform/cache"
	"github.com/glossbook/glossbook/internal/platform/db"
	"github.com/glossbook/glossbook/internal/readcache"
	"github.com/glossbook/glossbook/internal/servicing"
	"github.com/glossbook/glossbook/internal/shared"
	"github.com/glossbook/glossbook/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MinConns: 2, HealthCheckPeriod: time.Minute})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.CacheOptions())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	readCache := readcache.New(redisClient, cfg.CacheTTL, logger)
	go func() {
		err := readCache.ListenForInvalidation(ctx, func(namespace string, version int64) {
			logger.Debug("read cache bumped", slog.String("namespace", namespace), slog.Int64("version", version))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("read cache invalidation listener", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	eventFailed := func(error) { metrics.Ledger().SideEffectFailed("events") }
	publisher := events.NewPublisher(events.KafkaConfig{
		Brokers:           cfg.KafkaBrokers,
		Topic:             cfg.KafkaTopic,
		OnDeliveryFailure: eventFailed,
	}, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("event publisher close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	catalogService := catalog.NewService(catalog.NewRepository(pool), catalog.ServiceConfig{
		Cache:  readCache,
		Audit:  auditLogger,
		Logger: logger,
	})
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, idempotency, inventory.ServiceConfig{
		RawQuantityReversal: cfg.StockRawReversal,
		Cache:               readCache,
		Publisher:           publisher,
		Metrics:             metrics.Ledger(),
		Logger:              logger,
	})
	servicingService := servicing.NewService(servicing.NewRepository(pool), auditLogger, idempotency, servicing.ServiceConfig{
		Cache:     readCache,
		Publisher: publisher,
		Metrics:   metrics.Ledger(),
		Logger:    logger,
	})
	financeService := finance.NewService(finance.NewRepository(pool), finance.ServiceConfig{
		Cache:     readCache,
		Audit:     auditLogger,
		Publisher: publisher,
		Logger:    logger,
	})

	redisOpts := cfg.QueueRedis()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("job inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalog.NewHandler(logger, catalogService),
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		ServiceHandler:   servicing.NewHandler(logger, servicingService),
		FinanceHandler:   finance.NewHandler(logger, financeService),
		DashboardHandler: dashboard.NewHandler(logger, financeService, catalogService, inventoryService, servicingService),
		AuditHandler:     audit.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
		JobHandler:       jobs.NewHandler(inspector, jobClient, logger),
		Database:         pool,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobsCommand handles `glossbook jobs reconcile [-repair]` and `glossbook jobs stats`.
func runJobsCommand(cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: glossbook jobs <reconcile|stats>")
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.QueueRedis())
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
		repair := fs.Bool("repair", cfg.ReconcileRepair, "repair inconsistencies instead of only reporting them")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		info, err := jobsCLI.Reconcile(ctx, *repair)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s (queue=%s repair=%t)\n", info.ID, info.Queue, *repair)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			return err
		}
		return cli.WriteStats(os.Stdout, stats)
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
}
