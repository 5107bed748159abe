package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"expensetracker/internal/amqp"
	"expensetracker/internal/backend"
	"expensetracker/internal/cache"
	"expensetracker/internal/cli"
	"expensetracker/internal/config"
	"expensetracker/internal/core"
	"expensetracker/internal/events"
	apphttp "expensetracker/internal/http"
	applog "expensetracker/internal/log"
	"expensetracker/internal/metrics"
	"expensetracker/internal/services"
	"expensetracker/internal/session"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = time.Minute
)

func main() {
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Tracker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *applog.Logger) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	be, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer be.Cleanup()

	m := metrics.New()
	registry := core.DefaultRegistry()
	changes := events.NewBroker[core.ChangeEvent]()
	defer changes.Close()

	stats := services.NewStatsService(be.Store, registry, changes, cfg.StatsCacheSize, cfg.StatsCacheTTL, m)
	txOpts := []services.Option{services.WithInvalidator(stats)}

	// Only the sqlite backend is shared with the worker, so only it publishes.
	if cfg.AMQPURL != "" && backendCfg.Type == backend.SQLiteBackend {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without sync", applog.FieldError, err)
		} else {
			defer client.Close()
			txOpts = append(txOpts, services.WithPublisher(client))
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}
	transactions := services.NewTransactionService(be.Store, changes, txOpts...)

	sessions := session.NewService(be.Store, session.Config{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		Expiry: cfg.JWTExpiry,

		GoogleClientID: cfg.GoogleClientID,
	})
	defer sessions.Close()

	caches := cache.NewManager()
	caches.Register(stats.Cache())
	caches.Register(sessions.Revocations())

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Sessions:     sessions,
		Transactions: transactions,
		Stats:        stats,
		Registry:     registry,
		Metrics:      m,
		Logger:       logger,
		RateLimit:    cfg.RateLimit,
		Ready:        be.Ping,
	})
	if err != nil {
		return err
	}
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting expense tracker", "port", cfg.Port, "backend", backendCfg.Type)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		caches.StartCleanup(cacheCleanupInterval)
		<-gctx.Done()
		return cli.GracefulShutdown(logger, shutdownTimeout,
			srv.Shutdown,
			func(context.Context) error {
				caches.Stop()
				return nil
			},
		)
	})
	return g.Wait()
}
