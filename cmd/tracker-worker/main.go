package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"expensetracker/internal/amqp"
	"expensetracker/internal/cli"
	"expensetracker/internal/config"
	applog "expensetracker/internal/log"
	"expensetracker/internal/metrics"
	gsheet "expensetracker/internal/sheets/google"
	"expensetracker/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(applog.ComponentWorker)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" || cfg.GoogleSpreadsheetID == "" {
		logger.Error("AMQP_URL and GOOGLE_SPREADSHEET_ID are required for the worker")
		os.Exit(1)
	}

	logger.Info("Starting tracker-worker")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	mirror, err := gsheet.NewFromEnv(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetPrefix)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	m := metrics.New()
	syncWorker := worker.NewSyncWorker(repo, mirror, m)

	var admin *http.Server
	if cfg.MetricsPort != "" {
		admin = cli.NewAdminServer(":"+cfg.MetricsPort, m.Handler())
	}

	g, gctx := errgroup.WithContext(ctx)
	if admin != nil {
		g.Go(func() error {
			logger.Info("Serving worker metrics", "port", cfg.MetricsPort)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		err := client.ConsumeChanges(gctx, syncWorker.HandleChange)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		steps := []func(context.Context) error{func(context.Context) error {
			return client.Close()
		}}
		if admin != nil {
			steps = append(steps, admin.Shutdown)
		}
		return cli.GracefulShutdown(logger, 10*time.Second, steps...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
}
