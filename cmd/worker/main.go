package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/table-reservation/internal/app"
	"github.com/iliyamo/table-reservation/internal/booking"
	"github.com/iliyamo/table-reservation/internal/config"
	"github.com/iliyamo/table-reservation/internal/queue"
	"github.com/iliyamo/table-reservation/internal/utils"
	"github.com/iliyamo/table-reservation/internal/worker"
)

// The worker appends reservation events to the audit log and keeps the
// capacity ledger in line with the stored reservations.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.IsProduction())
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer comp.Backends.Close()

	svc := booking.NewService(comp.Calendar, comp.Ledger, comp.Store,
		booking.WithLogger(logger),
		booking.WithStoreTimeout(cfg.StoreTimeout),
		booking.WithReconcileSettle(cfg.ReconcileSettle))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.NewReconciler(svc, cfg.ReconcileInterval, cfg.ReconcileDays, logger.Named("reconcile")).Run(gctx)
	})
	if cfg.RabbitURL != "" {
		g.Go(func() error {
			return queue.NewConsumer(cfg.RabbitURL, queue.DefaultQueue, cfg.AuditLogPath, logger.Named("audit")).Run(gctx)
		})
	} else {
		logger.Warn("RABBITMQ_URL not set; audit log consumer disabled")
	}

	logger.Info("worker started",
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
		zap.Int("reconcile_days", cfg.ReconcileDays))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}
