// Command billing-cycle runs one billing cycle and exits. The exit status is
// non-zero when the run aborted or a phase could not list its candidates.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/app"
	"github.com/wekeepgrowing/semo-billing/internal/config"
	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

func main() {
	migrate := flag.Bool("migrate", false, "run database migrations before billing")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	os.Exit(run(cfg, logger, *migrate))
}

func run(cfg *config.Config, logger *zap.Logger, migrate bool) int {
	defer logger.Sync()

	billing, err := app.New(cfg, logger, migrate)
	if err != nil {
		logger.Error("Failed to initialize billing engine", zap.Error(err))
		return 1
	}
	defer billing.Close()

	// SIGTERM stops dispatching new subscriptions; items in flight finish.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Billing.RunTimeout)
	defer cancel()

	result, err := billing.Orchestrator.Run(ctx, usecase.TriggerCLI)
	if errors.Is(err, domainErrors.ErrRunInProgress) {
		logger.Warn("Another billing run holds the lock, nothing to do")
		return 0
	}
	if err != nil {
		apperrors.LogError(logger, err, "Billing run failed")
		return 1
	}

	logger.Info("Billing run completed",
		zap.String("run_id", result.RunID.String()),
		zap.Any("summary", result.Summary()))
	return 0
}
