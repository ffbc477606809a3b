package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	handlers "github.com/wekeepgrowing/semo-billing/internal/adapter/handler/http"
	"github.com/wekeepgrowing/semo-billing/internal/app"
	"github.com/wekeepgrowing/semo-billing/internal/config"
	grpcServer "github.com/wekeepgrowing/semo-billing/internal/infrastructure/grpc"
	httpServer "github.com/wekeepgrowing/semo-billing/internal/infrastructure/http"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/scheduler"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	billing, err := app.New(cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize billing engine", zap.Error(err))
	}
	defer billing.Close()

	cron, err := scheduler.New(billing.Orchestrator, cfg.Billing.Schedule, cfg.Billing.RunTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to create billing scheduler", zap.Error(err))
	}

	// Initialize servers
	grpcSrv := grpcServer.NewServer(cfg, logger)
	httpSrv := httpServer.NewServer(cfg, logger, httpServer.Handlers{
		Plans:   handlers.NewPlansHandler(billing.PlanSync, logger),
		Payment: handlers.NewPaymentHandler(billing.PaymentMethods, logger),
		Billing: handlers.NewBillingHandler(billing.Orchestrator, cfg.Billing.RunTimeout, logger),
		Metrics: billing.Metrics.Handler(),
	})

	// Start servers
	go func() {
		if err := grpcSrv.Start(); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.Start(); err != nil {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	cron.Start()
	logger.Info("Billing service started",
		zap.String("schedule", cfg.Billing.Schedule),
		zap.String("gateway", cfg.Gateway.Provider))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down servers...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	cron.Stop(ctx)

	if err := grpcSrv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown gRPC server", zap.Error(err))
	}

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}

	logger.Info("Servers shut down successfully")
}
