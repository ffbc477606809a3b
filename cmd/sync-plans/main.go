package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/config"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/database"
	"github.com/wekeepgrowing/semo-billing/internal/usecase"
)

func main() {
	catalogPath := flag.String("file", "configs/plans.yaml", "plan catalog YAML")
	migrate := flag.Bool("migrate", true, "run database migrations first")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	plans, err := loadCatalog(*catalogPath)
	if err != nil {
		logger.Fatal("Failed to load plan catalog", zap.String("path", *catalogPath), zap.Error(err))
	}

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, cfg.Log.GormLevel, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, logger); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	if *migrate {
		if err := database.Migrate(db, logger); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}
	}

	repos := database.NewRepositories(db, logger)
	planSync := usecase.NewPlanSyncService(repos.Plan, logger)

	synced, err := planSync.Sync(context.Background(), plans)
	if err != nil {
		logger.Fatal("Failed to sync plans", zap.Int("synced", synced), zap.Error(err))
	}

	logger.Info("Plan catalog synced",
		zap.String("path", *catalogPath),
		zap.Int("plans_synced", synced))
}
