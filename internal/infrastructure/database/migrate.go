package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	if err := createExtensions(db); err != nil {
		logger.Error("Failed to create extensions", zap.Error(err))
		return err
	}

	err := db.AutoMigrate(
		&model.User{},
		&model.Plan{},
		&model.Promotion{},
		&model.PaymentMethod{},
		&model.Subscription{},
		&model.UsageDailyStat{},
		&model.UsagePeriodStat{},
		&model.BillingRun{},
		&model.BillingPayment{},
	)
	if err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// createCustomIndexes creates the partial indexes behind the phase candidate queries
func createCustomIndexes(db *gorm.DB) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_trial_due ON subscriptions (next_billing_at) WHERE status = 'active' AND current_period_start IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_renewal_due ON subscriptions (current_period_end) WHERE status = 'active' AND current_period_start IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_grace ON subscriptions (grace_until) WHERE status IN ('payment_failed', 'restricted')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS unique_active_payment_method_per_user ON payment_methods (user_id) WHERE is_active`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// createExtensions creates required PostgreSQL extensions
func createExtensions(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}
