package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
)

type billingRunRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewBillingRunRepository(db *gorm.DB, logger *zap.Logger) repository.BillingRunRepository {
	return &billingRunRepository{db: db, logger: logger}
}

func (r *billingRunRepository) Create(ctx context.Context, run *model.BillingRun) error {
	if run.Summary == nil {
		run.Summary = model.JSONB{}
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create billing run: %w", err)
	}
	return nil
}

// Finish stores the final status and summary of a run.
func (r *billingRunRepository) Finish(ctx context.Context, run *model.BillingRun) error {
	err := r.db.WithContext(ctx).
		Model(run).
		Select("status", "finished_at", "error", "summary").
		Updates(run).Error
	if err != nil {
		r.logger.Error("failed to finish billing run",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to finish billing run: %w", err)
	}
	return nil
}
