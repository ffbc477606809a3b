package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
)

type planRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *gorm.DB, logger *zap.Logger) repository.PlanRepository {
	return &planRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a plan whether or not it is still active
func (r *planRepository) GetByID(ctx context.Context, id int64) (*model.Plan, error) {
	var plan model.Plan
	err := r.db.WithContext(ctx).First(&plan, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrPlanNotFound
		}
		r.logger.Error("Failed to get plan",
			zap.Int64("plan_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &plan, nil
}

// ListActive retrieves active plans, cheapest first
func (r *planRepository) ListActive(ctx context.Context) ([]*model.Plan, error) {
	var plans []*model.Plan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("monthly_price ASC, sort_order ASC, id ASC").
		Find(&plans).Error
	if err != nil {
		r.logger.Error("Failed to list active plans", zap.Error(err))
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// UpsertByName creates or updates a plan matched on name
func (r *planRepository) UpsertByName(ctx context.Context, plan *model.Plan) error {
	plan.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name",
				"monthly_price",
				"daily_limit",
				"features",
				"sort_order",
				"is_active",
				"updated_at",
			}),
		}).
		Create(plan).Error
	if err != nil {
		r.logger.Error("Failed to upsert plan",
			zap.String("name", plan.Name),
			zap.Error(err))
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

type promotionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPromotionRepository creates a new promotion repository
func NewPromotionRepository(db *gorm.DB, logger *zap.Logger) repository.PromotionRepository {
	return &promotionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *promotionRepository) GetByID(ctx context.Context, id int64) (*model.Promotion, error) {
	var promo model.Promotion
	err := r.db.WithContext(ctx).First(&promo, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrPromotionNotFound
		}
		r.logger.Error("Failed to get promotion",
			zap.Int64("promotion_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get promotion: %w", err)
	}
	return &promo, nil
}
