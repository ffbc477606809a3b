package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
)

type usageRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewUsageRepository(db *gorm.DB, logger *zap.Logger) repository.UsageRepository {
	return &usageRepository{db: db, logger: logger}
}

// SumDaily sums the user's daily counters for dates in [from, to].
func (r *usageRepository) SumDaily(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.UsageDailyStat{}).
		Select("COALESCE(SUM(count), 0)").
		Where("user_id = ? AND date >= ? AND date <= ?", userID, from.Format("2006-01-02"), to.Format("2006-01-02")).
		Scan(&total).Error
	if err != nil {
		r.logger.Error("failed to sum daily usage",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return 0, fmt.Errorf("failed to sum daily usage: %w", err)
	}
	return total, nil
}

// UpsertPeriodStat overwrites the stored total on (subscription_id, period_start).
func (r *usageRepository) UpsertPeriodStat(ctx context.Context, stat *model.UsagePeriodStat) error {
	stat.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "period_start"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "period_end", "total_count", "updated_at"}),
		}).
		Create(stat).Error
	if err != nil {
		r.logger.Error("failed to upsert usage period stat",
			zap.String("subscription_id", stat.SubscriptionID.String()),
			zap.Time("period_start", stat.PeriodStart),
			zap.Error(err))
		return fmt.Errorf("failed to upsert usage period stat: %w", err)
	}
	return nil
}
