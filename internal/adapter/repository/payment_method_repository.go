package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	domainRepo "github.com/wekeepgrowing/semo-billing/internal/domain/repository"
)

type paymentMethodRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPaymentMethodRepository(db *gorm.DB, logger *zap.Logger) domainRepo.PaymentMethodRepository {
	return &paymentMethodRepository{db: db, logger: logger}
}

func (r *paymentMethodRepository) GetByID(ctx context.Context, id int64) (*model.PaymentMethod, error) {
	var pm model.PaymentMethod
	err := r.db.WithContext(ctx).First(&pm, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrPaymentMethodNotFound
		}
		r.logger.Error("failed to get payment method by id",
			zap.Int64("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	return &pm, nil
}

// GetActiveByUserID returns the newest active payment method of the user.
func (r *paymentMethodRepository) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*model.PaymentMethod, error) {
	var pm model.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		First(&pm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrPaymentMethodNotFound
		}
		r.logger.Error("failed to get active payment method",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	return &pm, nil
}

// ReplaceActive deactivates the user's current methods, stores pm and points
// the user's live subscriptions at it.
func (r *paymentMethodRepository) ReplaceActive(ctx context.Context, pm *model.PaymentMethod) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Model(&model.PaymentMethod{}).
			Where("user_id = ? AND is_active = ?", pm.UserID, true).
			Updates(map[string]interface{}{
				"is_active":      false,
				"deactivated_at": now,
				"updated_at":     now,
			}).Error; err != nil {
			return fmt.Errorf("failed to deactivate previous payment methods: %w", err)
		}

		if err := tx.Create(pm).Error; err != nil {
			r.logger.Error("failed to create payment method",
				zap.String("user_id", pm.UserID.String()),
				zap.Error(err))
			return fmt.Errorf("failed to create payment method: %w", err)
		}

		if err := tx.Model(&model.Subscription{}).
			Where("user_id = ? AND status NOT IN ?", pm.UserID, []model.SubscriptionStatus{
				model.SubscriptionStatusSuspended,
				model.SubscriptionStatusCancelled,
			}).
			Updates(map[string]interface{}{
				"payment_method_id": pm.ID,
				"updated_at":        now,
			}).Error; err != nil {
			return fmt.Errorf("failed to attach payment method to subscriptions: %w", err)
		}
		return nil
	})
}

func (r *paymentMethodRepository) Deactivate(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&model.PaymentMethod{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":      false,
			"deactivated_at": now,
			"updated_at":     now,
		})

	if result.Error != nil {
		r.logger.Error("failed to deactivate payment method",
			zap.Int64("id", id),
			zap.Error(result.Error))
		return fmt.Errorf("failed to deactivate payment method: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domainErrors.ErrPaymentMethodNotFound
	}

	return nil
}
