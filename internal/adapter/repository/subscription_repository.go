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
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
)

type subscriptionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB, logger *zap.Logger) repository.SubscriptionRepository {
	return &subscriptionRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a subscription by its id
func (r *subscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrSubscriptionNotFound
		}
		r.logger.Error("Failed to get subscription by ID",
			zap.String("subscription_id", id.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListTrialExpired(ctx context.Context, now time.Time) ([]*model.Subscription, error) {
	return r.list(ctx, "trial_expired", r.db.WithContext(ctx).
		Where("status = ?", model.SubscriptionStatusActive).
		Where("current_period_start IS NULL").
		Where("next_billing_at <= ?", now).
		Order("next_billing_at ASC"))
}

func (r *subscriptionRepository) ListGraceExpired(ctx context.Context, now time.Time) ([]*model.Subscription, error) {
	return r.list(ctx, "grace_expired", r.db.WithContext(ctx).
		Where("status = ?", model.SubscriptionStatusPaymentFailed).
		Where("grace_until < ?", now).
		Order("grace_until ASC"))
}

func (r *subscriptionRepository) ListRestrictionExpired(ctx context.Context, cutoff time.Time) ([]*model.Subscription, error) {
	return r.list(ctx, "restriction_expired", r.db.WithContext(ctx).
		Where("status = ?", model.SubscriptionStatusRestricted).
		Where("grace_until < ?", cutoff).
		Order("grace_until ASC"))
}

func (r *subscriptionRepository) ListCancellationDue(ctx context.Context, boundary time.Time) ([]*model.Subscription, error) {
	return r.list(ctx, "cancellation_due", r.db.WithContext(ctx).
		Where("status = ?", model.SubscriptionStatusActive).
		Where("cancel_at_period_end = ?", true).
		Where("current_period_end <= ?", boundary).
		Order("current_period_end ASC"))
}

// ListRenewalDue skips subscriptions whose owner was soft-deleted.
func (r *subscriptionRepository) ListRenewalDue(ctx context.Context, boundary time.Time) ([]*model.Subscription, error) {
	return r.list(ctx, "renewal_due", r.db.WithContext(ctx).
		Select("subscriptions.*").
		Joins("JOIN users ON users.id = subscriptions.user_id AND users.deleted_at IS NULL").
		Where("subscriptions.status = ?", model.SubscriptionStatusActive).
		Where("subscriptions.cancel_at_period_end = ?", false).
		Where("subscriptions.current_period_start IS NOT NULL").
		Where("subscriptions.current_period_end <= ?", boundary).
		Order("subscriptions.current_period_end ASC"))
}

func (r *subscriptionRepository) list(ctx context.Context, name string, query *gorm.DB) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	if err := query.Find(&subs).Error; err != nil {
		r.logger.Error("Failed to list subscriptions",
			zap.String("query", name),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list %s subscriptions: %w", name, err)
	}
	return subs, nil
}

// ApplyTransition updates the subscription only while it still has the
// status, and for fenced transitions the period end, the caller read.
func (r *subscriptionRepository) ApplyTransition(ctx context.Context, t model.Transition) error {
	return applyTransition(r.db.WithContext(ctx), t, r.logger)
}

// RecordChargeOutcome inserts the payment record and moves the subscription
// in one transaction. A stale subscription rolls back the payment record too.
func (r *subscriptionRepository) RecordChargeOutcome(ctx context.Context, outcome *model.ChargeOutcome) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(outcome.Payment).Error; err != nil {
			r.logger.Error("Failed to insert billing payment",
				zap.String("order_id", outcome.Payment.OrderID),
				zap.Error(err))
			return fmt.Errorf("failed to insert billing payment: %w", err)
		}
		return applyTransition(tx, outcome.Transition, r.logger)
	})
}

func applyTransition(db *gorm.DB, t model.Transition, logger *zap.Logger) error {
	updates := make(map[string]interface{}, len(t.Updates)+2)
	for k, v := range t.Updates {
		updates[k] = v
	}
	if t.RunID != uuid.Nil {
		updates["last_billing_run_id"] = t.RunID
	}
	updates["updated_at"] = time.Now().UTC()

	query := db.Model(&model.Subscription{}).
		Where("id = ? AND status = ?", t.SubscriptionID, t.ExpectedStatus)
	if t.FencePeriod {
		if t.ExpectedPeriodEnd == nil {
			query = query.Where("current_period_end IS NULL")
		} else {
			query = query.Where("current_period_end = ?", *t.ExpectedPeriodEnd)
		}
	}

	result := query.Updates(updates)
	if result.Error != nil {
		logger.Error("Failed to update subscription",
			zap.String("subscription_id", t.SubscriptionID.String()),
			zap.Error(result.Error))
		return fmt.Errorf("failed to update subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.ErrStaleSubscription
	}
	return nil
}
