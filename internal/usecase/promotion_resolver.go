package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
)

// Resolution is the amount due for one charge after promotions.
type Resolution struct {
	AmountDue int64
	OrderName string
	IsFree    bool
	// Promotion is the promotion that shaped AmountDue, nil when none applied.
	Promotion *model.Promotion
	// ClearPromotion tells the caller to null the subscription's promotion
	// columns with the next state write: the promotion expired, was
	// deactivated, no longer exists or was consumed.
	ClearPromotion bool
}

// PromotionResolver computes the amount due from a subscription's promotion.
// It never mutates the subscription.
type PromotionResolver struct {
	promotionRepo repository.PromotionRepository
	logger        *zap.Logger
}

func NewPromotionResolver(promotionRepo repository.PromotionRepository, logger *zap.Logger) *PromotionResolver {
	return &PromotionResolver{
		promotionRepo: promotionRepo,
		logger:        logger,
	}
}

// Resolve returns the amount due for plan at now.
func (r *PromotionResolver) Resolve(ctx context.Context, sub *model.Subscription, plan *model.Plan, now time.Time) (*Resolution, error) {
	res := &Resolution{
		AmountDue: plan.MonthlyPrice,
		OrderName: orderName(plan, nil),
	}

	if sub.PromotionID == nil {
		return res, nil
	}
	if sub.PromotionExpiresAt != nil && !now.Before(*sub.PromotionExpiresAt) {
		res.ClearPromotion = true
		return res, nil
	}

	promo, err := r.promotionRepo.GetByID(ctx, *sub.PromotionID)
	if errors.Is(err, domainErrors.ErrPromotionNotFound) {
		r.logger.Warn("promotion referenced by subscription not found",
			zap.String("subscription_id", sub.ID.String()),
			zap.Int64("promotion_id", *sub.PromotionID))
		res.ClearPromotion = true
		return res, nil
	}
	if err != nil {
		return nil, domainErrors.DataStore("failed to load promotion", err)
	}
	if !promo.IsActive {
		res.ClearPromotion = true
		return res, nil
	}

	res.AmountDue = ApplyPromotion(plan.MonthlyPrice, promo)
	res.IsFree = res.AmountDue == 0
	res.Promotion = promo
	res.OrderName = orderName(plan, promo)
	return res, nil
}

// ResolveTrialExit prices the first paid charge after a trial. A free
// promotion is the trial itself, so it is consumed and the plan price is
// due. Discount promotions still apply.
func (r *PromotionResolver) ResolveTrialExit(ctx context.Context, sub *model.Subscription, plan *model.Plan, now time.Time) (*Resolution, error) {
	res, err := r.Resolve(ctx, sub, plan, now)
	if err != nil {
		return nil, err
	}
	if res.Promotion != nil && res.Promotion.Type == model.PromotionTypeFree {
		return &Resolution{
			AmountDue:      plan.MonthlyPrice,
			OrderName:      orderName(plan, nil),
			ClearPromotion: true,
		}, nil
	}
	return res, nil
}

// ApplyPromotion returns price after promo. Percent discounts round half
// away from zero to whole currency units. The result is never negative.
func ApplyPromotion(price int64, promo *model.Promotion) int64 {
	switch promo.Type {
	case model.PromotionTypeFree:
		return 0
	case model.PromotionTypePercent:
		rate := promo.Value
		if rate < 0 {
			rate = 0
		}
		if rate > 100 {
			rate = 100
		}
		return decimal.NewFromInt(price).
			Mul(decimal.NewFromInt(100 - rate)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case model.PromotionTypeAmount:
		if amount := price - promo.Value; amount > 0 {
			return amount
		}
		return 0
	default:
		return price
	}
}

func orderName(plan *model.Plan, promo *model.Promotion) string {
	name := plan.DisplayName
	if name == "" {
		name = plan.Name
	}
	if promo == nil {
		return fmt.Sprintf("%s 월 구독", name)
	}
	return fmt.Sprintf("%s 월 구독 (%s)", name, promo.Code)
}
