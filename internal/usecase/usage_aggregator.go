package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/period"
	"github.com/wekeepgrowing/semo-billing/internal/domain/repository"
)

// UsageAggregator sums daily usage into a per-period total.
type UsageAggregator struct {
	usageRepo repository.UsageRepository
	logger    *zap.Logger
}

func NewUsageAggregator(usageRepo repository.UsageRepository, logger *zap.Logger) *UsageAggregator {
	return &UsageAggregator{
		usageRepo: usageRepo,
		logger:    logger,
	}
}

// Aggregate sums the user's daily counters for the calendar days of
// [start, end] and stores the total keyed by (subscriptionID, start).
// Re-running for the same period overwrites the stored total.
//
// A read failure returns 0 with ErrUsageUnavailable so billing degrades to
// the cheapest plan. A write failure returns the computed total with
// ErrUsageNotPersisted.
func (a *UsageAggregator) Aggregate(ctx context.Context, subscriptionID, userID uuid.UUID, start, end time.Time) (int64, error) {
	from := period.StartOfDay(start)
	to := period.StartOfDay(end)

	total, err := a.usageRepo.SumDaily(ctx, userID, from, to)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domainErrors.ErrUsageUnavailable, err)
	}

	stat := &model.UsagePeriodStat{
		SubscriptionID: subscriptionID,
		UserID:         userID,
		PeriodStart:    start.UTC(),
		PeriodEnd:      end.UTC(),
		TotalCount:     total,
	}
	if err := a.usageRepo.UpsertPeriodStat(ctx, stat); err != nil {
		return total, fmt.Errorf("%w: %v", domainErrors.ErrUsageNotPersisted, err)
	}

	a.logger.Debug("usage aggregated",
		zap.String("subscription_id", subscriptionID.String()),
		zap.Time("period_start", start),
		zap.Int64("total", total))

	return total, nil
}
