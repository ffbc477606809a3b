package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
)

type UsageRepository interface {
	// SumDaily sums daily counters of the user for dates in [from, to].
	SumDaily(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error)
	// UpsertPeriodStat overwrites the total keyed by (subscription_id, period_start).
	UpsertPeriodStat(ctx context.Context, stat *model.UsagePeriodStat) error
}
