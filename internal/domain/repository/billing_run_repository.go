package repository

import (
	"context"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
)

type BillingRunRepository interface {
	Create(ctx context.Context, run *model.BillingRun) error
	Finish(ctx context.Context, run *model.BillingRun) error
}
