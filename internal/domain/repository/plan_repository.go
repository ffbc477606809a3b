package repository

import (
	"context"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
)

type PlanRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Plan, error)
	// ListActive returns active plans ordered by monthly price ascending.
	ListActive(ctx context.Context) ([]*model.Plan, error)
	// UpsertByName inserts or updates a plan matched on its name.
	UpsertByName(ctx context.Context, plan *model.Plan) error
}

type PromotionRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Promotion, error)
}
