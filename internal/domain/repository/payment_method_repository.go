package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
)

type PaymentMethodRepository interface {
	GetByID(ctx context.Context, id int64) (*model.PaymentMethod, error)
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*model.PaymentMethod, error)
	// ReplaceActive deactivates the user's active methods, stores pm and
	// points the user's non-terminal subscriptions at it, in one transaction.
	ReplaceActive(ctx context.Context, pm *model.PaymentMethod) error
	Deactivate(ctx context.Context, id int64) error
}
