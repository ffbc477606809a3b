package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
)

// SubscriptionRepository serves the candidate queries of the lifecycle phases
// and the fenced writes that move a subscription between states.
type SubscriptionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Subscription, error)

	// ListTrialExpired returns active trials whose next_billing_at <= now.
	ListTrialExpired(ctx context.Context, now time.Time) ([]*model.Subscription, error)
	// ListGraceExpired returns payment_failed subscriptions with grace_until < now.
	ListGraceExpired(ctx context.Context, now time.Time) ([]*model.Subscription, error)
	// ListRestrictionExpired returns restricted subscriptions with grace_until < cutoff.
	ListRestrictionExpired(ctx context.Context, cutoff time.Time) ([]*model.Subscription, error)
	// ListCancellationDue returns active subscriptions flagged cancel_at_period_end
	// whose current_period_end <= boundary.
	ListCancellationDue(ctx context.Context, boundary time.Time) ([]*model.Subscription, error)
	// ListRenewalDue returns paid active subscriptions of non-deleted users
	// whose current_period_end <= boundary.
	ListRenewalDue(ctx context.Context, boundary time.Time) ([]*model.Subscription, error)

	// ApplyTransition updates the row only while it still has the expected
	// status. Returns ErrStaleSubscription when nothing matched.
	ApplyTransition(ctx context.Context, t model.Transition) error
	// RecordChargeOutcome inserts the payment record and applies the
	// transition in one transaction.
	RecordChargeOutcome(ctx context.Context, outcome *model.ChargeOutcome) error
}
