package usecase

import (
	"context"
	"time"
)

// Locker guards billing work against overlapping runs. Acquire returns
// release=nil and ok=false when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// EventPublisher publishes billing events. Publishing is best effort: a
// failure is logged and never changes an item's outcome.
type EventPublisher interface {
	Publish(ctx context.Context, event BillingEvent) error
}

// BillingEvent is the JSON payload sent on the events channel.
type BillingEvent struct {
	Type           string                 `json:"type"`
	RunID          string                 `json:"run_id"`
	SubscriptionID string                 `json:"subscription_id,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// Billing event types.
const (
	EventSubscriptionActivated     = "subscription.activated"
	EventSubscriptionRenewed       = "subscription.renewed"
	EventSubscriptionPaymentFailed = "subscription.payment_failed"
	EventSubscriptionRestricted    = "subscription.restricted"
	EventSubscriptionSuspended     = "subscription.suspended"
	EventSubscriptionCancelled     = "subscription.cancelled"
	EventReconciliationRequired    = "billing.reconciliation_required"
	EventCycleCompleted            = "billing.cycle_completed"
)

// Recorder receives billing metrics.
type Recorder interface {
	RunFinished(trigger string, err error, duration time.Duration)
	ItemProcessed(phase Phase, outcome ItemOutcome)
	ChargeAttempted(provider string, success bool, amount int64, duration time.Duration)
	InconsistentWrite(phase Phase)
}

// NopRecorder discards metrics.
type NopRecorder struct{}

func (NopRecorder) RunFinished(string, error, time.Duration) {}
func (NopRecorder) ItemProcessed(Phase, ItemOutcome) {}
func (NopRecorder) ChargeAttempted(string, bool, int64, time.Duration) {}
func (NopRecorder) InconsistentWrite(Phase) {}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, BillingEvent) error { return nil }
