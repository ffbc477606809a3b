package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the billing status of a subscription
type SubscriptionStatus string

const (
	// SubscriptionStatusActive covers both trial (no period yet) and paid periods.
	SubscriptionStatusActive        SubscriptionStatus = "active"
	SubscriptionStatusPaymentFailed SubscriptionStatus = "payment_failed"
	// SubscriptionStatusRestricted limits features after the grace period.
	SubscriptionStatusRestricted SubscriptionStatus = "restricted"
	// SubscriptionStatusSuspended fully blocks access. Terminal.
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	// SubscriptionStatusCancelled is reached at period end after a cancel request. Terminal.
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// IsTerminal reports whether the orchestrator never moves the status again.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusSuspended || s == SubscriptionStatusCancelled
}

// Scan implements sql.Scanner interface
func (s *SubscriptionStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = SubscriptionStatus(v)
	case []byte:
		*s = SubscriptionStatus(v)
	default:
		*s = ""
	}
	return nil
}

// Value implements driver.Valuer interface
func (s SubscriptionStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Subscription is one billing relationship of a user.
// A null CurrentPeriodStart means the subscription is still in its trial.
type Subscription struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID             uuid.UUID          `gorm:"type:uuid;not null;index" json:"user_id"`
	PlanID             int64              `gorm:"not null" json:"plan_id"`
	BillingPlanID      *int64             `json:"billing_plan_id,omitempty"`
	Status             SubscriptionStatus `gorm:"size:20;not null;default:'active'" json:"status"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	NextBillingAt      *time.Time         `json:"next_billing_at,omitempty"`
	CancelAtPeriodEnd  bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	PromotionID        *int64             `json:"promotion_id,omitempty"`
	PromotionAppliedAt *time.Time         `json:"promotion_applied_at,omitempty"`
	PromotionExpiresAt *time.Time         `json:"promotion_expires_at,omitempty"`
	FailedAt           *time.Time         `json:"failed_at,omitempty"`
	GraceUntil         *time.Time         `json:"grace_until,omitempty"`
	PaymentMethodID    *int64             `json:"payment_method_id,omitempty"`
	CustomerKey        string             `gorm:"size:300;not null" json:"customer_key"`
	LastBillingRunID   *uuid.UUID         `gorm:"type:uuid" json:"last_billing_run_id,omitempty"`
	CreatedAt          time.Time          `gorm:"default:now()" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"default:now()" json:"updated_at"`
}

// InTrial reports whether no billing period has started yet.
func (s *Subscription) InTrial() bool {
	return s.CurrentPeriodStart == nil
}

// EffectivePlanID is the plan charged next: the billing plan once set,
// otherwise the entry plan.
func (s *Subscription) EffectivePlanID() int64 {
	if s.BillingPlanID != nil {
		return *s.BillingPlanID
	}
	return s.PlanID
}

// TableName specifies the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}

// JSONB represents a JSONB database type
type JSONB map[string]interface{}

// Value implements driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner interface
func (j *JSONB) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		*j = make(JSONB)
		return nil
	}
}
