package model

import (
	"time"

	"github.com/google/uuid"
)

type BillingPaymentStatus string

const (
	BillingPaymentStatusSuccess BillingPaymentStatus = "success"
	BillingPaymentStatusFailed  BillingPaymentStatus = "failed"
)

// BillingPayment is an append-only record of one charge attempt, including
// zero-amount periods. Never updated after insert.
type BillingPayment struct {
	ID               int64                `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID   uuid.UUID            `gorm:"type:uuid;not null;index" json:"subscription_id"`
	UserID           uuid.UUID            `gorm:"type:uuid;not null" json:"user_id"`
	PlanID           int64                `gorm:"not null" json:"plan_id"`
	PaymentMethodID  *int64               `json:"payment_method_id,omitempty"`
	OrderID          string               `gorm:"size:100;not null;uniqueIndex" json:"order_id"`
	OrderName        string               `gorm:"size:255" json:"order_name"`
	Amount           int64                `gorm:"not null" json:"amount"`
	Currency         string               `gorm:"size:3;default:'KRW'" json:"currency"`
	Status           BillingPaymentStatus `gorm:"size:20;not null" json:"status"`
	IsFree           bool                 `gorm:"not null;default:false" json:"is_free"`
	Provider         string               `gorm:"size:20" json:"provider,omitempty"`
	GatewayReference *string              `gorm:"size:200" json:"gateway_reference,omitempty"`
	FailureCode      *string              `gorm:"size:100" json:"failure_code,omitempty"`
	FailureReason    *string              `gorm:"type:text" json:"failure_reason,omitempty"`
	PeriodStart      *time.Time           `json:"period_start,omitempty"`
	PeriodEnd        *time.Time           `json:"period_end,omitempty"`
	Phase            string               `gorm:"size:30" json:"phase"`
	RunID            uuid.UUID            `gorm:"type:uuid;not null;index" json:"run_id"`
	Metadata         JSONB                `gorm:"type:jsonb" json:"metadata,omitempty"`
	AttemptedAt      time.Time            `gorm:"not null" json:"attempted_at"`
	PaidAt           *time.Time           `json:"paid_at,omitempty"`
	CreatedAt        time.Time            `gorm:"default:now()" json:"created_at"`
}

func (BillingPayment) TableName() string {
	return "billing_payments"
}
