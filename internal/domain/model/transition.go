package model

import (
	"time"

	"github.com/google/uuid"
)

// Transition is a fenced update of one subscription row: it applies only
// while the row still has ExpectedStatus. Updates maps column names to values;
// a nil value writes NULL.
//
// With FencePeriod set the row must also still have ExpectedPeriodEnd as its
// current_period_end (NULL when ExpectedPeriodEnd is nil). Charging phases
// set it so a period is advanced at most once.
type Transition struct {
	SubscriptionID    uuid.UUID
	ExpectedStatus    SubscriptionStatus
	FencePeriod       bool
	ExpectedPeriodEnd *time.Time
	RunID             uuid.UUID
	Updates           map[string]interface{}
}

// ChargeOutcome is the unit written after a charge attempt: the payment
// record and the subscription transition commit together or not at all.
type ChargeOutcome struct {
	Payment    *BillingPayment
	Transition Transition
}
