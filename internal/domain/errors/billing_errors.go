package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/wekeepgrowing/semo-billing/pkg/errors"
)

var (
	// ErrEmptyCatalog aborts a run: no subscription can be priced without plans.
	ErrEmptyCatalog = apperrors.NewAppError(apperrors.ErrConfiguration, "no active plans in catalog", nil)

	// ErrConfiguration marks a run-level misconfiguration.
	ErrConfiguration = apperrors.NewAppError(apperrors.ErrConfiguration, "billing misconfigured", nil)

	// ErrRunInProgress is returned when another billing run holds the cycle lock.
	ErrRunInProgress = apperrors.NewAppError(apperrors.ErrConflict, "billing run already in progress", nil)

	// ErrSubscriptionLocked means another worker is processing the subscription.
	ErrSubscriptionLocked = apperrors.NewAppError(apperrors.ErrConflict, "subscription is being processed", nil)

	// ErrStaleSubscription means the row no longer has the status the run read,
	// so the guarded update matched nothing.
	ErrStaleSubscription = apperrors.NewAppError(apperrors.ErrConflict, "subscription changed since it was read", nil)

	ErrSubscriptionNotFound  = apperrors.NewAppError(apperrors.ErrNotFound, "subscription not found", nil)
	ErrPlanNotFound          = apperrors.NewAppError(apperrors.ErrNotFound, "plan not found", nil)
	ErrPromotionNotFound     = apperrors.NewAppError(apperrors.ErrNotFound, "promotion not found", nil)
	ErrPaymentMethodNotFound = apperrors.NewAppError(apperrors.ErrNotFound, "payment method not found", nil)

	// ErrUsageUnavailable is returned by the usage aggregator when daily usage
	// cannot be read. The total is reported as zero.
	ErrUsageUnavailable = errors.New("usage data unavailable")

	// ErrUsageNotPersisted is returned when the period total could not be stored.
	// The computed total is still valid.
	ErrUsageNotPersisted = errors.New("usage period stat not persisted")
)

// GatewayError is a failed charge or billing-key call. Transient errors are
// network or timeout failures; the rest are rejections by the gateway whose
// code and message are kept verbatim.
type GatewayError struct {
	Transient    bool
	ProviderCode string
	Message      string
	Err          error
}

func (e *GatewayError) Error() string {
	kind := "rejected"
	if e.Transient {
		kind = "transient"
	}
	msg := fmt.Sprintf("gateway %s: %s", kind, e.Message)
	if e.ProviderCode != "" {
		msg = fmt.Sprintf("gateway %s [%s]: %s", kind, e.ProviderCode, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Code() string {
	if e.Transient {
		return apperrors.ErrGatewayTransient
	}
	return apperrors.ErrGatewayRejected
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// FailureCode is stored on the payment record: the provider code when the
// gateway returned one, otherwise the error kind.
func (e *GatewayError) FailureCode() string {
	if e.ProviderCode != "" {
		return e.ProviderCode
	}
	return e.Code()
}

func NewTransientGatewayError(message string, err error) *GatewayError {
	return &GatewayError{Transient: true, Message: message, Err: err}
}

func NewGatewayRejection(code, message string) *GatewayError {
	return &GatewayError{ProviderCode: code, Message: message}
}

// InconsistentWriteError means the gateway charged the customer but the
// subscription state could not be saved. It needs manual reconciliation.
type InconsistentWriteError struct {
	SubscriptionID   uuid.UUID
	OrderID          string
	GatewayReference string
	Amount           int64
	Err              error
}

func (e *InconsistentWriteError) Error() string {
	return fmt.Sprintf("charged but not recorded: subscription=%s order=%s reference=%s amount=%d: %v",
		e.SubscriptionID, e.OrderID, e.GatewayReference, e.Amount, e.Err)
}

func (e *InconsistentWriteError) Code() string {
	return apperrors.ErrInconsistentWrite
}

func (e *InconsistentWriteError) Unwrap() error {
	return e.Err
}

// DataStore wraps a persistence failure with the DATA_STORE code.
func DataStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.NewAppError(apperrors.ErrDataStore, op, err)
}

// IsTransient reports whether err is a transient gateway failure.
func IsTransient(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Transient
}
