package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/wekeepgrowing/semo-billing/internal/domain/errors"
	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
	"github.com/wekeepgrowing/semo-billing/internal/domain/provider"
	"github.com/wekeepgrowing/semo-billing/internal/infrastructure/crypto"
)

// Failure codes raised before the gateway is called.
const (
	FailureCodeNoPaymentMethod       = "PAYMENT_METHOD_MISSING"
	FailureCodeInactivePaymentMethod = "PAYMENT_METHOD_INACTIVE"
	FailureCodeBillingKeyUnreadable  = "BILLING_KEY_UNREADABLE"
)

// ChargeRequest is one charge attempt against a stored billing key.
type ChargeRequest struct {
	PaymentMethod *model.PaymentMethod
	Amount        int64
	OrderID       string
	OrderName     string
	CustomerKey   string
}

// ChargeResult is the uniform answer of the executor. Err is set only when
// Success is false and is always a *domainErrors.GatewayError.
type ChargeResult struct {
	Success          bool
	GatewayReference string
	Amount           int64
	IsFree           bool
	Provider         string
	ApprovedAt       *time.Time
	Err              error
}

// PaymentExecutor charges billing keys through the configured gateway.
type PaymentExecutor struct {
	provider  provider.BillingProvider
	encryptor crypto.EncryptionService
	timeout   time.Duration
	currency  string
	recorder  Recorder
	logger    *zap.Logger
}

func NewPaymentExecutor(
	billingProvider provider.BillingProvider,
	encryptor crypto.EncryptionService,
	timeout time.Duration,
	currency string,
	recorder Recorder,
	logger *zap.Logger,
) *PaymentExecutor {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &PaymentExecutor{
		provider:  billingProvider,
		encryptor: encryptor,
		timeout:   timeout,
		currency:  currency,
		recorder:  recorder,
		logger:    logger,
	}
}

// ProviderName is the gateway the executor charges through.
func (e *PaymentExecutor) ProviderName() string {
	return e.provider.GetProviderName()
}

// Charge never returns an error: every failure is folded into the result.
// A zero amount skips the gateway, which does not accept zero-value charges,
// and succeeds with a locally generated reference.
func (e *PaymentExecutor) Charge(ctx context.Context, req *ChargeRequest) *ChargeResult {
	if req.Amount == 0 {
		e.logger.Info("skipping gateway for zero amount charge",
			zap.String("order_id", req.OrderID))
		return &ChargeResult{
			Success:          true,
			GatewayReference: "FREE-" + uuid.New().String(),
			IsFree:           true,
		}
	}

	result := &ChargeResult{
		Amount:   req.Amount,
		Provider: e.provider.GetProviderName(),
	}

	if req.PaymentMethod == nil {
		result.Err = domainErrors.NewGatewayRejection(FailureCodeNoPaymentMethod, "no payment method registered")
		return result
	}
	if !req.PaymentMethod.IsActive {
		result.Err = domainErrors.NewGatewayRejection(FailureCodeInactivePaymentMethod, "payment method has been deactivated")
		return result
	}

	billingKey, err := e.encryptor.Decrypt(req.PaymentMethod.EncryptedBillingKey, req.PaymentMethod.EncryptionIV)
	if err != nil {
		e.logger.Error("failed to decrypt billing key",
			zap.Int64("payment_method_id", req.PaymentMethod.ID),
			zap.Error(err))
		result.Err = domainErrors.NewGatewayRejection(FailureCodeBillingKeyUnreadable, err.Error())
		return result
	}

	customerKey := req.CustomerKey
	if customerKey == "" {
		customerKey = req.PaymentMethod.CustomerKey
	}

	chargeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	resp, err := e.provider.ChargeBillingKey(chargeCtx, &provider.ChargeBillingKeyRequest{
		BillingKey:  billingKey,
		CustomerKey: customerKey,
		Amount:      req.Amount,
		Currency:    e.currency,
		OrderID:     req.OrderID,
		OrderName:   req.OrderName,
	})
	elapsed := time.Since(started)

	if err != nil {
		result.Err = toGatewayError(chargeCtx, err)
		e.recorder.ChargeAttempted(result.Provider, false, req.Amount, elapsed)
		e.logger.Warn("billing charge failed",
			zap.String("order_id", req.OrderID),
			zap.Int64("amount", req.Amount),
			zap.Bool("transient", domainErrors.IsTransient(result.Err)),
			zap.Error(result.Err))
		return result
	}

	if resp.Status != provider.PaymentStatusCompleted {
		result.Err = domainErrors.NewGatewayRejection(
			"STATUS_"+strings.ToUpper(string(resp.Status)),
			fmt.Sprintf("payment %s ended in status %s", resp.PaymentKey, resp.Status))
		result.GatewayReference = resp.PaymentKey
		e.recorder.ChargeAttempted(result.Provider, false, req.Amount, elapsed)
		return result
	}

	result.Success = true
	result.GatewayReference = resp.PaymentKey
	result.ApprovedAt = resp.ApprovedAt
	if resp.Amount > 0 {
		result.Amount = resp.Amount
	}
	e.recorder.ChargeAttempted(result.Provider, true, result.Amount, elapsed)

	e.logger.Info("billing charge succeeded",
		zap.String("order_id", req.OrderID),
		zap.String("payment_key", resp.PaymentKey),
		zap.Int64("amount", result.Amount))

	return result
}

func toGatewayError(ctx context.Context, err error) *domainErrors.GatewayError {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domainErrors.NewTransientGatewayError("gateway call timed out", err)
	}

	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Transient {
			return &domainErrors.GatewayError{
				Transient:    true,
				ProviderCode: providerErr.Code,
				Message:      providerErr.Message,
				Err:          err,
			}
		}
		return domainErrors.NewGatewayRejection(providerErr.Code, providerErr.Message)
	}

	return domainErrors.NewTransientGatewayError("gateway call failed", err)
}

// NewOrderID derives the gateway order id of one charge attempt from the
// subscription and the attempt time. The gateway rejects a reused order id.
func NewOrderID(subscriptionID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("SUB-%s-%d", strings.ReplaceAll(subscriptionID.String(), "-", ""), at.UnixMilli())
}
