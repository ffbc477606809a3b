package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/domain/provider"
)

// StripeProvider implements provider.BillingProvider with off-session
// PaymentIntents. The billing key is a Stripe payment method ID attached to
// the customer through a SetupIntent.
type StripeProvider struct {
	api    *client.API
	logger *zap.Logger
}

// NewStripeProvider creates a Stripe provider. backendURL overrides the API
// endpoint and is empty in production.
func NewStripeProvider(secretKey, backendURL string, logger *zap.Logger) *StripeProvider {
	// Charges are single-attempt per billing run; no SDK retries.
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
	}
	if backendURL != "" {
		cfg.URL = stripe.String(backendURL)
	}

	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackend(stripe.ConnectBackend),
		Uploads: stripe.GetBackend(stripe.UploadsBackend),
	})

	return &StripeProvider{
		api:    api,
		logger: logger,
	}
}

// GetProviderName returns the provider name
func (s *StripeProvider) GetProviderName() string {
	return string(provider.ProviderTypeStripe)
}

// IssueBillingKey resolves a succeeded SetupIntent (the auth key) into its
// payment method.
func (s *StripeProvider) IssueBillingKey(ctx context.Context, req *provider.IssueBillingKeyRequest) (*provider.IssueBillingKeyResponse, error) {
	params := &stripe.SetupIntentParams{}
	params.Context = ctx
	params.AddExpand("payment_method")

	si, err := s.api.SetupIntents.Get(req.AuthKey, params)
	if err != nil {
		s.logger.Error("StripeProvider: failed to fetch setup intent",
			zap.String("customer_key", req.CustomerKey),
			zap.Error(err))
		return nil, toProviderError(err)
	}

	if si.Status != stripe.SetupIntentStatusSucceeded || si.PaymentMethod == nil {
		return nil, &provider.ProviderError{
			Code:    "SETUP_INTENT_INCOMPLETE",
			Message: "Setup intent has not succeeded",
			Details: string(si.Status),
		}
	}
	if si.Customer != nil && si.Customer.ID != req.CustomerKey {
		return nil, &provider.ProviderError{
			Code:    "CUSTOMER_MISMATCH",
			Message: "Setup intent belongs to another customer",
		}
	}

	result := &provider.IssueBillingKeyResponse{
		BillingKey:  si.PaymentMethod.ID,
		CustomerKey: req.CustomerKey,
	}
	if card := si.PaymentMethod.Card; card != nil {
		result.CardCompany = string(card.Brand)
		result.CardNumber = "************" + card.Last4
		result.CardType = string(card.Funding)
	}

	s.logger.Info("StripeProvider: Billing key issued",
		zap.String("customer_key", req.CustomerKey),
		zap.String("payment_method", result.BillingKey))

	return result, nil
}

// ChargeBillingKey confirms an off-session PaymentIntent. The order ID is
// the idempotency key, so a resubmitted order never charges twice.
func (s *StripeProvider) ChargeBillingKey(ctx context.Context, req *provider.ChargeBillingKeyRequest) (*provider.ChargeBillingKeyResponse, error) {
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyKRW)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(currency),
		Customer:      stripe.String(req.CustomerKey),
		PaymentMethod: stripe.String(req.BillingKey),
		Description:   stripe.String(req.OrderName),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.OrderID)
	params.AddMetadata("order_id", req.OrderID)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		s.logger.Error("StripeProvider: billing charge failed",
			zap.String("order_id", req.OrderID),
			zap.Error(err))
		return nil, toProviderError(err)
	}

	s.logger.Info("StripeProvider: billing charge finished",
		zap.String("order_id", req.OrderID),
		zap.String("payment_intent", pi.ID),
		zap.String("stripe_status", string(pi.Status)))

	return &provider.ChargeBillingKeyResponse{
		PaymentKey: pi.ID,
		OrderID:    req.OrderID,
		Status:     toPaymentStatus(pi.Status),
		Amount:     pi.Amount,
	}, nil
}

func toPaymentStatus(status stripe.PaymentIntentStatus) provider.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return provider.PaymentStatusCompleted
	case stripe.PaymentIntentStatusCanceled:
		return provider.PaymentStatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return provider.PaymentStatusFailed
	default:
		return provider.PaymentStatusPending
	}
}

// toProviderError maps SDK errors. Card and invalid-request errors are
// rejections; API errors, rate limits and network failures are transient.
func toProviderError(err error) *provider.ProviderError {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &provider.ProviderError{
			Code:      provider.ErrCodeAPI,
			Message:   "Stripe API request failed",
			Details:   err.Error(),
			Transient: true,
		}
	}

	code := string(stripeErr.Code)
	if stripeErr.DeclineCode != "" {
		code = string(stripeErr.DeclineCode)
	}
	if code == "" {
		code = string(stripeErr.Type)
	}

	return &provider.ProviderError{
		Code:       code,
		Message:    stripeErr.Msg,
		StatusCode: stripeErr.HTTPStatusCode,
		Transient: stripeErr.Type == stripe.ErrorTypeAPI ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
	}
}
