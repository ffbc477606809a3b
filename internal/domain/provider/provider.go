package provider

import (
	"context"
	"time"
)

// BillingProvider is a payment gateway that can store a card as a billing
// key and charge it later without the customer present.
type BillingProvider interface {
	// IssueBillingKey exchanges a one-time auth key for a reusable billing key.
	IssueBillingKey(ctx context.Context, req *IssueBillingKeyRequest) (*IssueBillingKeyResponse, error)

	// ChargeBillingKey charges a stored billing key. Duplicate order IDs are
	// rejected by the gateway.
	ChargeBillingKey(ctx context.Context, req *ChargeBillingKeyRequest) (*ChargeBillingKeyResponse, error)

	// GetProviderName returns the provider name
	GetProviderName() string
}

// IssueBillingKeyRequest carries the auth key returned by the gateway's
// card registration widget.
type IssueBillingKeyRequest struct {
	AuthKey     string `json:"authKey"`
	CustomerKey string `json:"customerKey"`
}

// IssueBillingKeyResponse describes the stored card.
type IssueBillingKeyResponse struct {
	BillingKey      string     `json:"billingKey"`
	CustomerKey     string     `json:"customerKey"`
	CardCompany     string     `json:"cardCompany"`
	CardNumber      string     `json:"cardNumber"` // masked
	CardType        string     `json:"cardType,omitempty"`
	AuthenticatedAt *time.Time `json:"authenticatedAt,omitempty"`
}

// ChargeBillingKeyRequest represents a recurring charge.
type ChargeBillingKeyRequest struct {
	BillingKey  string `json:"-"`
	CustomerKey string `json:"customerKey"`
	Amount      int64  `json:"amount"` // Amount in smallest currency unit
	Currency    string `json:"currency,omitempty"`
	OrderID     string `json:"orderId"`
	OrderName   string `json:"orderName"`
}

// ChargeBillingKeyResponse represents the gateway's answer to a charge.
type ChargeBillingKeyResponse struct {
	PaymentKey     string        `json:"paymentKey"`
	OrderID        string        `json:"orderId"`
	TransactionKey string        `json:"transactionKey,omitempty"`
	Status         PaymentStatus `json:"status"`
	Amount         int64         `json:"totalAmount"`
	ApprovedAt     *time.Time    `json:"approvedAt,omitempty"`
}

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// ProviderType represents the type of payment provider
type ProviderType string

const (
	ProviderTypeStripe ProviderType = "stripe"
	ProviderTypeToss   ProviderType = "toss"
)

// Provider error codes for failures that happen before the gateway answers.
const (
	ErrCodeMarshal  = "MARSHAL_ERROR"
	ErrCodeRequest  = "REQUEST_ERROR"
	ErrCodeAPI      = "API_ERROR"
	ErrCodeResponse = "RESPONSE_ERROR"
	ErrCodeParse    = "PARSE_ERROR"
)

// ProviderError is returned by provider implementations. Code is the
// gateway's own error code when the gateway answered, otherwise one of the
// ErrCode constants. Transient marks network, timeout and 5xx failures.
type ProviderError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Transient  bool   `json:"transient"`
}

func (e *ProviderError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}
