package toss

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/domain/provider"
)

const (
	defaultBaseURL = "https://api.tosspayments.com"
	apiVersion     = "v1"
)

// TossProvider implements provider.BillingProvider against the Toss
// Payments billing API.
type TossProvider struct {
	secretKey string
	baseURL   string
	client    *http.Client
	logger    *zap.Logger
}

// Option configures a TossProvider.
type Option func(*TossProvider)

// WithBaseURL points the provider at another API host (tests, sandboxes).
func WithBaseURL(baseURL string) Option {
	return func(t *TossProvider) {
		if baseURL != "" {
			t.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *TossProvider) {
		t.client = client
	}
}

// NewTossProvider creates a Toss billing provider.
// Billing charges can take up to 60 seconds on the Toss side, so the default
// client timeout is generous; callers bound each charge with a context.
func NewTossProvider(secretKey string, logger *zap.Logger, opts ...Option) *TossProvider {
	t := &TossProvider{
		secretKey: secretKey,
		baseURL:   defaultBaseURL,
		client:    &http.Client{Timeout: 60 * time.Second},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TossProvider) GetProviderName() string {
	return string(provider.ProviderTypeToss)
}

// toPaymentStatus maps Toss payment statuses onto provider statuses.
func toPaymentStatus(status string) provider.PaymentStatus {
	switch status {
	case "DONE":
		return provider.PaymentStatusCompleted
	case "CANCELED", "PARTIAL_CANCELED":
		return provider.PaymentStatusCancelled
	case "ABORTED", "EXPIRED":
		return provider.PaymentStatusFailed
	default:
		return provider.PaymentStatusPending
	}
}
