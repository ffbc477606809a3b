package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-billing/internal/config"
	"github.com/wekeepgrowing/semo-billing/internal/domain/provider"
	stripeProvider "github.com/wekeepgrowing/semo-billing/internal/infrastructure/provider/stripe"
	tossProvider "github.com/wekeepgrowing/semo-billing/internal/infrastructure/provider/toss"
)

// Factory creates billing providers based on the provider type
type Factory struct {
	config *config.GatewayConfig
	logger *zap.Logger
}

// NewFactory creates a new provider factory
func NewFactory(config *config.GatewayConfig, logger *zap.Logger) *Factory {
	return &Factory{
		config: config,
		logger: logger,
	}
}

// GetProvider returns a billing provider based on the provider type
func (f *Factory) GetProvider(providerType provider.ProviderType) (provider.BillingProvider, error) {
	switch providerType {
	case provider.ProviderTypeToss:
		return f.createTossProvider()
	case provider.ProviderTypeStripe:
		return f.createStripeProvider()
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}

// Default returns the provider configured by gateway.provider.
func (f *Factory) Default() (provider.BillingProvider, error) {
	return f.GetProviderFromString(f.config.Provider)
}

// GetProviderFromString returns a billing provider from a string type
func (f *Factory) GetProviderFromString(providerStr string) (provider.BillingProvider, error) {
	// Default to Toss if not specified
	if providerStr == "" {
		providerStr = string(provider.ProviderTypeToss)
	}

	return f.GetProvider(provider.ProviderType(providerStr))
}

func (f *Factory) createTossProvider() (provider.BillingProvider, error) {
	if f.config.Toss.SecretKey == "" {
		return nil, fmt.Errorf("toss secret key not configured")
	}

	return tossProvider.NewTossProvider(
		f.config.Toss.SecretKey,
		f.logger.Named("toss"),
		tossProvider.WithBaseURL(f.config.Toss.BaseURL),
	), nil
}

func (f *Factory) createStripeProvider() (provider.BillingProvider, error) {
	if f.config.Stripe.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key not configured")
	}

	return stripeProvider.NewStripeProvider(
		f.config.Stripe.SecretKey,
		f.config.Stripe.BackendURL,
		f.logger.Named("stripe"),
	), nil
}
