package config

import (
	"fmt"
	"time"
)

const (
	ProviderToss   = "toss"
	ProviderStripe = "stripe"
)

type GatewayConfig struct {
	// Provider selects the billing-key gateway used for recurring charges.
	Provider string       `mapstructure:"provider" yaml:"provider" validate:"omitempty,oneof=toss stripe"`
	Toss     TossConfig   `mapstructure:"toss" yaml:"toss"`
	Stripe   StripeConfig `mapstructure:"stripe" yaml:"stripe"`
	// EncryptionKey is the base64 AES-256 key protecting stored billing keys.
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key" validate:"required,base64"`
}

type TossConfig struct {
	SecretKey string        `mapstructure:"secret_key" yaml:"secret_key"`
	ClientKey string        `mapstructure:"client_key" yaml:"client_key"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	// BackendURL overrides the Stripe API endpoint (stripe-mock in tests).
	BackendURL string `mapstructure:"backend_url" yaml:"backend_url" validate:"omitempty,url"`
}

func (c *GatewayConfig) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderToss
	}
	if c.Toss.BaseURL == "" {
		c.Toss.BaseURL = "https://api.tosspayments.com"
	}
	if c.Toss.Timeout == 0 {
		c.Toss.Timeout = 30 * time.Second
	}
}

func (c *GatewayConfig) validateProvider() error {
	switch c.Provider {
	case ProviderToss:
		if c.Toss.SecretKey == "" {
			return fmt.Errorf("invalid configuration: gateway.toss.secret_key is required for provider %q", c.Provider)
		}
	case ProviderStripe:
		if c.Stripe.SecretKey == "" {
			return fmt.Errorf("invalid configuration: gateway.stripe.secret_key is required for provider %q", c.Provider)
		}
	}
	return nil
}
