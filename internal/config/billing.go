package config

import "time"

const (
	TrialAnchorNow       = "now"
	TrialAnchorScheduled = "scheduled"
)

// BillingConfig controls the lifecycle run.
type BillingConfig struct {
	Workers         int           `mapstructure:"workers" yaml:"workers" validate:"gte=1,lte=64"`
	GracePeriodDays int           `mapstructure:"grace_period_days" yaml:"grace_period_days" validate:"gte=1"`
	SuspensionDays  int           `mapstructure:"suspension_days" yaml:"suspension_days" validate:"gte=0"`
	GatewayTimeout  time.Duration `mapstructure:"gateway_timeout" yaml:"gateway_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	LockTTL         time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	// TrialAnchor picks the start of the first paid period after a trial:
	// the run time ("now") or the scheduled next_billing_at ("scheduled").
	TrialAnchor   string        `mapstructure:"trial_anchor" yaml:"trial_anchor" validate:"oneof=now scheduled"`
	Currency      string        `mapstructure:"currency" yaml:"currency" validate:"len=3"`
	Schedule      string        `mapstructure:"schedule" yaml:"schedule"`
	RunTimeout    time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	EventsChannel string        `mapstructure:"events_channel" yaml:"events_channel"`
}

func (c *BillingConfig) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.GracePeriodDays == 0 {
		c.GracePeriodDays = 7
	}
	if c.SuspensionDays == 0 {
		c.SuspensionDays = 7
	}
	if c.GatewayTimeout == 0 {
		c.GatewayTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.LockTTL == 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.TrialAnchor == "" {
		c.TrialAnchor = TrialAnchorNow
	}
	if c.Currency == "" {
		c.Currency = "KRW"
	}
	if c.Schedule == "" {
		c.Schedule = "0 5 0 * * *"
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = 30 * time.Minute
	}
	if c.EventsChannel == "" {
		c.EventsChannel = "billing.events"
	}
}
