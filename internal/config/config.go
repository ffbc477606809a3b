package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	pkgconfig "github.com/wekeepgrowing/semo-billing/pkg/config"
)

// ServiceName is the viper config name and env prefix (BILLING_*).
const ServiceName = "billing"

type Config struct {
	Service  ServiceConfig  `mapstructure:"service" yaml:"service"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Gateway  GatewayConfig  `mapstructure:"gateway" yaml:"gateway"`
	Billing  BillingConfig  `mapstructure:"billing" yaml:"billing"`
	JWT      JWTConfig      `mapstructure:"jwt" yaml:"jwt"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	Format      string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=json console"`
	Output      string `mapstructure:"output" yaml:"output"`
	FilePath    string `mapstructure:"file_path" yaml:"file_path"`
	Development bool   `mapstructure:"development" yaml:"development"`
	GormLevel   string `mapstructure:"gorm_level" yaml:"gorm_level" validate:"omitempty,oneof=silent error warn info"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret" yaml:"secret" validate:"required"`
	// OperatorRole is the role claim required on the internal run trigger.
	OperatorRole string `mapstructure:"operator_role" yaml:"operator_role"`
}

// LoadConfig reads configs/{APP_ENV}/billing.yaml (or CONFIG_PATH) with
// BILLING_ env overrides, fills defaults and validates the result.
func LoadConfig() (*Config, error) {
	src, err := pkgconfig.Load(ServiceName)
	if err != nil {
		return nil, err
	}
	return FromSource(src)
}

// FromSource decodes and validates an already loaded config source.
func FromSource(src pkgconfig.Config) (*Config, error) {
	var cfg Config
	if err := src.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return c.Gateway.validateProvider()
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "semo-billing"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.GormLevel == "" {
		c.Log.GormLevel = "warn"
	}
	if c.JWT.OperatorRole == "" {
		c.JWT.OperatorRole = "service_role"
	}
	c.Database.applyDefaults()
	c.Server.applyDefaults()
	c.Gateway.applyDefaults()
	c.Billing.applyDefaults()
}
