package config

type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment" validate:"omitempty,oneof=dev staging prod test"`
	Version     string `mapstructure:"version" yaml:"version"`
}

func (c ServiceConfig) IsProduction() bool {
	return c.Environment == "prod"
}
