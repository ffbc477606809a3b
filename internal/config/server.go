package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`
	GRPC GRPCConfig `mapstructure:"grpc" yaml:"grpc"`
	// ShutdownTimeout bounds graceful shutdown of both servers.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type HTTPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port" validate:"gt=0,lte=65535"`
}

type GRPCConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port" validate:"gt=0,lte=65535"`
}

func (c HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c GRPCConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *ServerConfig) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.GRPC.Port == 0 {
		c.GRPC.Port = 9090
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}
