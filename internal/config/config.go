package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Observability holds the OTLP exporter endpoints. Empty endpoints leave
// the corresponding exporter disabled.
type Observability struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	TracingURL  string `mapstructure:"tracing_url" validate:"omitempty,url"`
	MetricsURL  string `mapstructure:"metrics_url" validate:"omitempty,url"`
}

// Config holds the application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url" validate:"required"`

	// RedisURL selects the rate-limit store. Empty falls back to the
	// in-process store, which is only safe for a single instance.
	RedisURL string `mapstructure:"redis_url"`

	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"min=0"`
	BatchSize         int           `mapstructure:"batch_size" validate:"min=0,max=1000"`
	RateLimitFailOpen bool          `mapstructure:"rate_limit_fail_open"`

	Observability Observability `mapstructure:"observability"`
}

// Validate checks the configuration against the struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// Load loads configuration from an optional hub.yaml file merged with
// HUB_-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("hub")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/hub")

	v.SetDefault("database_url", "postgres://localhost/hub?sslmode=disable")
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("batch_size", 50)
	v.SetDefault("observability.service_name", "integration-hub")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind environment variables explicitly to ensure they map correctly
	v.BindEnv("database_url")
	v.BindEnv("redis_url")
	v.BindEnv("poll_interval")
	v.BindEnv("batch_size")
	v.BindEnv("rate_limit_fail_open")
	v.BindEnv("observability.service_name")
	v.BindEnv("observability.tracing_url")
	v.BindEnv("observability.metrics_url")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
