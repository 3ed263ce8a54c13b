package quotes

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds configuration for the external quote source
type Config struct {
	// Quote source settings
	QuoteSourceURL string // e.g., "https://api.binance.com"

	// HTTP client settings
	HTTPTimeout time.Duration
	MaxRetries  int

	// RateLimitPerSec caps outbound quote requests per second
	RateLimitPerSec float64
	RateLimitBurst  int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("QUOTE_SOURCE_URL", "https://api.binance.com")
	v.SetDefault("QUOTE_HTTP_TIMEOUT_SECONDS", 5)
	v.SetDefault("QUOTE_MAX_RETRIES", 3)
	v.SetDefault("QUOTE_RATE_LIMIT_PER_SEC", 10.0)
	v.SetDefault("QUOTE_RATE_LIMIT_BURST", 20)

	v.AutomaticEnv()

	cfg := &Config{
		QuoteSourceURL:  v.GetString("QUOTE_SOURCE_URL"),
		HTTPTimeout:     time.Duration(v.GetInt("QUOTE_HTTP_TIMEOUT_SECONDS")) * time.Second,
		MaxRetries:      v.GetInt("QUOTE_MAX_RETRIES"),
		RateLimitPerSec: v.GetFloat64("QUOTE_RATE_LIMIT_PER_SEC"),
		RateLimitBurst:  v.GetInt("QUOTE_RATE_LIMIT_BURST"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.QuoteSourceURL == "" {
		return fmt.Errorf("QUOTE_SOURCE_URL must not be empty")
	}
	if cfg.HTTPTimeout <= 0 {
		return fmt.Errorf("QUOTE_HTTP_TIMEOUT_SECONDS must be positive")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("QUOTE_MAX_RETRIES must be positive")
	}
	if cfg.RateLimitPerSec <= 0 {
		return fmt.Errorf("QUOTE_RATE_LIMIT_PER_SEC must be positive")
	}
	if cfg.RateLimitBurst <= 0 {
		return fmt.Errorf("QUOTE_RATE_LIMIT_BURST must be positive")
	}
	return nil
}
