package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	// Payment processor that receives initiated payments. Empty URL selects
	// the in-process sandbox processor.
	ProcessorURL        string        `mapstructure:"PROCESSOR_URL"`
	ProcessorTimeout    time.Duration `mapstructure:"PROCESSOR_TIMEOUT"`
	ProcessorMaxRetries int           `mapstructure:"PROCESSOR_MAX_RETRIES"`
	ProcessorSecret     string        `mapstructure:"PROCESSOR_SECRET"`

	// Client notification endpoint. Empty URL delivers in-process.
	NotifierURL        string `mapstructure:"NOTIFIER_URL"`
	NotifierSecret     string `mapstructure:"NOTIFIER_SECRET"`
	NotifierMaxRetries int    `mapstructure:"NOTIFIER_MAX_RETRIES"`

	// Bank webhook bearer token verification (HS256).
	WebhookJWTSecret string `mapstructure:"WEBHOOK_JWT_SECRET"`
	WebhookJWTIssuer string `mapstructure:"WEBHOOK_JWT_ISSUER"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"PROCESSOR_URL", "PROCESSOR_TIMEOUT", "PROCESSOR_MAX_RETRIES", "PROCESSOR_SECRET",
	"NOTIFIER_URL", "NOTIFIER_SECRET", "NOTIFIER_MAX_RETRIES",
	"WEBHOOK_JWT_SECRET", "WEBHOOK_JWT_ISSUER",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("PROCESSOR_TIMEOUT", "10s")
	v.SetDefault("PROCESSOR_MAX_RETRIES", 2)
	v.SetDefault("NOTIFIER_MAX_RETRIES", 3)

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("ENV must be development, staging, production or test, got %q", c.Env)
	}

	if c.IsProduction() && c.WebhookJWTSecret == "" {
		return fmt.Errorf("WEBHOOK_JWT_SECRET is required in production")
	}
	if c.WebhookJWTSecret != "" && len(c.WebhookJWTSecret) < 32 {
		return fmt.Errorf("WEBHOOK_JWT_SECRET must be at least 32 bytes, got %d", len(c.WebhookJWTSecret))
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.ProcessorMaxRetries < 0 || c.NotifierMaxRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	if c.ProcessorURL != "" && !strings.HasPrefix(c.ProcessorURL, "http") {
		return fmt.Errorf("PROCESSOR_URL must be an http(s) URL, got %q", c.ProcessorURL)
	}
	if c.NotifierURL != "" && !strings.HasPrefix(c.NotifierURL, "http") {
		return fmt.Errorf("NOTIFIER_URL must be an http(s) URL, got %q", c.NotifierURL)
	}

	return nil
}
