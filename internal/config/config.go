// Package config loads server settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable the server reads at boot.
type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS          float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int      `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeoutSeconds int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	SMSEnabled            bool     `mapstructure:"SMS_ENABLED"`
	TLSEnabled            bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile           string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile            string   `mapstructure:"TLS_KEY_FILE"`
}

// defaults cover everything that can run out of the box. DATABASE_URL is
// deliberately absent: there is no sensible default ledger.
var defaults = map[string]any{
	"PORT":                    "8000",
	"ENV":                     "development",
	"DB_MAX_CONNS":            20,
	"DB_MIN_CONNS":            5,
	"CORS_ORIGINS":            "http://localhost:3000",
	"RATE_LIMIT_RPS":          100,
	"RATE_LIMIT_BURST":        200,
	"REQUEST_TIMEOUT_SECONDS": 30,
	"SMS_ENABLED":             false,
}

// boundKeys must name every Config field's key; viper only exposes bound
// keys to Unmarshal when they arrive via the environment.
var boundKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT_SECONDS", "SMS_ENABLED",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load assembles the configuration from defaults, an optional .env file,
// and the environment, in rising precedence.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	for _, key := range boundKeys {
		_ = v.BindEnv(key)
	}

	// A missing .env is fine; the environment alone is a complete source.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// CORS origins arrive as one comma-joined string from the environment.
	if len(cfg.CORSOrigins) == 0 {
		if raw := v.GetString("CORS_ORIGINS"); raw != "" {
			cfg.CORSOrigins = strings.Split(raw, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return &cfg, nil
}

func (c *Config) IsDev() bool { return c.Env == "development" }

func (c *Config) IsProduction() bool { return c.Env == "production" }

// RequestTimeout returns the per-request deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive, got %d", c.RequestTimeoutSeconds)
	}
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}
	return nil
}
