/*
config.go - Environment-driven configuration

PURPOSE:
  All runtime knobs come from environment variables, with a .env file
  loaded first for local development. Validation happens once at startup
  so misconfiguration fails fast instead of surfacing mid-request.

SEE ALSO:
  - cmd/server/main.go: Loads this at boot
*/
package config

import (
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime setting.
type Config struct {
	Port   int    `envconfig:"PORT" default:"8080"`
	DBPath string `envconfig:"DB_PATH" default:"rewards.db"`
	APIKey string `envconfig:"API_KEY" required:"true"`

	// Telegram delivery. An empty token disables outbound notifications;
	// the rest of the system runs unaffected.
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`

	LowBalanceThreshold      int64         `envconfig:"LOW_BALANCE_THRESHOLD" default:"50"`
	NotificationEditWindow   time.Duration `envconfig:"NOTIFICATION_EDIT_WINDOW" default:"5m"`
	BalanceCheckInterval     time.Duration `envconfig:"BALANCE_CHECK_INTERVAL" default:"5s"`
	BalanceMonitoringEnabled bool          `envconfig:"BALANCE_MONITORING_ENABLED" default:"true"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("PORT must be between 1 and 65535")
	}
	if c.LowBalanceThreshold < 0 {
		return errors.New("LOW_BALANCE_THRESHOLD must not be negative")
	}
	if c.NotificationEditWindow < 0 {
		return errors.New("NOTIFICATION_EDIT_WINDOW must not be negative")
	}
	if c.BalanceCheckInterval <= 0 {
		return errors.New("BALANCE_CHECK_INTERVAL must be positive")
	}
	return nil
}
