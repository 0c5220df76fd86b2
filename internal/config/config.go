// Package config loads bot settings from the environment (and an optional .env file).
package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env           string `env:"ENV" env-default:"local"`
	TelegramToken string `env:"TELEGRAM_APITOKEN" env-required:"true"`
	DatabaseDSN   string `env:"DATABASE_DSN" env-default:"bot.db"`
	Timezone      string `env:"TIMEZONE" env-default:"Local"`

	Admin
	Subscription
	YooKassa
	Scheduler
	HTTPServer

	TelegramRateLimit float64 `env:"TELEGRAM_RATE_LIMIT" env-default:"25"`
}

// Admin identifies privileged users: ID always has paid access,
// Usernames may run admin commands.
type Admin struct {
	ID        int64    `env:"ADMIN_ID" env-default:"0"`
	Usernames []string `env:"ADMIN_USERNAMES" env-separator:","`
}

type Subscription struct {
	TrialDuration time.Duration `env:"TRIAL_DURATION" env-default:"720h"`
	Price         string        `env:"SUBSCRIPTION_PRICE" env-default:"500.00"`
	Period        time.Duration `env:"SUBSCRIPTION_PERIOD" env-default:"720h"`
}

type YooKassa struct {
	ShopID    string `env:"YOOKASSA_SHOP_ID"`
	SecretKey string `env:"YOOKASSA_SECRET_KEY"`
	ReturnURL string `env:"YOOKASSA_RETURN_URL" env-default:"https://t.me"`
}

// Enabled reports whether provider credentials are present.
func (y YooKassa) Enabled() bool {
	return y.ShopID != "" && y.SecretKey != ""
}

type Scheduler struct {
	SweepInterval       time.Duration `env:"REMINDER_SWEEP_INTERVAL" env-default:"30s"`
	FailureAlert        int           `env:"REMINDER_FAILURE_ALERT" env-default:"5"`
	PaymentSyncInterval time.Duration `env:"PAYMENT_SYNC_INTERVAL" env-default:"5m"`
	ExpiryCheckInterval time.Duration `env:"EXPIRY_CHECK_INTERVAL" env-default:"6h"`
	ExpiryNotice        time.Duration `env:"EXPIRY_NOTICE" env-default:"72h"`
}

type HTTPServer struct {
	Address     string        `env:"HTTP_ADDRESS" env-default:":8080"`
	Timeout     time.Duration `env:"HTTP_TIMEOUT" env-default:"10s"`
	IdleTimeout time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

// Load reads the environment into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load that terminates the process on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("cannot load config: %s", err)
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_APITOKEN is required")
	}
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return errors.Errorf("unknown ENV %q", c.Env)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrapf(err, "invalid TIMEZONE %q", c.Timezone)
	}
	price, err := decimal.NewFromString(c.Subscription.Price)
	if err != nil {
		return errors.Wrapf(err, "invalid SUBSCRIPTION_PRICE %q", c.Subscription.Price)
	}
	if !price.IsPositive() {
		return errors.New("SUBSCRIPTION_PRICE must be positive")
	}

	durations := map[string]time.Duration{
		"TRIAL_DURATION":          c.TrialDuration,
		"SUBSCRIPTION_PERIOD":     c.Period,
		"REMINDER_SWEEP_INTERVAL": c.SweepInterval,
		"PAYMENT_SYNC_INTERVAL":   c.PaymentSyncInterval,
		"EXPIRY_CHECK_INTERVAL":   c.ExpiryCheckInterval,
		"EXPIRY_NOTICE":           c.ExpiryNotice,
	}
	for name, d := range durations {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.FailureAlert < 1 {
		return errors.New("REMINDER_FAILURE_ALERT must be at least 1")
	}
	if c.TelegramRateLimit <= 0 {
		return errors.New("TELEGRAM_RATE_LIMIT must be positive")
	}
	return nil
}

// Location returns the zone reminder times are entered and displayed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// PriceDecimal returns the subscription price; Validate guarantees it parses.
func (c *Config) PriceDecimal() decimal.Decimal {
	return decimal.RequireFromString(c.Subscription.Price)
}
