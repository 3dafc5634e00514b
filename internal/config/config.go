package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultServerAddress = ":18111"
	envServerAddress     = "BACKEND_ADDR"
	envDatabaseURL       = "DATABASE_URL"

	// Hosted checkouts accept expiries between 30 minutes and 24 hours.
	minCheckoutSessionTTL = 31 * time.Minute
	maxCheckoutSessionTTL = 24 * time.Hour
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string `env:"BACKEND_ADDR" envDefault:":18111"`

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// AdminToken guards the /api/admin routes. When empty the admin API is disabled.
	AdminToken string `env:"ADMIN_API_TOKEN"`

	// BusinessName is shown in the embedded checkout widget.
	BusinessName string `env:"BUSINESS_NAME" envDefault:"Agency Portal"`

	// GracePeriodDays is how long a lapsed subscription keeps serving once expired.
	GracePeriodDays int `env:"GRACE_PERIOD_DAYS" envDefault:"7"`

	// CheckoutSessionTTL is how long an unfinished checkout reserves its domain.
	// Gateway checkouts are opened with the same expiry.
	CheckoutSessionTTL time.Duration `env:"CHECKOUT_SESSION_TTL" envDefault:"45m"`

	// SweepInterval is how often the in-process worker expires lapsed
	// subscriptions and abandons stale checkouts. Zero disables the worker.
	// A lapsed subscription reads as expired without grace until the next
	// sweep, so keep this short.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`

	Stripe   StripeConfig
	Razorpay RazorpayConfig
	Log      LogConfig
}

// StripeConfig holds hosted Checkout credentials and redirect targets.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	SuccessURL    string `env:"STRIPE_SUCCESS_URL" envDefault:"http://localhost:3000/payment/success"`
	CancelURL     string `env:"STRIPE_CANCEL_URL" envDefault:"http://localhost:3000/payment/cancel"`
}

// Enabled reports whether checkouts and webhooks can both work.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != "" && c.WebhookSecret != ""
}

// RazorpayConfig holds Razorpay API and webhook credentials.
type RazorpayConfig struct {
	KeyID         string `env:"RAZORPAY_KEY_ID"`
	KeySecret     string `env:"RAZORPAY_KEY_SECRET"`
	WebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`
}

// Enabled reports whether checkouts and webhooks can both work.
func (c RazorpayConfig) Enabled() bool {
	return c.KeyID != "" && c.KeySecret != "" && c.WebhookSecret != ""
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.ServerAddress = strings.TrimSpace(cfg.ServerAddress)
	if cfg.ServerAddress == "" {
		cfg.ServerAddress = defaultServerAddress
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.GracePeriodDays < 0 {
		errs = append(errs, errors.New("GRACE_PERIOD_DAYS must not be negative"))
	}
	if c.CheckoutSessionTTL < minCheckoutSessionTTL || c.CheckoutSessionTTL > maxCheckoutSessionTTL {
		errs = append(errs, fmt.Errorf("CHECKOUT_SESSION_TTL must be between %s and %s, got %s",
			minCheckoutSessionTTL, maxCheckoutSessionTTL, c.CheckoutSessionTTL))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
