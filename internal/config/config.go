package config

import (
	"errors"
	"os"
	"strings"
)

type Config struct {
	Port string

	// DATABASE_URL is either a local SQLite path or the HTTPS base URL
	// of the hosted profile store.
	DatabaseURL string

	StripeSecretKey     string
	StripeWebhookSecret string

	AuthURL        string
	AuthAnonKey    string
	AuthServiceKey string

	SentryDSN string
}

func New() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	stripeSecretKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY environment variable is required")
	}

	stripeWebhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if stripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET environment variable is required")
	}

	authURL := os.Getenv("AUTH_URL")
	if authURL == "" {
		return nil, errors.New("AUTH_URL environment variable is required")
	}

	authAnonKey := os.Getenv("AUTH_ANON_KEY")
	if authAnonKey == "" {
		return nil, errors.New("AUTH_ANON_KEY environment variable is required")
	}

	authServiceKey := os.Getenv("AUTH_SERVICE_KEY")

	cfg := &Config{
		Port:                port,
		DatabaseURL:         dbURL,
		StripeSecretKey:     stripeSecretKey,
		StripeWebhookSecret: stripeWebhookSecret,
		AuthURL:             authURL,
		AuthAnonKey:         authAnonKey,
		AuthServiceKey:      authServiceKey,
		SentryDSN:           os.Getenv("SENTRY_DSN"),
	}

	if cfg.UsesRemoteProfileStore() && authServiceKey == "" {
		return nil, errors.New("AUTH_SERVICE_KEY environment variable is required when DATABASE_URL is a remote store")
	}

	return cfg, nil
}

// UsesRemoteProfileStore reports whether DATABASE_URL points at the
// hosted REST profile store rather than a local SQLite file.
func (c *Config) UsesRemoteProfileStore() bool {
	return strings.HasPrefix(c.DatabaseURL, "http://") || strings.HasPrefix(c.DatabaseURL, "https://")
}
