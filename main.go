package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"vidafit.app/cloud/handlers"
	"vidafit.app/cloud/internal/auth"
	"vidafit.app/cloud/internal/billing"
	"vidafit.app/cloud/internal/config"
	"vidafit.app/cloud/internal/logger"
	"vidafit.app/cloud/storage"
)

var version = "dev"

func main() {
	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		version = strings.TrimSpace(string(versionBytes))
	}

	godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %s", err)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		TracesSampleRate: 1.0,
	}); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}

	db, err := newStorage(cfg)
	if err != nil {
		log.Fatalf("storage: %s", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close storage", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	verifier := auth.NewClient(cfg.AuthURL, cfg.AuthAnonKey)
	billingClient := billing.NewStripeClient(cfg.StripeSecretKey)

	server := handlers.NewHttpServer(cfg, db, verifier, billingClient)
	server.Version = version

	logger.Info("VidaFit Cloud API starting", map[string]interface{}{
		"version": version,
		"port":    cfg.Port,
	})

	log.Fatal(http.ListenAndServe(":"+cfg.Port, server.Router))
}

func newStorage(cfg *config.Config) (storage.Storage, error) {
	if cfg.UsesRemoteProfileStore() {
		return storage.NewPostgrestStorage(cfg.DatabaseURL, cfg.AuthServiceKey), nil
	}
	return storage.NewSQLiteStorage(cfg.DatabaseURL)
}
