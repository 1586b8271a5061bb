package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/atomic"

	"vidafit.app/cloud/internal/auth"
	"vidafit.app/cloud/internal/billing"
	"vidafit.app/cloud/internal/config"
	"vidafit.app/cloud/internal/logger"
	"vidafit.app/cloud/internal/ratelimit"
	"vidafit.app/cloud/storage"
)

type Server struct {
	Router  chi.Router
	Storage storage.Storage
	Auth    auth.Verifier
	Billing billing.Client
	Config  *config.Config
	Version string

	subscriptionsStarted atomic.Int64
	webhooksProcessed    atomic.Int64
}

type HealthResponse struct {
	Status               string    `json:"status"`
	Version              string    `json:"version"`
	Timestamp            time.Time `json:"timestamp"`
	SubscriptionsStarted int64     `json:"subscriptionsStarted"`
	WebhooksProcessed    int64     `json:"webhooksProcessed"`
}

func NewHttpServer(cfg *config.Config, db storage.Storage, verifier auth.Verifier, billingClient billing.Client) *Server {
	s := &Server{
		Storage: db,
		Auth:    verifier,
		Billing: billingClient,
		Config:  cfg,
		Version: "dev",
	}

	r := chi.NewRouter()

	// The subscribe endpoint is called from the browser, so CORS stays
	// open. The webhook is server-to-server and unaffected.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type"},
	}))

	r.Get("/health", s.Health)
	r.With(ratelimit.Middleware(ratelimit.New(30, 10*time.Minute))).
		Post("/api/v1/subscriptions", s.StartSubscription)
	r.Post("/api/v1/webhooks/stripe", s.Stripe)

	s.Router = r
	return s
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:               "healthy",
		Version:              s.Version,
		Timestamp:            time.Now(),
		SubscriptionsStarted: s.subscriptionsStarted.Load(),
		WebhooksProcessed:    s.webhooksProcessed.Load(),
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func writeJSONResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, map[string]string{"error": message})
}
