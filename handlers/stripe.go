package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"vidafit.app/cloud/internal/logger"
	"vidafit.app/cloud/models"
)

// subscriptionEvent is the slice of a subscription lifecycle payload
// this handler reconciles from. Depending on the provider API version
// the billing period end lives on the subscription or on its items.
type subscriptionEvent struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (e *subscriptionEvent) periodEnd() int64 {
	if e.CurrentPeriodEnd > 0 {
		return e.CurrentPeriodEnd
	}
	if len(e.Items.Data) > 0 {
		return e.Items.Data[0].CurrentPeriodEnd
	}
	return 0
}

// Stripe receives signed webhook events and overwrites the matching
// profile's premium state. Anything but a bad signature or a storage
// failure is acknowledged with 200 so Stripe does not retry-storm us.
func (s *Server) Stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger.Info("Stripe webhook received", map[string]interface{}{
		"remote_addr": r.RemoteAddr,
		"method":      r.Method,
	})

	const MaxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event := stripe.Event{}
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Error("Failed to parse webhook JSON", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Skip signature verification in test mode
	if os.Getenv("TEST_MODE") == "true" {
		logger.Debug("Skipping webhook signature verification (test mode)")
	} else {
		signatureHeader := r.Header.Get("Stripe-Signature")
		event, err = webhook.ConstructEvent(payload, signatureHeader, s.Config.StripeWebhookSecret)
		if err != nil {
			logger.Error("Webhook signature verification failed", map[string]interface{}{
				"error": err.Error(),
			})
			writeTextResponse(w, http.StatusBadRequest, "Invalid signature")
			return
		}
	}

	logger.Info("Stripe event verified", map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
	})

	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":

		var subscription subscriptionEvent
		if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
			logger.Error("Failed to unmarshal subscription", map[string]interface{}{
				"error":    err.Error(),
				"event_id": event.ID,
			})
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		found, err := s.reconcileSubscription(ctx, &subscription)
		if err != nil {
			logger.Error("Failed to reconcile subscription", map[string]interface{}{
				"error":              err.Error(),
				"event_id":           event.ID,
				"stripe_customer_id": subscription.Customer,
			})
			// A non-200 tells Stripe to redeliver.
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		s.webhooksProcessed.Inc()

		if !found {
			writeTextResponse(w, http.StatusOK, "User not found")
			return
		}
	default:
		// Only subscription lifecycle events carry the payload shape we
		// decode; everything else is acknowledged untouched.
		logger.Info("Unhandled webhook event type", map[string]interface{}{
			"event_type": event.Type,
			"event_id":   event.ID,
		})
	}

	writeTextResponse(w, http.StatusOK, "ok")
}

// reconcileSubscription overwrites the profile's status, premium flag
// and premium-until from the event. The overwrite is unconditional, so
// replaying an event is idempotent. It reports whether a profile
// matched the event's customer.
func (s *Server) reconcileSubscription(ctx context.Context, subscription *subscriptionEvent) (bool, error) {
	profile, err := s.Storage.FindProfileByStripeCustomerID(ctx, subscription.Customer)
	if err != nil {
		return false, err
	}

	if profile == nil {
		logger.Warn("No profile for stripe customer", map[string]interface{}{
			"stripe_customer_id": subscription.Customer,
		})
		return false, nil
	}

	isPremium := models.IsPremiumStatus(subscription.Status)

	var premiumUntil *time.Time
	if end := subscription.periodEnd(); end > 0 {
		until := time.Unix(end, 0)
		premiumUntil = &until
	}

	if err := s.Storage.UpdatePremiumStatus(ctx, profile.ID, subscription.Status, isPremium, premiumUntil); err != nil {
		return true, err
	}

	logger.Info("Premium status reconciled", map[string]interface{}{
		"user_id":            profile.ID,
		"stripe_customer_id": subscription.Customer,
		"status":             subscription.Status,
		"is_premium":         isPremium,
	})

	return true, nil
}

func writeTextResponse(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		logger.Error("Failed to write webhook response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
