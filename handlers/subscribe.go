package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"vidafit.app/cloud/internal/email"
	"vidafit.app/cloud/internal/logger"
	"vidafit.app/cloud/models"
)

const trialPeriodDays = 7

// Plan selector to Stripe price id. Exactly two plans exist.
var planPrices = map[string]string{
	"monthly": "price_1SrMmx1Zzf1hLpXtogDtqUpG",
	"annual":  "price_1SrMnN1Zzf1hLpXt5CvFvHVQ",
}

type SubscribeRequest struct {
	Plan string `json:"plan"`
}

type SubscribeResponse struct {
	Success            bool   `json:"success"`
	SubscriptionStatus string `json:"subscriptionStatus"`
}

// StartSubscription authenticates the caller, resolves or creates their
// Stripe customer and starts a trial subscription for the chosen plan.
// Premium flags are NOT set here; the webhook sets them once Stripe
// reports the subscription status.
func (s *Server) StartSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.Header.Get("Authorization")
	if token == "" {
		writeErrorResponse(w, http.StatusUnauthorized, "Token no enviado")
		return
	}

	user, err := s.Auth.Verify(ctx, token)
	if err != nil || user == nil {
		if err != nil {
			logger.Debug("Token verification failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		writeErrorResponse(w, http.StatusUnauthorized, "Usuario no autorizado")
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Plan inválido")
		return
	}

	priceID, ok := planPrices[req.Plan]
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, "Plan inválido")
		return
	}

	logger.Info("Starting subscription", map[string]interface{}{
		"user_id": user.ID,
		"plan":    req.Plan,
	})

	profile, err := s.Storage.GetProfile(ctx, user.ID)
	if err != nil {
		s.internalError(w, "Failed to load profile", err)
		return
	}

	if profile == nil {
		now := time.Now()
		profile = &models.Profile{
			ID:        user.ID,
			Email:     user.Email,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Storage.SaveProfile(ctx, profile); err != nil {
			s.internalError(w, "Failed to create profile", err)
			return
		}
	}

	customerID, err := s.resolveStripeCustomer(ctx, profile, user.ID, user.Email)
	if err != nil {
		s.internalError(w, "Failed to resolve stripe customer", err)
		return
	}

	subscription, err := s.Billing.CreateSubscription(ctx, customerID, priceID, trialPeriodDays)
	if err != nil {
		s.internalError(w, "Failed to create subscription", err)
		return
	}

	if err := s.Storage.SetSubscriptionID(ctx, user.ID, subscription.ID); err != nil {
		s.internalError(w, "Failed to persist subscription id", err)
		return
	}

	s.subscriptionsStarted.Inc()

	logger.Info("Subscription started", map[string]interface{}{
		"user_id":                user.ID,
		"stripe_subscription_id": subscription.ID,
		"status":                 subscription.Status,
	})

	writeJSONResponse(w, http.StatusOK, SubscribeResponse{
		Success:            true,
		SubscriptionStatus: subscription.Status,
	})

	s.sendTrialStartedEmail(user.Email, req.Plan)
}

// resolveStripeCustomer returns the profile's Stripe customer id,
// creating one when none is on file. The persist is conditional, so a
// concurrent request cannot leave two customer ids behind; the loser
// re-reads and uses whatever the winner stored.
func (s *Server) resolveStripeCustomer(ctx context.Context, profile *models.Profile, userID, userEmail string) (string, error) {
	if profile.StripeCustomerID != "" {
		return profile.StripeCustomerID, nil
	}

	created, err := s.Billing.CreateCustomer(ctx, userEmail, userID)
	if err != nil {
		return "", err
	}

	won, err := s.Storage.SetStripeCustomerID(ctx, userID, created)
	if err != nil {
		return "", err
	}
	if won {
		return created, nil
	}

	logger.Warn("Lost stripe customer race, using stored id", map[string]interface{}{
		"user_id":   userID,
		"discarded": created,
	})

	current, err := s.Storage.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if current == nil || current.StripeCustomerID == "" {
		return "", fmt.Errorf("profile %s has no stripe customer after conditional write", userID)
	}

	return current.StripeCustomerID, nil
}

func (s *Server) sendTrialStartedEmail(to, plan string) {
	if !email.Configured() {
		return
	}

	body := fmt.Sprintf(`Hola,

Tu prueba gratuita de VidaFit Premium (plan %s) ha comenzado.

Durante los próximos %d días tienes acceso completo. No se realizará
ningún cargo hasta que termine la prueba.

El equipo de VidaFit`, plan, trialPeriodDays)

	if err := email.Send(to, "Tu prueba de VidaFit Premium ha comenzado", body); err != nil {
		// Best effort only, the subscription already exists.
		logger.Warn("Failed to send trial email", map[string]interface{}{
			"error": err.Error(),
			"email": to,
		})
	}
}

func (s *Server) internalError(w http.ResponseWriter, message string, err error) {
	logger.Error(message, map[string]interface{}{
		"error": err.Error(),
	})
	writeErrorResponse(w, http.StatusInternalServerError, err.Error())
}
