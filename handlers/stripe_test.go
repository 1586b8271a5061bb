package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vidafit.app/cloud/models"
	"vidafit.app/cloud/storage"
)

func subscriptionEventPayload(eventType, customerID, status string, periodEnd int64) []byte {
	object := map[string]interface{}{
		"id":       "sub_test123",
		"object":   "subscription",
		"customer": customerID,
		"status":   status,
	}
	if periodEnd > 0 {
		object["current_period_end"] = periodEnd
	}

	event := map[string]interface{}{
		"id":   "evt_test123",
		"type": eventType,
		"data": map[string]interface{}{
			"object": object,
		},
	}

	payload, _ := json.Marshal(event)
	return payload
}

func makeWebhookRequest(t *testing.T, server *Server, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", "test-signature")

	w := httptest.NewRecorder()
	t.Setenv("TEST_MODE", "true")
	server.Stripe(w, req)
	return w
}

func newWebhookServer(t *testing.T, db storage.Storage) *Server {
	t.Helper()
	return NewHttpServer(testConfig(), db, &fakeVerifier{}, &fakeBilling{})
}

func seedProfileWithCustomer(t *testing.T, db storage.Storage, userID, customerID string) {
	t.Helper()
	profile := models.Profile{
		ID:               userID,
		Email:            userID + "@example.com",
		StripeCustomerID: customerID,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if err := db.SaveProfile(context.Background(), &profile); err != nil {
		t.Fatalf("Failed to seed profile: %v", err)
	}
}

// probeStorage records whether the webhook handler touched storage.
type probeStorage struct {
	*storage.MemoryStorage
	reads  int
	writes int
}

func (p *probeStorage) FindProfileByStripeCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	p.reads++
	return p.MemoryStorage.FindProfileByStripeCustomerID(ctx, customerID)
}

func (p *probeStorage) UpdatePremiumStatus(ctx context.Context, profileID, status string, isPremium bool, premiumUntil *time.Time) error {
	p.writes++
	return p.MemoryStorage.UpdatePremiumStatus(ctx, profileID, status, isPremium, premiumUntil)
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	db := &probeStorage{MemoryStorage: storage.NewMemoryStorage()}
	seedProfileWithCustomer(t, db, "user-1", "cus_123")
	server := newWebhookServer(t, db)

	payload := subscriptionEventPayload("customer.subscription.updated", "cus_123", models.StatusActive, 1700000000)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBuffer(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=garbage")

	w := httptest.NewRecorder()
	t.Setenv("TEST_MODE", "false")
	server.Stripe(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if got := w.Body.String(); got != "Invalid signature" {
		t.Errorf("Expected body 'Invalid signature', got %q", got)
	}

	if db.reads != 0 || db.writes != 0 {
		t.Errorf("Storage must not be touched on a bad signature, got %d reads %d writes", db.reads, db.writes)
	}
}

func TestStripeWebhook_UnknownCustomer(t *testing.T) {
	db := &probeStorage{MemoryStorage: storage.NewMemoryStorage()}
	server := newWebhookServer(t, db)

	payload := subscriptionEventPayload("customer.subscription.updated", "cus_unknown", models.StatusActive, 1700000000)
	w := makeWebhookRequest(t, server, payload)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for unknown customer, got %d", w.Code)
	}
	if got := w.Body.String(); got != "User not found" {
		t.Errorf("Expected body 'User not found', got %q", got)
	}
	if db.writes != 0 {
		t.Errorf("Expected no writes for unknown customer, got %d", db.writes)
	}
}

func TestStripeWebhook_ActiveStatus(t *testing.T) {
	db := storage.NewMemoryStorage()
	seedProfileWithCustomer(t, db, "user-1", "cus_123")
	server := newWebhookServer(t, db)

	payload := subscriptionEventPayload("customer.subscription.updated", "cus_123", models.StatusActive, 1700000000)
	w := makeWebhookRequest(t, server, payload)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "ok" {
		t.Errorf("Expected body 'ok', got %q", got)
	}

	profile, _ := db.GetProfile(context.Background(), "user-1")
	if !profile.IsPremium {
		t.Error("Expected is_premium=true for active status")
	}
	if profile.StripeSubscriptionStatus != models.StatusActive {
		t.Errorf("Expected status 'active', got '%s'", profile.StripeSubscriptionStatus)
	}
	if profile.PremiumUntil == nil {
		t.Fatal("Expected premium_until to be set")
	}
	if !profile.PremiumUntil.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Expected premium_until %v, got %v", time.Unix(1700000000, 0), profile.PremiumUntil)
	}
}

func TestStripeWebhook_TrialingStatus(t *testing.T) {
	db := storage.NewMemoryStorage()
	seedProfileWithCustomer(t, db, "user-1", "cus_123")
	server := newWebhookServer(t, db)

	payload := subscriptionEventPayload("customer.subscription.created", "cus_123", models.StatusTrialing, 1700604800)
	w := makeWebhookRequest(t, server, payload)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	profile, _ := db.GetProfile(context.Background(), "user-1")
	if !profile.IsPremium {
		t.Error("Expected is_premium=true for trialing status")
	}
}

func TestStripeWebhook_CanceledStatus(t *testing.T) {
	tests := []struct {
		name      string
		periodEnd int64
		wantUntil bool
	}{
		{"with period end", 1700000000, true},
		{"without period end", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := storage.NewMemoryStorage()
			seedProfileWithCustomer(t, db, "user-1", "cus_123")

			// Start from a premium state so the overwrite is visible.
			until := time.Unix(1690000000, 0)
			if err := db.UpdatePremiumStatus(context.Background(), "user-1", models.StatusActive, true, &until); err != nil {
				t.Fatalf("Failed to seed premium state: %v", err)
			}

			server := newWebhookServer(t, db)

			payload := subscriptionEventPayload("customer.subscription.deleted", "cus_123", models.StatusCanceled, tt.periodEnd)
			w := makeWebhookRequest(t, server, payload)

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}

			profile, _ := db.GetProfile(context.Background(), "user-1")
			if profile.IsPremium {
				t.Error("Expected is_premium=false for canceled status")
			}
			if profile.StripeSubscriptionStatus != models.StatusCanceled {
				t.Errorf("Expected status 'canceled', got '%s'", profile.StripeSubscriptionStatus)
			}

			if tt.wantUntil {
				if profile.PremiumUntil == nil || !profile.PremiumUntil.Equal(time.Unix(tt.periodEnd, 0)) {
					t.Errorf("Expected premium_until from period end, got %v", profile.PremiumUntil)
				}
			} else if profile.PremiumUntil != nil {
				t.Errorf("Expected premium_until cleared, got %v", profile.PremiumUntil)
			}
		})
	}
}

func TestStripeWebhook_ReplayIsIdempotent(t *testing.T) {
	db := storage.NewMemoryStorage()
	seedProfileWithCustomer(t, db, "user-1", "cus_123")
	server := newWebhookServer(t, db)

	payload := subscriptionEventPayload("customer.subscription.updated", "cus_123", models.StatusActive, 1700000000)

	first := makeWebhookRequest(t, server, payload)
	if first.Code != http.StatusOK {
		t.Fatalf("First delivery failed with status %d", first.Code)
	}
	afterFirst, _ := db.GetProfile(context.Background(), "user-1")

	second := makeWebhookRequest(t, server, payload)
	if second.Code != http.StatusOK {
		t.Fatalf("Replay failed with status %d", second.Code)
	}
	afterSecond, _ := db.GetProfile(context.Background(), "user-1")

	if afterFirst.IsPremium != afterSecond.IsPremium ||
		afterFirst.StripeSubscriptionStatus != afterSecond.StripeSubscriptionStatus ||
		!afterFirst.PremiumUntil.Equal(*afterSecond.PremiumUntil) {
		t.Errorf("Replay changed final state: %+v vs %+v", afterFirst, afterSecond)
	}
}

func TestStripeWebhook_UnhandledEventType(t *testing.T) {
	db := &probeStorage{MemoryStorage: storage.NewMemoryStorage()}
	seedProfileWithCustomer(t, db, "user-1", "cus_123")
	server := newWebhookServer(t, db)

	// An invoice payload would decode nonsensically as a subscription;
	// the type dispatch must skip it entirely.
	event := map[string]interface{}{
		"id":   "evt_test456",
		"type": "invoice.payment_succeeded",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":       "in_test123",
				"object":   "invoice",
				"customer": "cus_123",
				"status":   "paid",
			},
		},
	}
	payload, _ := json.Marshal(event)

	w := makeWebhookRequest(t, server, payload)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for unhandled event type, got %d", w.Code)
	}
	if got := w.Body.String(); got != "ok" {
		t.Errorf("Expected body 'ok', got %q", got)
	}
	if db.reads != 0 || db.writes != 0 {
		t.Errorf("Unhandled events must not touch storage, got %d reads %d writes", db.reads, db.writes)
	}
}

func TestStripeWebhook_InvalidJSON(t *testing.T) {
	server := newWebhookServer(t, storage.NewMemoryStorage())

	w := makeWebhookRequest(t, server, []byte("invalid json"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// failingStorage fails the premium update, as a database outage would.
type failingStorage struct {
	*storage.MemoryStorage
}

func (f *failingStorage) UpdatePremiumStatus(ctx context.Context, profileID, status string, isPremium bool, premiumUntil *time.Time) error {
	return errors.New("database write failed")
}

func TestStripeWebhook_StorageFailureTriggersRetry(t *testing.T) {
	db := &failingStorage{MemoryStorage: storage.NewMemoryStorage()}
	seedProfileWithCustomer(t, db, "user-1", "cus_123")
	server := newWebhookServer(t, db)

	payload := subscriptionEventPayload("customer.subscription.updated", "cus_123", models.StatusActive, 1700000000)
	w := makeWebhookRequest(t, server, payload)

	// A non-200 asks Stripe to redeliver.
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 on storage failure, got %d", w.Code)
	}
}
