package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"vidafit.app/cloud/handlers"
	"vidafit.app/cloud/internal/auth"
	"vidafit.app/cloud/internal/billing"
	"vidafit.app/cloud/internal/config"
	"vidafit.app/cloud/models"
	"vidafit.app/cloud/storage"
)

// TestStorage creates an empty memory storage
func TestStorage() *storage.MemoryStorage {
	return storage.NewMemoryStorage()
}

// TestConfig creates a config suitable for handler tests
func TestConfig() *config.Config {
	return &config.Config{
		Port:                "8080",
		DatabaseURL:         ":memory:",
		StripeSecretKey:     "sk_test_123",
		StripeWebhookSecret: "whsec_test",
		AuthURL:             "http://auth.test",
		AuthAnonKey:         "anon_test",
	}
}

// CreateTestProfile creates a test profile with given parameters
func CreateTestProfile(id, email string) models.Profile {
	return models.Profile{
		ID:        id,
		Email:     email,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// NewProfileID returns a random profile id
func NewProfileID() string {
	return uuid.Must(uuid.NewRandom()).String()
}

// FakeVerifier is an auth.Verifier returning canned results
type FakeVerifier struct {
	User *auth.User
	Err  error

	Calls int
}

func (f *FakeVerifier) Verify(ctx context.Context, token string) (*auth.User, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.User, nil
}

// FakeBilling is a billing.Client that records calls
type FakeBilling struct {
	CustomerID            string
	CreateCustomerErr     error
	Subscription          *billing.Subscription
	CreateSubscriptionErr error

	CustomerCreates     int
	SubscriptionCreates int
	LastCustomerID      string
	LastPriceID         string
	LastTrialDays       int64

	// OnCreateSubscription runs before the canned subscription is
	// returned, so tests can inspect state mid-flow.
	OnCreateSubscription func(customerID string)
}

func (f *FakeBilling) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	f.CustomerCreates++
	if f.CreateCustomerErr != nil {
		return "", f.CreateCustomerErr
	}
	return f.CustomerID, nil
}

func (f *FakeBilling) CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int64) (*billing.Subscription, error) {
	f.SubscriptionCreates++
	f.LastCustomerID = customerID
	f.LastPriceID = priceID
	f.LastTrialDays = trialDays

	if f.OnCreateSubscription != nil {
		f.OnCreateSubscription(customerID)
	}

	if f.CreateSubscriptionErr != nil {
		return nil, f.CreateSubscriptionErr
	}
	return f.Subscription, nil
}

// TrialingSubscription returns the canned happy-path provider response
func TrialingSubscription() *billing.Subscription {
	return &billing.Subscription{
		ID:               "sub_test123",
		Status:           models.StatusTrialing,
		CurrentPeriodEnd: time.Now().Add(7 * 24 * time.Hour).Unix(),
	}
}

// MakeSubscribeRequest creates and sends a subscription-start request
func MakeSubscribeRequest(t *testing.T, server *handlers.Server, token, plan string) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(handlers.SubscribeRequest{Plan: plan})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	w := httptest.NewRecorder()
	server.StartSubscription(w, req)

	return w
}

// SubscriptionEventPayload builds a Stripe subscription lifecycle event
func SubscriptionEventPayload(eventType, customerID, status string, periodEnd int64) []byte {
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

// MakeWebhookRequest creates and sends a Stripe webhook request with
// signature verification disabled
func MakeWebhookRequest(t *testing.T, server *handlers.Server, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", "test-signature")

	w := httptest.NewRecorder()

	t.Setenv("TEST_MODE", "true")

	server.Stripe(w, req)
	return w
}

// AssertErrorResponse checks a JSON error body and status
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()

	if w.Code != expectedStatus {
		t.Errorf("Expected status %d, got %d", expectedStatus, w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if response["error"] != expectedError {
		t.Errorf("Expected error '%s', got '%s'", expectedError, response["error"])
	}
}
