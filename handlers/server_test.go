package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vidafit.app/cloud/storage"
)

func TestNewHttpServer(t *testing.T) {
	db := storage.NewMemoryStorage()
	server := NewHttpServer(testConfig(), db, &fakeVerifier{}, &fakeBilling{})

	if server == nil {
		t.Fatalf("Expected server to be created, got nil")
	}
	if server.Router == nil {
		t.Errorf("Expected router to be initialized")
	}
	if server.Storage == nil {
		t.Errorf("Expected storage to be initialized")
	}
	if server.Auth == nil || server.Billing == nil {
		t.Errorf("Expected auth and billing clients to be initialized")
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	server := NewHttpServer(testConfig(), storage.NewMemoryStorage(), &fakeVerifier{}, &fakeBilling{})
	server.Version = "1.2.3"

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}

	if response.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", response.Status)
	}
	if response.Version != "1.2.3" {
		t.Errorf("Expected version '1.2.3', got '%s'", response.Version)
	}
	if response.Timestamp.IsZero() {
		t.Error("Expected a timestamp")
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	server := NewHttpServer(testConfig(), storage.NewMemoryStorage(), &fakeVerifier{}, &fakeBilling{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/subscriptions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")

	w := httptest.NewRecorder()
	server.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected preflight status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected Access-Control-Allow-Origin '*', got '%s'", got)
	}
}

func TestServer_SubscribeRouteRateLimited(t *testing.T) {
	server := NewHttpServer(testConfig(), storage.NewMemoryStorage(), &fakeVerifier{}, &fakeBilling{})

	// Unauthenticated requests still consume the window; the 31st from
	// the same address must be rejected.
	var lastCode int
	for i := 0; i < 31; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions", nil)
		req.RemoteAddr = "10.1.2.3:4444"

		w := httptest.NewRecorder()
		server.Router.ServeHTTP(w, req)
		lastCode = w.Code

		if i < 30 && w.Code != http.StatusUnauthorized {
			t.Fatalf("Request %d: expected 401 before the limit, got %d", i+1, w.Code)
		}
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 over the limit, got %d", lastCode)
	}
}

func TestServer_WebhookRouteMounted(t *testing.T) {
	db := storage.NewMemoryStorage()
	server := NewHttpServer(testConfig(), db, &fakeVerifier{}, &fakeBilling{})

	payload := subscriptionEventPayload("customer.subscription.updated", "cus_none", "active", 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBuffer(payload))
	req.Header.Set("Stripe-Signature", "test-signature")

	t.Setenv("TEST_MODE", "true")

	w := httptest.NewRecorder()
	server.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 through the router, got %d", w.Code)
	}
	if got := w.Body.String(); got != "User not found" {
		t.Errorf("Expected body 'User not found', got %q", got)
	}
}
