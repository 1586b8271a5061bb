package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFixedWindowLimiter_Allow_BasicFunctionality(t *testing.T) {
	limiter := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("192.168.1.1") {
			t.Errorf("Request %d should be allowed, but was denied", i+1)
		}
	}

	if limiter.Allow("192.168.1.1") {
		t.Error("4th request should be denied, but was allowed")
	}
}

func TestFixedWindowLimiter_Allow_DifferentAddresses(t *testing.T) {
	limiter := New(1, time.Minute)

	if !limiter.Allow("192.168.1.1") {
		t.Error("First request for first address should be allowed")
	}
	if limiter.Allow("192.168.1.1") {
		t.Error("Second request for first address should be denied")
	}

	// A different address has its own window
	if !limiter.Allow("192.168.1.2") {
		t.Error("First request for second address should be allowed")
	}
}

func TestFixedWindowLimiter_Allow_WindowReset(t *testing.T) {
	limiter := New(1, 50*time.Millisecond)

	if !limiter.Allow("192.168.1.1") {
		t.Error("First request should be allowed")
	}
	if limiter.Allow("192.168.1.1") {
		t.Error("Second request should be denied")
	}

	time.Sleep(60 * time.Millisecond)

	if !limiter.Allow("192.168.1.1") {
		t.Error("Request after window expiry should be allowed")
	}
}

func TestFixedWindowLimiter_Allow_ZeroLimit(t *testing.T) {
	limiter := New(0, time.Minute)

	if limiter.Allow("192.168.1.1") {
		t.Error("Zero limit should deny all requests")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := New(2, time.Minute)
	handler := Middleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Port must be stripped before keying, so a reconnecting client
	// does not get a fresh window.
	for i, port := range []string{"1111", "2222"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions", nil)
		req.RemoteAddr = "10.0.0.1:" + port

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d should pass, got status %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions", nil)
	req.RemoteAddr = "10.0.0.1:3333"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status %d over the limit, got %d", http.StatusTooManyRequests, w.Code)
	}
}
