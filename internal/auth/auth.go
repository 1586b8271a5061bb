package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidafit.app/cloud/internal/logger"
)

// ErrUnauthorized means the auth service rejected the token.
var ErrUnauthorized = errors.New("user not authorized")

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verifier exchanges a caller's Authorization header for a verified
// identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*User, error)
}

// Client verifies tokens against the auth service's user endpoint using
// the public (anon) API key plus the caller's own token.
type Client struct {
	baseURL string
	anonKey string
	client  *http.Client
}

func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Verify(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		logger.Debug("Auth service rejected token", map[string]interface{}{
			"status": resp.StatusCode,
		})
		return nil, ErrUnauthorized
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth service returned %d", resp.StatusCode)
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}

	if user.ID == "" {
		return nil, ErrUnauthorized
	}

	return &user, nil
}
