package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vidafit.app/cloud/models"
)

// PostgrestStorage talks to a hosted profile store over its REST API
// using the elevated service key. The key bypasses row-level security,
// so it must never be handed to request handlers acting on behalf of a
// user token.
type PostgrestStorage struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

func NewPostgrestStorage(baseURL, serviceKey string) *PostgrestStorage {
	return &PostgrestStorage{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type profileRow struct {
	ID                       string     `json:"id"`
	Email                    string     `json:"email"`
	StripeCustomerID         *string    `json:"stripe_customer_id"`
	StripeSubscriptionID     *string    `json:"stripe_subscription_id"`
	StripeSubscriptionStatus *string    `json:"stripe_subscription_status"`
	IsPremium                bool       `json:"is_premium"`
	PremiumUntil             *time.Time `json:"premium_until"`
	CreatedAt                *time.Time `json:"created_at,omitempty"`
	UpdatedAt                *time.Time `json:"updated_at,omitempty"`
}

func (row *profileRow) toProfile() *models.Profile {
	profile := &models.Profile{
		ID:           row.ID,
		Email:        row.Email,
		IsPremium:    row.IsPremium,
		PremiumUntil: row.PremiumUntil,
	}
	if row.StripeCustomerID != nil {
		profile.StripeCustomerID = *row.StripeCustomerID
	}
	if row.StripeSubscriptionID != nil {
		profile.StripeSubscriptionID = *row.StripeSubscriptionID
	}
	if row.StripeSubscriptionStatus != nil {
		profile.StripeSubscriptionStatus = *row.StripeSubscriptionStatus
	}
	if row.CreatedAt != nil {
		profile.CreatedAt = *row.CreatedAt
	}
	if row.UpdatedAt != nil {
		profile.UpdatedAt = *row.UpdatedAt
	}
	return profile
}

func (p *PostgrestStorage) do(ctx context.Context, method, path string, query url.Values, body any, prefer string) ([]profileRow, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", p.serviceKey)
	req.Header.Set("Authorization", "Bearer "+p.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile store request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile store response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("profile store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if len(respBody) == 0 {
		return nil, nil
	}

	var rows []profileRow
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse profile store response: %w", err)
	}

	return rows, nil
}

func (p *PostgrestStorage) findOne(ctx context.Context, filter url.Values) (*models.Profile, error) {
	filter.Set("select", "*")
	filter.Set("limit", "1")

	rows, err := p.do(ctx, http.MethodGet, "/rest/v1/profiles", filter, nil, "")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	return rows[0].toProfile(), nil
}

func (p *PostgrestStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	filter := url.Values{}
	filter.Set("id", "eq."+id)
	return p.findOne(ctx, filter)
}

func (p *PostgrestStorage) FindProfileByStripeCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	if customerID == "" {
		return nil, nil
	}

	filter := url.Values{}
	filter.Set("stripe_customer_id", "eq."+customerID)
	return p.findOne(ctx, filter)
}

func (p *PostgrestStorage) SaveProfile(ctx context.Context, profile *models.Profile) error {
	row := profileRow{
		ID:           profile.ID,
		Email:        profile.Email,
		IsPremium:    profile.IsPremium,
		PremiumUntil: profile.PremiumUntil,
	}
	if profile.StripeCustomerID != "" {
		row.StripeCustomerID = &profile.StripeCustomerID
	}
	if profile.StripeSubscriptionID != "" {
		row.StripeSubscriptionID = &profile.StripeSubscriptionID
	}
	if profile.StripeSubscriptionStatus != "" {
		row.StripeSubscriptionStatus = &profile.StripeSubscriptionStatus
	}

	query := url.Values{}
	query.Set("on_conflict", "id")

	_, err := p.do(ctx, http.MethodPost, "/rest/v1/profiles", query, []profileRow{row}, "resolution=merge-duplicates")
	return err
}

func (p *PostgrestStorage) SetStripeCustomerID(ctx context.Context, profileID, customerID string) (bool, error) {
	// The is.null filter makes this a conditional write: a concurrent
	// request that already stored an id leaves zero rows to update.
	query := url.Values{}
	query.Set("id", "eq."+profileID)
	query.Set("stripe_customer_id", "is.null")

	patch := map[string]any{"stripe_customer_id": customerID}

	rows, err := p.do(ctx, http.MethodPatch, "/rest/v1/profiles", query, patch, "return=representation")
	if err != nil {
		return false, err
	}

	return len(rows) > 0, nil
}

func (p *PostgrestStorage) SetSubscriptionID(ctx context.Context, profileID, subscriptionID string) error {
	query := url.Values{}
	query.Set("id", "eq."+profileID)

	patch := map[string]any{"stripe_subscription_id": subscriptionID}

	_, err := p.do(ctx, http.MethodPatch, "/rest/v1/profiles", query, patch, "")
	return err
}

func (p *PostgrestStorage) UpdatePremiumStatus(ctx context.Context, profileID, status string, isPremium bool, premiumUntil *time.Time) error {
	query := url.Values{}
	query.Set("id", "eq."+profileID)

	patch := map[string]any{
		"stripe_subscription_status": status,
		"is_premium":                 isPremium,
		"premium_until":              premiumUntil,
	}

	_, err := p.do(ctx, http.MethodPatch, "/rest/v1/profiles", query, patch, "")
	return err
}

func (p *PostgrestStorage) Close() error {
	return nil
}
