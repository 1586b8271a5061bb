package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"vidafit.app/cloud/internal/logger"
)

// Subscription is the slice of provider state this service keeps:
// identifiers and the status the webhook later reconciles against.
type Subscription struct {
	ID               string
	Status           string
	CurrentPeriodEnd int64
}

// Client is the billing provider handle. It is constructed once with
// the secret key and injected, so tests can substitute a fake.
type Client interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int64) (*Subscription, error)
}

type StripeClient struct {
	api *client.API
}

func NewStripeClient(secretKey string) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{api: api}
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	customer, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}

	logger.Info("Stripe customer created", map[string]interface{}{
		"stripe_customer_id": customer.ID,
		"user_id":            userID,
	})

	return customer.ID, nil
}

func (c *StripeClient) CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int64) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		TrialPeriodDays: stripe.Int64(trialDays),
	}
	params.Context = ctx

	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe subscription: %w", err)
	}

	// Since the 2025 API versions the billing period lives on the items.
	var periodEnd int64
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		periodEnd = sub.Items.Data[0].CurrentPeriodEnd
	}

	logger.Info("Stripe subscription created", map[string]interface{}{
		"stripe_subscription_id": sub.ID,
		"stripe_customer_id":     customerID,
		"status":                 string(sub.Status),
	})

	return &Subscription{
		ID:               sub.ID,
		Status:           string(sub.Status),
		CurrentPeriodEnd: periodEnd,
	}, nil
}
