package models

import "time"

// Subscription statuses as reported by Stripe.
const (
	StatusTrialing   = "trialing"
	StatusActive     = "active"
	StatusCanceled   = "canceled"
	StatusPastDue    = "past_due"
	StatusUnpaid     = "unpaid"
	StatusIncomplete = "incomplete"
)

type Profile struct {
	ID                       string
	Email                    string
	StripeCustomerID         string
	StripeSubscriptionID     string
	StripeSubscriptionStatus string
	IsPremium                bool
	PremiumUntil             *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// IsPremiumStatus reports whether a subscription status grants premium
// access. is_premium must always be this function of the latest status.
func IsPremiumStatus(status string) bool {
	return status == StatusTrialing || status == StatusActive
}
