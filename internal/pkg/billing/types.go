package billing

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// CheckoutRequest asks a gateway to start a provider-hosted checkout flow for
// one plan/cycle pair.
type CheckoutRequest struct {
	Plan         string            `json:"plan" validate:"required,oneof=pro team enterprise"`
	BillingCycle string            `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	UserID       uint              `json:"user_id" validate:"required"`
	UserEmail    string            `json:"user_email" validate:"required,email"`
	UserName     string            `json:"user_name"`
	SuccessURL   string            `json:"success_url" validate:"required,url"`
	CancelURL    string            `json:"cancel_url" validate:"required,url"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Locale       string            `json:"locale,omitempty"`
}

func (r *CheckoutRequest) Validate() error {
	v := validator.New()

	return v.Struct(r)
}

// CheckoutSession is the provider-hosted checkout handle returned to callers.
type CheckoutSession struct {
	URL          string `json:"url"`
	SessionID    string `json:"session_id"`
	Gateway      string `json:"gateway"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Canonical webhook outcomes shared by all gateways. Unrecognized provider
// event types keep their raw type in WebhookResult.Event and are acknowledged
// without side effects.
const (
	EventCheckoutCompleted    = "checkout-completed"
	EventSubscriptionCreated  = "subscription-created"
	EventSubscriptionUpdated  = "subscription-updated"
	EventSubscriptionCanceled = "subscription-canceled"
	EventPaymentSucceeded     = "payment-succeeded"
	EventPaymentFailed        = "payment-failed"
	EventPaymentRefunded      = "payment-refunded"
	EventError                = "error"
)

// WebhookResult is the ephemeral, normalized outcome of one provider event.
// It is consumed immediately by the webhook processor and never persisted.
type WebhookResult struct {
	Event      string `json:"event"`
	Success    bool   `json:"success"`
	Recognized bool   `json:"-"`

	// Ledger identity. EventID may be empty for gateways without stable
	// event ids; the processor derives one deterministically.
	EventID   string `json:"-"`
	EventType string `json:"-"`

	// Subscription-affecting fields.
	Status             string     `json:"status,omitempty"`
	SubscriptionID     string     `json:"subscription_id,omitempty"`
	UserEmail          string     `json:"user_email,omitempty"`
	UserName           string     `json:"-"`
	Plan               string     `json:"plan,omitempty"`
	BillingCycle       string     `json:"billing_cycle,omitempty"`
	CurrentPeriodStart *time.Time `json:"-"`
	CurrentPeriodEnd   *time.Time `json:"-"`
	CancelAtPeriodEnd  bool       `json:"-"`

	// Payment details for notifications and audit.
	Amount    int64  `json:"amount,omitempty"`
	Currency  string `json:"currency,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`

	Error string `json:"error,omitempty"`
}

// SubscriptionAffecting reports whether applying this result mutates
// subscription state.
func (r *WebhookResult) SubscriptionAffecting() bool {
	if !r.Success || !r.Recognized {
		return false
	}
	switch r.Event {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionCanceled, EventPaymentSucceeded, EventPaymentFailed, EventPaymentRefunded:
		return true
	default:
		return false
	}
}
