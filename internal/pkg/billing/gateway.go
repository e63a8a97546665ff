package billing

import (
	"context"
	"sort"
	"strings"

	"github.com/draftdeck/draftdeck/app/models"
)

// Gateway is the polymorphic contract every payment provider integration
// fulfills. One concrete implementation exists per provider, each composed
// from a transport client, a signature verifier and a status mapper.
type Gateway interface {
	// Name returns the stable gateway identifier (models.Gateway*).
	Name() string

	// IsConfigured reports whether all required secrets/IDs are present.
	// Every other method fails fast with ErrNotConfigured when false.
	IsConfigured() bool

	// CreateCheckoutSession resolves (plan, billingCycle) to a provider
	// price via the price resolver, reuses an existing billing customer
	// matched by email and starts a provider-hosted checkout.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// HandleWebhook verifies the payload's authenticity and maps the
	// provider event onto a normalized WebhookResult. It performs no
	// storage writes; applying the result is the processor's job.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)

	// GetSubscription looks up by gateway-native id first, then falls back
	// to the most recent active subscription for a numeric user id. It
	// returns (nil, nil) on not-found and on lookup errors, logging the
	// latter.
	GetSubscription(ctx context.Context, idOrUserID string) (*models.Subscription, error)

	// CancelSubscription cancels now (immediate) or at period end. An
	// immediate cancel also downgrades the user's plan to free. Failures
	// are wrapped in a CancellationError; re-invoking is safe.
	CancelSubscription(ctx context.Context, id string, immediate bool) error

	// GetCustomer returns (nil, nil) when absent.
	GetCustomer(ctx context.Context, id string) (*models.BillingCustomer, error)

	// CreateCustomer never fails on "already exists"; gateways without a
	// provider-side customer object synthesize a local record.
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*models.BillingCustomer, error)
}

// SubscriptionPauser is an optional gateway capability. Callers type-assert
// before invoking.
type SubscriptionPauser interface {
	PauseSubscription(ctx context.Context, id string) error
	ResumeSubscription(ctx context.Context, id string) error
}

// SubscriptionUpdater switches an existing subscription to a new plan/cycle.
type SubscriptionUpdater interface {
	UpdateSubscription(ctx context.Context, id, newPlan, newBillingCycle string) error
}

// PortalURLProvider returns a provider-hosted self-service portal URL.
type PortalURLProvider interface {
	GetCustomerPortalURL(ctx context.Context, customerID string) (string, error)
}

// Registry maps gateway names to their implementations.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gws))}
	for _, gw := range gws {
		r.gateways[gw.Name()] = gw
	}
	return r
}

// Get resolves a gateway by name.
func (r *Registry) Get(name string) (Gateway, error) {
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return gw, nil
}

// Names lists registered gateways in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
