package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/draftdeck/draftdeck/app/models"
	"github.com/draftdeck/draftdeck/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v78"
	stripeclient "github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"gorm.io/gorm"
)

// StripeGateway composes the official SDK client, the SDK's timestamped
// HMAC-SHA256 webhook verification and the Stripe status mapper behind the
// Gateway contract.
type StripeGateway struct {
	sc            *stripeclient.API
	apiKey        string
	webhookSecret string
	repo          Repository
	prices        *PriceResolver
}

func NewStripeGateway(repo Repository, prices *PriceResolver) *StripeGateway {
	apiKey := strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	sc := &stripeclient.API{}
	sc.Init(apiKey, nil)

	return &StripeGateway{
		sc:            sc,
		apiKey:        apiKey,
		webhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		repo:          repo,
		prices:        prices,
	}
}

func (g *StripeGateway) Name() string { return models.GatewayStripe }

func (g *StripeGateway) IsConfigured() bool {
	return g.apiKey != "" && g.webhookSecret != ""
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	_ = ctx
	if !g.IsConfigured() {
		return nil, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}

	price, err := g.prices.Resolve(g.Name(), req.Plan, req.BillingCycle)
	if err != nil {
		return nil, err
	}
	if price.ProviderPriceRef == "" {
		return nil, fmt.Errorf("%w: stripe needs a price id for %s/%s", ErrPriceNotConfigured, req.Plan, req.BillingCycle)
	}

	customer, err := g.ensureCustomer(req.UserEmail, req.UserName, req.Metadata)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Customer:   stripe.String(customer.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(price.ProviderPriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"plan":          req.Plan,
				"billing_cycle": req.BillingCycle,
				"user_email":    req.UserEmail,
			},
		},
	}
	if req.Locale != "" {
		params.Locale = stripe.String(req.Locale)
	}
	params.AddMetadata("plan", req.Plan)
	params.AddMetadata("billing_cycle", req.BillingCycle)
	params.AddMetadata("user_email", req.UserEmail)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	session, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout creation failed: %w", err)
	}

	return &CheckoutSession{
		URL:          session.URL,
		SessionID:    session.ID,
		Gateway:      g.Name(),
		ClientSecret: session.ClientSecret,
	}, nil
}

func (g *StripeGateway) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	_ = ctx
	if !g.IsConfigured() {
		return nil, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: %w", ErrInvalidSignature)
	}

	result := &WebhookResult{
		Event:     string(event.Type),
		EventType: string(event.Type),
		EventID:   event.ID,
		Success:   true,
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("stripe: malformed checkout session payload: %w", err)
		}
		result.Recognized = true
		result.Event = EventCheckoutCompleted
		result.Status = models.SubscriptionStatusActive
		result.Plan = session.Metadata["plan"]
		result.BillingCycle = session.Metadata["billing_cycle"]
		result.Amount = session.AmountTotal
		result.Currency = string(session.Currency)
		if session.Subscription != nil {
			result.SubscriptionID = session.Subscription.ID
		}
		if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
			result.UserEmail = session.CustomerDetails.Email
			result.UserName = session.CustomerDetails.Name
		} else {
			result.UserEmail = session.CustomerEmail
		}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe: malformed subscription payload: %w", err)
		}
		result.Recognized = true
		result.SubscriptionID = sub.ID
		result.Plan = sub.Metadata["plan"]
		result.BillingCycle = sub.Metadata["billing_cycle"]
		result.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if sub.CurrentPeriodStart > 0 {
			t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
			result.CurrentPeriodStart = &t
		}
		if sub.CurrentPeriodEnd > 0 {
			t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			result.CurrentPeriodEnd = &t
		}
		if event.Type == "customer.subscription.deleted" {
			result.Event = EventSubscriptionCanceled
			result.Status = models.SubscriptionStatusCanceled
		} else {
			if event.Type == "customer.subscription.created" {
				result.Event = EventSubscriptionCreated
			} else {
				result.Event = EventSubscriptionUpdated
			}
			result.Status = stripeStatusToCanonical(string(sub.Status))
		}
		if result.BillingCycle == "" && sub.Items != nil && len(sub.Items.Data) > 0 {
			if p := sub.Items.Data[0].Price; p != nil && p.Recurring != nil {
				result.BillingCycle = string(p.Recurring.Interval)
			}
		}
		result.UserEmail = g.emailForCustomer(sub.Customer)

	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe: malformed invoice payload: %w", err)
		}
		result.Recognized = true
		result.Event = EventPaymentSucceeded
		result.Status = models.SubscriptionStatusActive
		result.Amount = inv.AmountPaid
		result.Currency = string(inv.Currency)
		result.PaymentID = inv.ID
		result.UserEmail = inv.CustomerEmail
		if inv.Subscription != nil {
			result.SubscriptionID = inv.Subscription.ID
		}

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe: malformed invoice payload: %w", err)
		}
		result.Recognized = true
		result.Event = EventPaymentFailed
		result.Status = models.SubscriptionStatusPastDue
		result.PaymentID = inv.ID
		result.UserEmail = inv.CustomerEmail
		if inv.Subscription != nil {
			result.SubscriptionID = inv.Subscription.ID
		}

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("stripe: malformed charge payload: %w", err)
		}
		result.Recognized = true
		result.Event = EventPaymentRefunded
		result.Status = models.SubscriptionStatusCanceled
		result.Amount = charge.AmountRefunded
		result.Currency = string(charge.Currency)
		result.PaymentID = charge.ID
		result.UserEmail = charge.ReceiptEmail

	default:
		// Acknowledge everything else; failing unknown types would only
		// cause provider retry storms.
		result.Recognized = false
	}

	return result, nil
}

// emailForCustomer resolves the stored email for an expandable customer
// reference. Best-effort: webhook application can resolve the user through
// the existing subscription row instead.
func (g *StripeGateway) emailForCustomer(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	if customer.Email != "" {
		return customer.Email
	}
	local, err := g.repo.FindCustomerByGatewayID(g.Name(), customer.ID)
	if err != nil {
		return ""
	}
	return local.Email
}

func (g *StripeGateway) GetSubscription(ctx context.Context, idOrUserID string) (*models.Subscription, error) {
	_ = ctx
	return findSubscriptionLocal(g.repo, g.Name(), idOrUserID)
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, id string, immediate bool) error {
	_ = ctx
	if !g.IsConfigured() {
		return &CancellationError{Gateway: g.Name(), SubscriptionID: id, Err: ErrNotConfigured}
	}

	var err error
	if immediate {
		_, err = g.sc.Subscriptions.Cancel(id, &stripe.SubscriptionCancelParams{})
		if err != nil && isStripeResourceMissing(err) {
			// Already canceled remotely; keep going so the local state
			// converges, this call must be safe to retry.
			err = nil
		}
	} else {
		_, err = g.sc.Subscriptions.Update(id, &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	}
	if err != nil {
		return &CancellationError{Gateway: g.Name(), SubscriptionID: id, Err: err}
	}

	if err := applyLocalCancel(g.repo, g.Name(), id, immediate); err != nil {
		return &CancellationError{Gateway: g.Name(), SubscriptionID: id, Err: err}
	}
	return nil
}

func (g *StripeGateway) GetCustomer(ctx context.Context, id string) (*models.BillingCustomer, error) {
	_ = ctx
	local, err := g.repo.FindCustomerByGatewayID(g.Name(), id)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("stripe: customer lookup failed: %v", err)
		return nil, nil
	}
	if !g.IsConfigured() {
		return nil, nil
	}

	remote, err := g.sc.Customers.Get(id, nil)
	if err != nil {
		log.Warnf("stripe: remote customer fetch failed: %v", err)
		return nil, nil
	}
	return g.storeCustomer(remote)
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*models.BillingCustomer, error) {
	_ = ctx
	if !g.IsConfigured() {
		return nil, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}
	return g.ensureCustomer(email, name, metadata)
}

func (g *StripeGateway) ensureCustomer(email, name string, metadata map[string]string) (*models.BillingCustomer, error) {
	existing, err := g.repo.FindCustomerByGatewayAndEmail(g.Name(), strings.ToLower(email))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	remote, err := g.sc.Customers.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe customer creation failed: %w", err)
	}
	return g.storeCustomer(remote)
}

func (g *StripeGateway) storeCustomer(remote *stripe.Customer) (*models.BillingCustomer, error) {
	email := strings.ToLower(strings.TrimSpace(remote.Email))
	user, err := g.repo.EnsureUserByEmail(email, remote.Name)
	if err != nil {
		return nil, err
	}

	metadataJSON := ""
	if len(remote.Metadata) > 0 {
		raw, _ := json.Marshal(remote.Metadata)
		metadataJSON = string(raw)
	}
	customer := &models.BillingCustomer{
		UserID:       user.ID,
		Gateway:      g.Name(),
		CustomerID:   remote.ID,
		Email:        email,
		Name:         remote.Name,
		MetadataJSON: metadataJSON,
	}
	if err := g.repo.UpsertCustomer(customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// UpdateSubscription switches the subscription's single item to the price for
// the new plan/cycle, prorating the difference.
func (g *StripeGateway) UpdateSubscription(ctx context.Context, id, newPlan, newBillingCycle string) error {
	_ = ctx
	if !g.IsConfigured() {
		return fmt.Errorf("stripe: %w", ErrNotConfigured)
	}

	price, err := g.prices.Resolve(g.Name(), newPlan, newBillingCycle)
	if err != nil {
		return err
	}
	if price.ProviderPriceRef == "" {
		return fmt.Errorf("%w: stripe needs a price id for %s/%s", ErrPriceNotConfigured, newPlan, newBillingCycle)
	}

	sub, err := g.sc.Subscriptions.Get(id, nil)
	if err != nil {
		return fmt.Errorf("stripe subscription fetch failed: %w", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return fmt.Errorf("stripe subscription %s has no items", id)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(price.ProviderPriceRef),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.AddMetadata("plan", newPlan)
	params.AddMetadata("billing_cycle", newBillingCycle)

	if _, err := g.sc.Subscriptions.Update(id, params); err != nil {
		return fmt.Errorf("stripe subscription update failed: %w", err)
	}
	return nil
}

// GetCustomerPortalURL creates a billing portal session for the customer.
func (g *StripeGateway) GetCustomerPortalURL(ctx context.Context, customerID string) (string, error) {
	_ = ctx
	if !g.IsConfigured() {
		return "", fmt.Errorf("stripe: %w", ErrNotConfigured)
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(env.GetEnv("BILLING_PORTAL_RETURN_URL", env.GetEnv("PUBLIC_DOMAIN", "")+"/settings/billing")),
	}
	session, err := g.sc.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe portal session failed: %w", err)
	}
	return session.URL, nil
}

func isStripeResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
