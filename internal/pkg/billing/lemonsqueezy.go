package billing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/draftdeck/draftdeck/app/models"
	"github.com/draftdeck/draftdeck/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultLemonSqueezyAPIBaseURL = "https://api.lemonsqueezy.com/v1"

// LemonSqueezyClient is the thin transport wrapper for the Lemon Squeezy
// JSON:API. Lemon Squeezy acts as merchant of record; prices live as store
// variants referenced by the price resolver.
type LemonSqueezyClient struct {
	APIKey     string
	StoreID    string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewLemonSqueezyClientFromEnv() *LemonSqueezyClient {
	return &LemonSqueezyClient{
		APIKey:     strings.TrimSpace(env.GetEnv("LEMONSQUEEZY_API_KEY", "")),
		StoreID:    strings.TrimSpace(env.GetEnv("LEMONSQUEEZY_STORE_ID", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("LEMONSQUEEZY_API_BASE_URL", defaultLemonSqueezyAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *LemonSqueezyClient) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lemonsqueezy %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// VerifyLemonSqueezyWebhookSignature checks the X-Signature header: a hex
// HMAC-SHA256 over the raw request body.
func VerifyLemonSqueezyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	return verifyHexHMAC(payload, signatureHeader, webhookSecret, sha256.New)
}

// LemonSqueezyGateway composes the client, the body-HMAC verifier and the
// Lemon Squeezy status mapper behind the Gateway contract.
type LemonSqueezyGateway struct {
	client        *LemonSqueezyClient
	webhookSecret string
	repo          Repository
	prices        *PriceResolver
}

func NewLemonSqueezyGateway(repo Repository, prices *PriceResolver) *LemonSqueezyGateway {
	return &LemonSqueezyGateway{
		client:        NewLemonSqueezyClientFromEnv(),
		webhookSecret: strings.TrimSpace(env.GetEnv("LEMONSQUEEZY_WEBHOOK_SECRET", "")),
		repo:          repo,
		prices:        prices,
	}
}

func (g *LemonSqueezyGateway) Name() string { return models.GatewayLemonSqueezy }

func (g *LemonSqueezyGateway) IsConfigured() bool {
	return g.client.APIKey != "" && g.client.StoreID != "" && g.webhookSecret != ""
}

func (g *LemonSqueezyGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("lemonsqueezy: %w", ErrNotConfigured)
	}

	price, err := g.prices.Resolve(g.Name(), req.Plan, req.BillingCycle)
	if err != nil {
		return nil, err
	}
	if price.ProviderPriceRef == "" {
		return nil, fmt.Errorf("%w: lemonsqueezy needs a variant id for %s/%s", ErrPriceNotConfigured, req.Plan, req.BillingCycle)
	}

	if _, err := g.ensureCustomer(ctx, req.UserEmail, req.UserName); err != nil {
		log.Warnf("lemonsqueezy: customer ensure failed, continuing checkout: %v", err)
	}

	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "checkouts",
			"attributes": map[string]interface{}{
				"checkout_data": map[string]interface{}{
					"email": req.UserEmail,
					"name":  req.UserName,
					"custom": map[string]string{
						"user_id":       strconv.FormatUint(uint64(req.UserID), 10),
						"user_email":    req.UserEmail,
						"plan":          req.Plan,
						"billing_cycle": req.BillingCycle,
					},
				},
				"product_options": map[string]interface{}{
					"redirect_url": req.SuccessURL,
				},
			},
			"relationships": map[string]interface{}{
				"store": map[string]interface{}{
					"data": map[string]string{"type": "stores", "id": g.client.StoreID},
				},
				"variant": map[string]interface{}{
					"data": map[string]string{"type": "variants", "id": price.ProviderPriceRef},
				},
			},
		},
	}

	respBody, err := g.client.do(ctx, http.MethodPost, "/checkouts", body)
	if err != nil {
		return nil, fmt.Errorf("lemonsqueezy checkout creation failed: %w", err)
	}

	var out struct {
		Data struct {
			ID         string `json:"id"`
			Attributes struct {
				URL string `json:"url"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if out.Data.Attributes.URL == "" {
		return nil, errors.New("lemonsqueezy checkout response missing url")
	}

	return &CheckoutSession{
		URL:       out.Data.Attributes.URL,
		SessionID: out.Data.ID,
		Gateway:   g.Name(),
	}, nil
}

type lemonSqueezyWebhookPayload struct {
	Meta struct {
		EventName  string            `json:"event_name"`
		CustomData map[string]string `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			Status            string     `json:"status"`
			UserEmail         string     `json:"user_email"`
			UserName          string     `json:"user_name"`
			Cancelled         bool       `json:"cancelled"`
			RenewsAt          *time.Time `json:"renews_at"`
			EndsAt            *time.Time `json:"ends_at"`
			CreatedAt         *time.Time `json:"created_at"`
			UpdatedAt         *time.Time `json:"updated_at"`
			TotalUSD          int64      `json:"total_usd"`
			Total             int64      `json:"total"`
			Currency          string     `json:"currency"`
			CustomerID        int64      `json:"customer_id"`
			FirstSubscription struct {
				SubscriptionID int64 `json:"subscription_id"`
			} `json:"first_subscription_item"`
		} `json:"attributes"`
	} `json:"data"`
}

func (g *LemonSqueezyGateway) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	_ = ctx
	if !g.IsConfigured() {
		return nil, fmt.Errorf("lemonsqueezy: %w", ErrNotConfigured)
	}
	if !VerifyLemonSqueezyWebhookSignature(payload, signature, g.webhookSecret) {
		return nil, fmt.Errorf("lemonsqueezy: %w", ErrInvalidSignature)
	}

	var event lemonSqueezyWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("lemonsqueezy: malformed webhook payload: %w", err)
	}

	attrs := event.Data.Attributes
	name := strings.ToLower(strings.TrimSpace(event.Meta.EventName))

	// Lemon Squeezy webhooks carry no stable event id; derive one from the
	// resource id plus its update timestamp so redeliveries collide.
	nativeID := event.Data.ID
	if attrs.UpdatedAt != nil {
		nativeID += "|" + attrs.UpdatedAt.UTC().Format(time.RFC3339)
	}

	result := &WebhookResult{
		Event:          name,
		EventType:      name,
		EventID:        GenerateEventID(g.Name(), nativeID, name),
		Success:        true,
		SubscriptionID: event.Data.ID,
		UserEmail:      attrs.UserEmail,
		UserName:       attrs.UserName,
		Plan:           event.Meta.CustomData["plan"],
		BillingCycle:   event.Meta.CustomData["billing_cycle"],
		CurrentPeriodStart: attrs.CreatedAt,
		CurrentPeriodEnd:   attrs.RenewsAt,
		CancelAtPeriodEnd:  attrs.Cancelled,
	}

	switch name {
	case "subscription_created":
		result.Recognized = true
		result.Event = EventSubscriptionCreated
		result.Status = lemonSqueezyStatusToCanonical(attrs.Status)
	case "subscription_updated", "subscription_paused", "subscription_unpaused", "subscription_resumed":
		result.Recognized = true
		result.Event = EventSubscriptionUpdated
		result.Status = lemonSqueezyStatusToCanonical(attrs.Status)
	case "subscription_cancelled", "subscription_expired":
		result.Recognized = true
		result.Event = EventSubscriptionCanceled
		result.Status = models.SubscriptionStatusCanceled
		result.CurrentPeriodEnd = attrs.EndsAt
	case "subscription_payment_success":
		result.Recognized = true
		result.Event = EventPaymentSucceeded
		result.Status = models.SubscriptionStatusActive
		result.Amount = attrs.Total
		result.Currency = strings.ToLower(attrs.Currency)
		result.PaymentID = event.Data.ID
	case "subscription_payment_failed":
		result.Recognized = true
		result.Event = EventPaymentFailed
		result.Status = models.SubscriptionStatusPastDue
		result.PaymentID = event.Data.ID
	case "subscription_payment_refunded":
		result.Recognized = true
		result.Event = EventPaymentRefunded
		result.Status = models.SubscriptionStatusCanceled
		result.Amount = attrs.Total
		result.Currency = strings.ToLower(attrs.Currency)
		result.PaymentID = event.Data.ID
	case "order_created":
		// The subscription_created event that follows carries the real
		// subscription identity; the order itself is acknowledged only.
		result.Recognized = true
		result.SubscriptionID = ""
	default:
		// Unknown event types are acknowledged, never failed.
		result.Recognized = false
	}

	return result, nil
}

func (g *LemonSqueezyGateway) GetSubscription(ctx context.Context, idOrUserID string) (*models.Subscription, error) {
	_ = ctx
	return findSubscriptionLocal(g.repo, g.Name(), idOrUserID)
}

func (g *LemonSqueezyGateway) CancelSubscription(ctx context.Context, id string, immediate bool) error {
	if !g.IsConfigured() {
		return &CancellationError{Gateway: g.Name(), SubscriptionID: id, Err: ErrNotConfigured}
	}

	// DELETE marks the subscription cancelled at period end; repeating it
	// is a provider-side no-op.
	if _, err := g.client.do(ctx, http.MethodDelete, "/subscriptions/"+id, nil); err != nil {
		return &CancellationError{Gateway: g.Name(), SubscriptionID: id, Err: err}
	}

	if err := applyLocalCancel(g.repo, g.Name(), id, immediate); err != nil {
		return &CancellationError{Gateway: g.Name(), SubscriptionID: id, Err: err}
	}
	return nil
}

func (g *LemonSqueezyGateway) GetCustomer(ctx context.Context, id string) (*models.BillingCustomer, error) {
	_ = ctx
	c, err := g.repo.FindCustomerByGatewayID(g.Name(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log.Warnf("lemonsqueezy: customer lookup failed: %v", err)
		return nil, nil
	}
	return c, nil
}

func (g *LemonSqueezyGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*models.BillingCustomer, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("lemonsqueezy: %w", ErrNotConfigured)
	}
	c, err := g.ensureCustomer(ctx, email, name)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		raw, _ := json.Marshal(metadata)
		c.MetadataJSON = string(raw)
		if err := g.repo.UpsertCustomer(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ensureCustomer reuses the stored customer matched by email and creates a
// provider-side one only when absent.
func (g *LemonSqueezyGateway) ensureCustomer(ctx context.Context, email, name string) (*models.BillingCustomer, error) {
	existing, err := g.repo.FindCustomerByGatewayAndEmail(g.Name(), email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "customers",
			"attributes": map[string]string{
				"name":  name,
				"email": email,
			},
			"relationships": map[string]interface{}{
				"store": map[string]interface{}{
					"data": map[string]string{"type": "stores", "id": g.client.StoreID},
				},
			},
		},
	}

	customerID := ""
	respBody, err := g.client.do(ctx, http.MethodPost, "/customers", body)
	if err != nil {
		// Creation never fails the caller on "already exists"; fall back
		// to a synthetic id and keep going.
		log.Warnf("lemonsqueezy: customer creation failed, synthesizing local record: %v", err)
		customerID = "cus_local_" + uuid.NewString()
	} else {
		var out struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if jerr := json.Unmarshal(respBody, &out); jerr == nil && out.Data.ID != "" {
			customerID = out.Data.ID
		} else {
			customerID = "cus_local_" + uuid.NewString()
		}
	}

	user, err := g.repo.EnsureUserByEmail(strings.ToLower(email), name)
	if err != nil {
		return nil, err
	}
	customer := &models.BillingCustomer{
		UserID:     user.ID,
		Gateway:    g.Name(),
		CustomerID: customerID,
		Email:      strings.ToLower(email),
		Name:       name,
	}
	if err := g.repo.UpsertCustomer(customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// PauseSubscription voids collection until resumed.
func (g *LemonSqueezyGateway) PauseSubscription(ctx context.Context, id string) error {
	if !g.IsConfigured() {
		return fmt.Errorf("lemonsqueezy: %w", ErrNotConfigured)
	}
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "subscriptions",
			"id":   id,
			"attributes": map[string]interface{}{
				"pause": map[string]string{"mode": "void"},
			},
		},
	}
	_, err := g.client.do(ctx, http.MethodPatch, "/subscriptions/"+id, body)
	return err
}

func (g *LemonSqueezyGateway) ResumeSubscription(ctx context.Context, id string) error {
	if !g.IsConfigured() {
		return fmt.Errorf("lemonsqueezy: %w", ErrNotConfigured)
	}
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "subscriptions",
			"id":   id,
			"attributes": map[string]interface{}{
				"pause": nil,
			},
		},
	}
	_, err := g.client.do(ctx, http.MethodPatch, "/subscriptions/"+id, body)
	return err
}

// GetCustomerPortalURL returns the signed customer portal link carried on the
// subscription resource.
func (g *LemonSqueezyGateway) GetCustomerPortalURL(ctx context.Context, subscriptionID string) (string, error) {
	if !g.IsConfigured() {
		return "", fmt.Errorf("lemonsqueezy: %w", ErrNotConfigured)
	}
	respBody, err := g.client.do(ctx, http.MethodGet, "/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Data struct {
			Attributes struct {
				URLs struct {
					CustomerPortal string `json:"customer_portal"`
				} `json:"urls"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	if out.Data.Attributes.URLs.CustomerPortal == "" {
		return "", errors.New("lemonsqueezy subscription has no customer portal url")
	}
	return out.Data.Attributes.URLs.CustomerPortal, nil
}
