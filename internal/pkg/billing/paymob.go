package billing

import (
	"bytes"
	"context"
	"crypto/sha512"
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

// paymobHMACFieldOrder is the fixed field order Paymob signs transaction
// callbacks with. The order is part of the provider contract and must never
// be reordered or regenerated; dotted names traverse nested objects.
var paymobHMACFieldOrder = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

// VerifyPaymobHMAC validates a transaction callback against the HMAC-SHA512
// of the 20 pinned fields concatenated in order. Numbers must keep their
// exact wire form, so the payload is decoded with json.Number.
func VerifyPaymobHMAC(payload []byte, signatureHex, secret string) bool {
	obj, ok := paymobTransactionObject(payload)
	if !ok {
		return false
	}

	var concat strings.Builder
	for _, field := range paymobHMACFieldOrder {
		concat.WriteString(paymobFieldString(obj, field))
	}
	return verifyHexHMAC([]byte(concat.String()), signatureHex, secret, sha512.New)
}

// paymobTransactionObject unwraps the transaction from the callback body.
// Callbacks wrap it in "obj"; redirect-style payloads are the bare object.
func paymobTransactionObject(payload []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, false
	}
	if inner, ok := body["obj"].(map[string]any); ok {
		return inner, true
	}
	return body, true
}

// paymobFieldString resolves a dotted path and renders the value exactly as
// Paymob does when building the signed string: numbers verbatim, booleans
// lowercase, null and missing as empty.
func paymobFieldString(obj map[string]any, path string) string {
	var current any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[part]
	}

	switch v := current.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// PaymobClient wraps the Accept API's three-step checkout flow: auth token,
// order registration, payment key.
type PaymobClient struct {
	APIKey        string
	IntegrationID string
	IframeID      string
	APIBaseURL    string
	HTTPClient    *http.Client
}

func NewPaymobClientFromEnv() *PaymobClient {
	return &PaymobClient{
		APIKey:        strings.TrimSpace(env.GetEnv("PAYMOB_API_KEY", "")),
		IntegrationID: strings.TrimSpace(env.GetEnv("PAYMOB_INTEGRATION_ID", "")),
		IframeID:      strings.TrimSpace(env.GetEnv("PAYMOB_IFRAME_ID", "")),
		APIBaseURL:    strings.TrimRight(env.GetEnv("PAYMOB_API_BASE_URL", "https://accept.paymob.com/api"), "/"),
		HTTPClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *PaymobClient) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("paymob request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("paymob %s returned %d: %s", path, resp.StatusCode, truncateForLog(data))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// Authenticate exchanges the API key for a short-lived bearer token.
func (c *PaymobClient) Authenticate(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/auth/tokens", map[string]string{"api_key": c.APIKey}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("paymob auth returned an empty token")
	}
	return resp.Token, nil
}

// RegisterOrder creates the provider-side order the charge attaches to.
func (c *PaymobClient) RegisterOrder(ctx context.Context, authToken, merchantOrderID string, amountCents int64, currency string) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	err := c.post(ctx, "/ecommerce/orders", map[string]any{
		"auth_token":        authToken,
		"delivery_needed":   false,
		"amount_cents":      amountCents,
		"currency":          currency,
		"merchant_order_id": merchantOrderID,
		"items":             []any{},
	}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.ID == 0 {
		return 0, errors.New("paymob order registration returned no id")
	}
	return resp.ID, nil
}

// CreatePaymentKey issues the iframe payment token for one registered order.
func (c *PaymobClient) CreatePaymentKey(ctx context.Context, authToken string, orderID, amountCents int64, currency, email, name string) (string, error) {
	first, last := splitName(name)
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/acceptance/payment_keys", map[string]any{
		"auth_token":   authToken,
		"amount_cents": amountCents,
		"expiration":   3600,
		"order_id":     orderID,
		"currency":     currency,
		"integration_id": func() any {
			if id, perr := strconv.ParseInt(c.IntegrationID, 10, 64); perr == nil {
				return id
			}
			return c.IntegrationID
		}(),
		"billing_data": map[string]string{
			"email":        email,
			"first_name":   first,
			"last_name":    last,
			"phone_number": "NA",
			"apartment":    "NA",
			"floor":        "NA",
			"street":       "NA",
			"building":     "NA",
			"city":         "NA",
			"country":      "NA",
			"state":        "NA",
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("paymob payment key returned an empty token")
	}
	return resp.Token, nil
}

// IframeURL builds the hosted payment page URL for a payment token.
func (c *PaymobClient) IframeURL(paymentToken string) string {
	return fmt.Sprintf("%s/acceptance/iframes/%s?payment_token=%s", c.APIBaseURL, c.IframeID, paymentToken)
}

func splitName(name string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(name))
	switch len(parts) {
	case 0:
		return "NA", "NA"
	case 1:
		return parts[0], "NA"
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func truncateForLog(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// PaymobGateway implements card payments through Paymob Accept. Paymob has no
// native subscription object; each charge is a standalone transaction and the
// period bookkeeping lives entirely on our side.
type PaymobGateway struct {
	client     *PaymobClient
	hmacSecret string
	repo       Repository
	prices     *PriceResolver
}

func NewPaymobGateway(repo Repository, prices *PriceResolver) *PaymobGateway {
	return &PaymobGateway{
		client:     NewPaymobClientFromEnv(),
		hmacSecret: strings.TrimSpace(env.GetEnv("PAYMOB_HMAC_SECRET", "")),
		repo:       repo,
		prices:     prices,
	}
}

func (g *PaymobGateway) Name() string { return models.GatewayPaymob }

func (g *PaymobGateway) IsConfigured() bool {
	return g.client.APIKey != "" && g.client.IntegrationID != "" &&
		g.client.IframeID != "" && g.hmacSecret != ""
}

func (g *PaymobGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("paymob: %w", ErrNotConfigured)
	}

	price, err := g.prices.Resolve(g.Name(), req.Plan, req.BillingCycle)
	if err != nil {
		return nil, err
	}
	if price.AmountMinorUnits <= 0 {
		return nil, fmt.Errorf("%w: paymob needs an amount for %s/%s", ErrPriceNotConfigured, req.Plan, req.BillingCycle)
	}
	currency := strings.ToUpper(price.Currency)
	if currency == "" {
		currency = "EGP"
	}

	token, err := g.client.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	// merchant_order_id carries plan, cycle and email through the callback,
	// since Paymob callbacks have no metadata channel of their own.
	merchantOrderID := strings.Join([]string{req.Plan, normalizeCycle(req.BillingCycle), req.UserEmail, uuid.NewString()}, "|")

	orderID, err := g.client.RegisterOrder(ctx, token, merchantOrderID, price.AmountMinorUnits, currency)
	if err != nil {
		return nil, err
	}

	paymentToken, err := g.client.CreatePaymentKey(ctx, token, orderID, price.AmountMinorUnits, currency, req.UserEmail, req.UserName)
	if err != nil {
		return nil, err
	}

	if _, err := g.ensureCustomer(req.UserEmail, req.UserName); err != nil {
		log.Warnf("paymob: recording customer for %s failed: %v", req.UserEmail, err)
	}

	return &CheckoutSession{
		URL:       g.client.IframeURL(paymentToken),
		SessionID: strconv.FormatInt(orderID, 10),
		Gateway:   g.Name(),
	}, nil
}

func (g *PaymobGateway) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	_ = ctx
	if !g.IsConfigured() {
		return nil, fmt.Errorf("paymob: %w", ErrNotConfigured)
	}
	if !VerifyPaymobHMAC(payload, signature, g.hmacSecret) {
		return nil, fmt.Errorf("paymob: %w", ErrInvalidSignature)
	}

	obj, _ := paymobTransactionObject(payload)
	txn := parsePaymobTransaction(obj)

	result := &WebhookResult{
		Success:    true,
		Recognized: true,
		EventType:  "transaction",
		EventID:    GenerateEventID(g.Name(), txn.ID, txn.flagSummary()),
		Amount:     txn.AmountCents,
		Currency:   strings.ToLower(txn.Currency),
		PaymentID:  txn.ID,
		UserEmail:  txn.Email,
	}

	plan, cycle, metaEmail := parsePipeMetadata(txn.MerchantOrderID)
	result.Plan = plan
	result.BillingCycle = cycle
	if result.UserEmail == "" {
		result.UserEmail = metaEmail
	}

	status := paymobTransactionToCanonical(txn.Success, txn.Pending, txn.IsRefunded, txn.IsVoided)
	result.Status = status

	switch {
	case txn.IsRefunded:
		result.Event = EventPaymentRefunded
	case txn.IsVoided:
		result.Event = EventSubscriptionCanceled
	case txn.Pending:
		// Not final yet; acknowledged and recorded, applied on the next
		// callback once the transaction settles.
		result.Event = "transaction-pending"
	case txn.Success:
		result.Event = EventCheckoutCompleted
		now := time.Now().UTC()
		end := addBillingCycle(now, cycle)
		result.CurrentPeriodStart = &now
		result.CurrentPeriodEnd = &end
	default:
		result.Event = EventPaymentFailed
	}

	return result, nil
}

// paymobTransaction is the subset of callback fields the engine consumes.
type paymobTransaction struct {
	ID              string
	AmountCents     int64
	Currency        string
	Success         bool
	Pending         bool
	IsRefunded      bool
	IsVoided        bool
	MerchantOrderID string
	Email           string
}

func (t *paymobTransaction) flagSummary() string {
	switch {
	case t.IsRefunded:
		return "refunded"
	case t.IsVoided:
		return "voided"
	case t.Pending:
		return "pending"
	case t.Success:
		return "success"
	default:
		return "declined"
	}
}

func parsePaymobTransaction(obj map[string]any) *paymobTransaction {
	txn := &paymobTransaction{
		ID:              paymobFieldString(obj, "id"),
		Currency:        paymobFieldString(obj, "currency"),
		MerchantOrderID: paymobFieldString(obj, "order.merchant_order_id"),
		Email:           paymobFieldString(obj, "payment_key_claims.billing_data.email"),
	}
	if txn.Email == "" || strings.EqualFold(txn.Email, "NA") {
		txn.Email = paymobFieldString(obj, "order.shipping_data.email")
	}
	if strings.EqualFold(txn.Email, "NA") {
		txn.Email = ""
	}
	txn.AmountCents, _ = strconv.ParseInt(paymobFieldString(obj, "amount_cents"), 10, 64)
	txn.Success = paymobFieldString(obj, "success") == "true"
	txn.Pending = paymobFieldString(obj, "pending") == "true"
	txn.IsRefunded = paymobFieldString(obj, "is_refunded") == "true"
	txn.IsVoided = paymobFieldString(obj, "is_voided") == "true"
	return txn
}

// parsePipeMetadata splits the "plan|cycle|email|nonce" merchant reference
// used by the redirect-style gateways.
func parsePipeMetadata(ref string) (plan, cycle, email string) {
	parts := strings.Split(ref, "|")
	if len(parts) < 3 {
		return "", "", ""
	}
	return strings.TrimSpace(parts[0]), normalizeCycle(parts[1]), strings.TrimSpace(parts[2])
}

func addBillingCycle(from time.Time, cycle string) time.Time {
	if normalizeCycle(cycle) == models.BillingCycleYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

func (g *PaymobGateway) GetSubscription(ctx context.Context, idOrUserID string) (*models.Subscription, error) {
	_ = ctx
	return findSubscriptionLocal(g.repo, g.Name(), idOrUserID)
}

// CancelSubscription is local-only: Paymob charge-based billing has nothing
// to cancel provider-side, we simply stop issuing the next charge.
func (g *PaymobGateway) CancelSubscription(ctx context.Context, id string, immediate bool) error {
	_ = ctx
	if err := applyLocalCancel(g.repo, g.Name(), id, immediate); err != nil {
		return &CancellationError{Gateway: g.Name(), SubscriptionID: id, Err: err}
	}
	return nil
}

func (g *PaymobGateway) GetCustomer(ctx context.Context, id string) (*models.BillingCustomer, error) {
	_ = ctx
	customer, err := g.repo.FindCustomerByGatewayID(g.Name(), id)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("paymob: customer lookup failed: %v", err)
		}
		return nil, nil
	}
	return customer, nil
}

func (g *PaymobGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*models.BillingCustomer, error) {
	_ = ctx
	_ = metadata
	return g.ensureCustomer(email, name)
}

func (g *PaymobGateway) ensureCustomer(email, name string) (*models.BillingCustomer, error) {
	return ensureLocalCustomer(g.repo, g.Name(), email, name)
}
