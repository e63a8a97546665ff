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

// fawryCallbackFieldOrder is the fixed concatenation order the server-side
// payment notification is signed over. Amount fields are rendered with two
// decimal places; the signature is keyed with the merchant secure key.
// paymentRefrenceNumber keeps the provider's spelling.
var fawryCallbackFieldOrder = []string{
	"fawryRefNumber",
	"merchantRefNumber",
	"paymentAmount",
	"orderAmount",
	"orderStatus",
	"paymentMethod",
	"paymentRefrenceNumber",
}

// VerifyFawryCallbackSignature validates a payment notification against the
// HMAC-SHA256 of the pinned field concatenation, compared to the body's
// messageSignature.
func VerifyFawryCallbackSignature(payload []byte, secureKey string) bool {
	body, ok := fawryCallbackBody(payload)
	if !ok {
		return false
	}

	signature, _ := body["messageSignature"].(string)
	var concat strings.Builder
	for _, field := range fawryCallbackFieldOrder {
		concat.WriteString(fawryFieldString(body, field))
	}
	return verifyHexHMAC([]byte(concat.String()), signature, secureKey, sha256.New)
}

func fawryCallbackBody(payload []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, false
	}
	return body, true
}

// fawryFieldString renders one signed field. Amounts always carry two decimal
// places regardless of how the JSON encodes them.
func fawryFieldString(body map[string]any, field string) string {
	value := body[field]
	if value == nil {
		return ""
	}

	isAmount := field == "paymentAmount" || field == "orderAmount"
	switch v := value.(type) {
	case string:
		if isAmount {
			return formatFawryAmount(v)
		}
		return v
	case json.Number:
		if isAmount {
			return formatFawryAmount(v.String())
		}
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatFawryAmount(raw string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// FawryClient calls the FawryPay hosted-checkout API.
type FawryClient struct {
	MerchantCode string
	SecureKey    string
	APIBaseURL   string
	HTTPClient   *http.Client
}

func NewFawryClientFromEnv() *FawryClient {
	return &FawryClient{
		MerchantCode: strings.TrimSpace(env.GetEnv("FAWRY_MERCHANT_CODE", "")),
		SecureKey:    strings.TrimSpace(env.GetEnv("FAWRY_SECURE_KEY", "")),
		APIBaseURL:   strings.TrimRight(env.GetEnv("FAWRY_API_BASE_URL", "https://atfawry.com"), "/"),
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// InitPayment creates a hosted checkout session and returns the redirect URL.
func (c *FawryClient) InitPayment(ctx context.Context, merchantRefNum, email, name, returnURL string, amountMinorUnits int64, description string) (string, error) {
	amount := strconv.FormatFloat(float64(amountMinorUnits)/100, 'f', 2, 64)
	signature := computeHexHMAC(
		[]byte(c.MerchantCode+merchantRefNum+email+returnURL+amount),
		c.SecureKey, sha256.New,
	)

	body := map[string]any{
		"merchantCode":      c.MerchantCode,
		"merchantRefNum":    merchantRefNum,
		"customerProfileId": email,
		"customerEmail":     email,
		"customerName":      name,
		"returnUrl":         returnURL,
		"paymentExpiry":     time.Now().Add(time.Hour).UnixMilli(),
		"chargeItems": []map[string]any{
			{
				"itemId":      "1",
				"description": description,
				"price":       amount,
				"quantity":    1,
			},
		},
		"signature": signature,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/fawrypay-api/api/payments/init", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fawry init request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fawry init returned %d: %s", resp.StatusCode, truncateForLog(data))
	}

	// The init endpoint answers with the bare redirect URL.
	redirectURL := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if !strings.HasPrefix(redirectURL, "http") {
		return "", fmt.Errorf("fawry init returned an unexpected body: %s", truncateForLog(data))
	}
	return redirectURL, nil
}

// FawryGateway implements reference-number payments through FawryPay. Like
// Paymob it is charge-based; subscription bookkeeping is local.
type FawryGateway struct {
	client *FawryClient
	repo   Repository
	prices *PriceResolver
}

func NewFawryGateway(repo Repository, prices *PriceResolver) *FawryGateway {
	return &FawryGateway{
		client: NewFawryClientFromEnv(),
		repo:   repo,
		prices: prices,
	}
}

func (g *FawryGateway) Name() string { return models.GatewayFawry }

func (g *FawryGateway) IsConfigured() bool {
	return g.client.MerchantCode != "" && g.client.SecureKey != ""
}

func (g *FawryGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("fawry: %w", ErrNotConfigured)
	}

	price, err := g.prices.Resolve(g.Name(), req.Plan, req.BillingCycle)
	if err != nil {
		return nil, err
	}
	if price.AmountMinorUnits <= 0 {
		return nil, fmt.Errorf("%w: fawry needs an amount for %s/%s", ErrPriceNotConfigured, req.Plan, req.BillingCycle)
	}

	merchantRefNum := strings.Join([]string{req.Plan, normalizeCycle(req.BillingCycle), req.UserEmail, uuid.NewString()}, "|")
	description := fmt.Sprintf("Draftdeck %s plan, %s", req.Plan, normalizeCycle(req.BillingCycle))

	redirectURL, err := g.client.InitPayment(ctx, merchantRefNum, req.UserEmail, req.UserName, req.SuccessURL, price.AmountMinorUnits, description)
	if err != nil {
		return nil, err
	}

	if _, err := ensureLocalCustomer(g.repo, g.Name(), req.UserEmail, req.UserName); err != nil {
		log.Warnf("fawry: recording customer for %s failed: %v", req.UserEmail, err)
	}

	return &CheckoutSession{
		URL:       redirectURL,
		SessionID: merchantRefNum,
		Gateway:   g.Name(),
	}, nil
}

// HandleWebhook processes the server-side payment notification. The
// signature travels inside the body, so the transport-level signature
// argument is unused here.
func (g *FawryGateway) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	_ = ctx
	_ = signature
	if !g.IsConfigured() {
		return nil, fmt.Errorf("fawry: %w", ErrNotConfigured)
	}
	if !VerifyFawryCallbackSignature(payload, g.client.SecureKey) {
		return nil, fmt.Errorf("fawry: %w", ErrInvalidSignature)
	}

	body, _ := fawryCallbackBody(payload)
	fawryRef := fawryFieldString(body, "fawryRefNumber")
	merchantRef := fawryFieldString(body, "merchantRefNumber")
	orderStatus := strings.ToUpper(strings.TrimSpace(fawryFieldString(body, "orderStatus")))

	amount := int64(0)
	if f, err := strconv.ParseFloat(fawryFieldString(body, "paymentAmount"), 64); err == nil {
		amount = int64(f * 100)
	}

	result := &WebhookResult{
		Success:    true,
		Recognized: true,
		EventType:  "payment-notification:" + orderStatus,
		EventID:    GenerateEventID(g.Name(), fawryRef+"|"+merchantRef, orderStatus),
		Amount:     amount,
		Currency:   "egp",
		PaymentID:  fawryRef,
		Status:     fawryStatusToCanonical(orderStatus),
	}

	plan, cycle, email := parsePipeMetadata(merchantRef)
	result.Plan = plan
	result.BillingCycle = cycle
	result.UserEmail = email
	if result.UserEmail == "" {
		result.UserEmail = fawryFieldString(body, "customerMail")
	}

	switch orderStatus {
	case "PAID":
		result.Event = EventCheckoutCompleted
		now := time.Now().UTC()
		end := addBillingCycle(now, cycle)
		result.CurrentPeriodStart = &now
		result.CurrentPeriodEnd = &end
	case "REFUNDED", "PARTIAL_REFUNDED":
		result.Event = EventPaymentRefunded
	case "FAILED":
		result.Event = EventPaymentFailed
	case "CANCELED":
		result.Event = EventSubscriptionCanceled
	case "NEW", "UNPAID", "EXPIRED":
		// Lifecycle noise before or instead of payment; acknowledged only.
		result.Event = "order-" + strings.ToLower(orderStatus)
	default:
		result.Recognized = false
		result.Event = "order-" + strings.ToLower(orderStatus)
	}

	return result, nil
}

func (g *FawryGateway) GetSubscription(ctx context.Context, idOrUserID string) (*models.Subscription, error) {
	_ = ctx
	return findSubscriptionLocal(g.repo, g.Name(), idOrUserID)
}

// CancelSubscription is local-only, matching the charge-based model.
func (g *FawryGateway) CancelSubscription(ctx context.Context, id string, immediate bool) error {
	_ = ctx
	if err := applyLocalCancel(g.repo, g.Name(), id, immediate); err != nil {
		return &CancellationError{Gateway: g.Name(), SubscriptionID: id, Err: err}
	}
	return nil
}

func (g *FawryGateway) GetCustomer(ctx context.Context, id string) (*models.BillingCustomer, error) {
	_ = ctx
	customer, err := g.repo.FindCustomerByGatewayID(g.Name(), id)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("fawry: customer lookup failed: %v", err)
		}
		return nil, nil
	}
	return customer, nil
}

func (g *FawryGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*models.BillingCustomer, error) {
	_ = ctx
	_ = metadata
	return ensureLocalCustomer(g.repo, g.Name(), email, name)
}
