package billing

import (
	"context"
	"crypto/sha512"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/draftdeck/draftdeck/app/models"
)

const paymobTestSecret = "paymob_hmac_secret"

// paymobCallbackFixture is a transaction callback with every signed field
// present, wrapped in "obj" the way the processed callback delivers it.
const paymobCallbackFixture = `{
  "type": "TRANSACTION",
  "obj": {
    "id": 987654,
    "amount_cents": 150000,
    "created_at": "2025-03-01T10:00:00.000000",
    "currency": "EGP",
    "error_occured": false,
    "has_parent_transaction": false,
    "integration_id": 112233,
    "is_3d_secure": true,
    "is_auth": false,
    "is_capture": false,
    "is_refunded": false,
    "is_standalone_payment": true,
    "is_voided": false,
    "owner": 42,
    "pending": false,
    "success": true,
    "order": {
      "id": 555111,
      "merchant_order_id": "pro|monthly|sara@example.com|4f9d1c2e",
      "shipping_data": {"email": "sara@example.com"}
    },
    "source_data": {
      "pan": "2346",
      "sub_type": "MasterCard",
      "type": "card"
    }
  }
}`

// paymobFixtureConcat is the signed-field concatenation for the fixture
// above, written out by hand in the provider's pinned order.
const paymobFixtureConcat = "150000" +
	"2025-03-01T10:00:00.000000" +
	"EGP" +
	"false" +
	"false" +
	"987654" +
	"112233" +
	"true" +
	"false" +
	"false" +
	"false" +
	"true" +
	"false" +
	"555111" +
	"42" +
	"false" +
	"2346" +
	"MasterCard" +
	"card" +
	"true"

func paymobFixtureSignature() string {
	return computeHexHMAC([]byte(paymobFixtureConcat), paymobTestSecret, sha512.New)
}

func newTestPaymobGateway() *PaymobGateway {
	return &PaymobGateway{
		client: &PaymobClient{
			APIKey:        "key",
			IntegrationID: "112233",
			IframeID:      "7788",
			APIBaseURL:    "https://accept.paymob.com/api",
		},
		hmacSecret: paymobTestSecret,
	}
}

func TestVerifyPaymobHMAC(t *testing.T) {
	sig := paymobFixtureSignature()

	if !VerifyPaymobHMAC([]byte(paymobCallbackFixture), sig, paymobTestSecret) {
		t.Fatal("expected fixture signature to verify")
	}

	// Any single signed field changing must break the MAC.
	tampered := strings.Replace(paymobCallbackFixture, `"amount_cents": 150000`, `"amount_cents": 999999`, 1)
	if VerifyPaymobHMAC([]byte(tampered), sig, paymobTestSecret) {
		t.Fatal("expected tampered amount_cents to fail verification")
	}

	if VerifyPaymobHMAC([]byte(paymobCallbackFixture), sig, "wrong-secret") {
		t.Fatal("expected wrong secret to fail verification")
	}
	if VerifyPaymobHMAC([]byte("not json"), sig, paymobTestSecret) {
		t.Fatal("expected malformed payload to fail verification")
	}
}

func TestPaymobFieldString(t *testing.T) {
	obj, ok := paymobTransactionObject([]byte(paymobCallbackFixture))
	if !ok {
		t.Fatal("fixture did not parse")
	}

	cases := []struct {
		path, want string
	}{
		{"amount_cents", "150000"},
		{"success", "true"},
		{"is_refunded", "false"},
		{"order.id", "555111"},
		{"source_data.sub_type", "MasterCard"},
		{"order.merchant_order_id", "pro|monthly|sara@example.com|4f9d1c2e"},
		{"missing_field", ""},
		{"order.missing", ""},
		{"source_data.pan.too_deep", ""},
	}
	for _, c := range cases {
		if got := paymobFieldString(obj, c.path); got != c.want {
			t.Fatalf("paymobFieldString(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestPaymobHandleWebhookSuccess(t *testing.T) {
	g := newTestPaymobGateway()

	result, err := g.HandleWebhook(context.Background(), []byte(paymobCallbackFixture), paymobFixtureSignature())
	if err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}
	if !result.Recognized || result.Event != EventCheckoutCompleted {
		t.Fatalf("expected checkout-completed, got %q (recognized=%v)", result.Event, result.Recognized)
	}
	if result.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %q", result.Status)
	}
	if result.Plan != "pro" || result.BillingCycle != models.BillingCycleMonthly {
		t.Fatalf("expected pro/monthly from merchant_order_id, got %s/%s", result.Plan, result.BillingCycle)
	}
	if result.UserEmail != "sara@example.com" {
		t.Fatalf("expected email from shipping data, got %q", result.UserEmail)
	}
	if result.Amount != 150000 || result.Currency != "egp" {
		t.Fatalf("unexpected amount/currency: %d %s", result.Amount, result.Currency)
	}
	if result.CurrentPeriodStart == nil || result.CurrentPeriodEnd == nil {
		t.Fatal("expected period bounds on a successful charge")
	}
	if !result.CurrentPeriodEnd.After(*result.CurrentPeriodStart) {
		t.Fatal("expected period end after period start")
	}
	if result.EventID == "" || !strings.HasPrefix(result.EventID, "drv:") {
		t.Fatalf("expected derived event id, got %q", result.EventID)
	}
}

func TestPaymobHandleWebhookTamperedSignature(t *testing.T) {
	g := newTestPaymobGateway()

	tampered := strings.Replace(paymobCallbackFixture, `"amount_cents": 150000`, `"amount_cents": 1`, 1)
	_, err := g.HandleWebhook(context.Background(), []byte(tampered), paymobFixtureSignature())
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestPaymobHandleWebhookRefund(t *testing.T) {
	g := newTestPaymobGateway()

	refunded := strings.Replace(paymobCallbackFixture, `"is_refunded": false`, `"is_refunded": true`, 1)
	concat := strings.Replace(paymobFixtureConcat, "false"+"true"+"false"+"555111", "true"+"true"+"false"+"555111", 1)
	sig := computeHexHMAC([]byte(concat), paymobTestSecret, sha512.New)

	result, err := g.HandleWebhook(context.Background(), []byte(refunded), sig)
	if err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}
	if result.Event != EventPaymentRefunded {
		t.Fatalf("expected payment-refunded, got %q", result.Event)
	}
	if result.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled status, got %q", result.Status)
	}
}

func TestPaymobHandleWebhookNotConfigured(t *testing.T) {
	g := &PaymobGateway{client: &PaymobClient{}}
	_, err := g.HandleWebhook(context.Background(), []byte(paymobCallbackFixture), paymobFixtureSignature())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPaymobClientHonorsContextCancellation(t *testing.T) {
	client := &PaymobClient{
		APIKey:     "key",
		APIBaseURL: "http://127.0.0.1:0",
		HTTPClient: &http.Client{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Authenticate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParsePipeMetadata(t *testing.T) {
	plan, cycle, email := parsePipeMetadata("team|yearly|omar@example.com|abc123")
	if plan != "team" || cycle != models.BillingCycleYearly || email != "omar@example.com" {
		t.Fatalf("unexpected parse result: %s/%s/%s", plan, cycle, email)
	}

	plan, cycle, email = parsePipeMetadata("garbage")
	if plan != "" || cycle != "" || email != "" {
		t.Fatalf("expected empty result for malformed reference, got %s/%s/%s", plan, cycle, email)
	}
}
