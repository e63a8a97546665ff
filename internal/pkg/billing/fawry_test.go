package billing

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/draftdeck/draftdeck/app/models"
)

const fawryTestSecureKey = "fawry_secure_key"

// signedFawryCallback builds a payment notification carrying a valid
// messageSignature over the pinned field concatenation.
func signedFawryCallback(orderStatus string) []byte {
	const (
		fawryRef    = "963455678"
		merchantRef = "team|yearly|omar@example.com|0b7f55aa"
		method      = "PAYATFAWRY"
		paymentRef  = "12345"
	)
	concat := fawryRef + merchantRef + "580.00" + "580.00" + orderStatus + method + paymentRef
	sig := computeHexHMAC([]byte(concat), fawryTestSecureKey, sha256.New)

	return []byte(fmt.Sprintf(`{
  "fawryRefNumber": "%s",
  "merchantRefNumber": "%s",
  "paymentAmount": 580,
  "orderAmount": 580.0,
  "orderStatus": "%s",
  "paymentMethod": "%s",
  "paymentRefrenceNumber": "%s",
  "customerMail": "omar@example.com",
  "messageSignature": "%s"
}`, fawryRef, merchantRef, orderStatus, method, paymentRef, sig))
}

func newTestFawryGateway() *FawryGateway {
	return &FawryGateway{
		client: &FawryClient{
			MerchantCode: "MERCH1",
			SecureKey:    fawryTestSecureKey,
			APIBaseURL:   "https://atfawry.com",
		},
	}
}

func TestVerifyFawryCallbackSignature(t *testing.T) {
	payload := signedFawryCallback("PAID")
	if !VerifyFawryCallbackSignature(payload, fawryTestSecureKey) {
		t.Fatal("expected valid callback to verify")
	}
	if VerifyFawryCallbackSignature(payload, "wrong-key") {
		t.Fatal("expected wrong secure key to fail verification")
	}

	// Signature was computed for PAID; swapping the status must break it.
	tampered := strings.Replace(string(signedFawryCallback("PAID")), `"orderStatus": "PAID"`, `"orderStatus": "REFUNDED"`, 1)
	if VerifyFawryCallbackSignature([]byte(tampered), fawryTestSecureKey) {
		t.Fatal("expected tampered orderStatus to fail verification")
	}

	if VerifyFawryCallbackSignature([]byte("not json"), fawryTestSecureKey) {
		t.Fatal("expected malformed payload to fail verification")
	}
}

func TestFormatFawryAmount(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"580", "580.00"},
		{"580.0", "580.00"},
		{"580.5", "580.50"},
		{"580.55", "580.55"},
		{"0", "0.00"},
		{"not-a-number", "not-a-number"},
	}
	for _, c := range cases {
		if got := formatFawryAmount(c.in); got != c.want {
			t.Fatalf("formatFawryAmount(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFawryHandleWebhookPaid(t *testing.T) {
	g := newTestFawryGateway()

	result, err := g.HandleWebhook(context.Background(), signedFawryCallback("PAID"), "")
	if err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}
	if result.Event != EventCheckoutCompleted {
		t.Fatalf("expected checkout-completed, got %q", result.Event)
	}
	if result.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %q", result.Status)
	}
	if result.Plan != "team" || result.BillingCycle != models.BillingCycleYearly {
		t.Fatalf("expected team/yearly from merchantRefNumber, got %s/%s", result.Plan, result.BillingCycle)
	}
	if result.UserEmail != "omar@example.com" {
		t.Fatalf("unexpected email %q", result.UserEmail)
	}
	if result.Amount != 58000 {
		t.Fatalf("expected amount 58000 minor units, got %d", result.Amount)
	}
	if result.PaymentID != "963455678" {
		t.Fatalf("unexpected payment id %q", result.PaymentID)
	}
	if result.CurrentPeriodEnd == nil {
		t.Fatal("expected a period end on PAID")
	}
}

func TestFawryHandleWebhookDispatch(t *testing.T) {
	g := newTestFawryGateway()

	cases := []struct {
		status    string
		event     string
		canonical string
		affecting bool
	}{
		{"REFUNDED", EventPaymentRefunded, models.SubscriptionStatusCanceled, true},
		{"FAILED", EventPaymentFailed, models.SubscriptionStatusPastDue, true},
		{"CANCELED", EventSubscriptionCanceled, models.SubscriptionStatusCanceled, true},
		{"NEW", "order-new", models.SubscriptionStatusIncomplete, false},
		{"EXPIRED", "order-expired", models.SubscriptionStatusIncompleteExpired, false},
	}
	for _, c := range cases {
		result, err := g.HandleWebhook(context.Background(), signedFawryCallback(c.status), "")
		if err != nil {
			t.Fatalf("%s: HandleWebhook returned error: %v", c.status, err)
		}
		if result.Event != c.event {
			t.Fatalf("%s: expected event %q, got %q", c.status, c.event, result.Event)
		}
		if result.Status != c.canonical {
			t.Fatalf("%s: expected status %q, got %q", c.status, c.canonical, result.Status)
		}
		if result.SubscriptionAffecting() != c.affecting {
			t.Fatalf("%s: expected affecting=%v", c.status, c.affecting)
		}
	}
}

func TestFawryHandleWebhookInvalidSignature(t *testing.T) {
	g := newTestFawryGateway()

	payload := strings.Replace(string(signedFawryCallback("PAID")), `"paymentAmount": 580,`, `"paymentAmount": 1,`, 1)
	_, err := g.HandleWebhook(context.Background(), []byte(payload), "")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestFawryInitPaymentHonorsContextCancellation(t *testing.T) {
	client := &FawryClient{
		MerchantCode: "merchant",
		SecureKey:    fawryTestSecureKey,
		APIBaseURL:   "http://127.0.0.1:0",
		HTTPClient:   &http.Client{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.InitPayment(ctx, "ref", "omar@example.com", "Omar", "https://example.com/done", 58000, "Draftdeck team plan")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

