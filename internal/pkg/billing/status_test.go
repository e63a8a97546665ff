package billing

import (
	"testing"

	"github.com/draftdeck/draftdeck/app/models"
)

func TestStripeStatusToCanonical(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"active", models.SubscriptionStatusActive},
		{"trialing", models.SubscriptionStatusTrialing},
		{"past_due", models.SubscriptionStatusPastDue},
		{"unpaid", models.SubscriptionStatusPastDue},
		{"paused", models.SubscriptionStatusPaused},
		{"canceled", models.SubscriptionStatusCanceled},
		{"incomplete", models.SubscriptionStatusIncomplete},
		{"incomplete_expired", models.SubscriptionStatusIncompleteExpired},
		{"  Active  ", models.SubscriptionStatusActive},
		{"something_new", models.SubscriptionStatusIncomplete},
		{"", models.SubscriptionStatusIncomplete},
	}
	for _, c := range cases {
		if got := stripeStatusToCanonical(c.in); got != c.want {
			t.Fatalf("stripeStatusToCanonical(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLemonSqueezyStatusToCanonical(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"active", models.SubscriptionStatusActive},
		{"on_trial", models.SubscriptionStatusTrialing},
		{"past_due", models.SubscriptionStatusPastDue},
		{"unpaid", models.SubscriptionStatusPastDue},
		{"paused", models.SubscriptionStatusPaused},
		{"cancelled", models.SubscriptionStatusCanceled},
		{"expired", models.SubscriptionStatusCanceled},
		{"pending", models.SubscriptionStatusIncomplete},
		{"", models.SubscriptionStatusIncomplete},
	}
	for _, c := range cases {
		if got := lemonSqueezyStatusToCanonical(c.in); got != c.want {
			t.Fatalf("lemonSqueezyStatusToCanonical(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPaymobTransactionToCanonical(t *testing.T) {
	cases := []struct {
		name                               string
		success, pending, refunded, voided bool
		want                               string
	}{
		{"successful charge", true, false, false, false, models.SubscriptionStatusActive},
		{"pending", false, true, false, false, models.SubscriptionStatusIncomplete},
		{"pending wins over success", true, true, false, false, models.SubscriptionStatusIncomplete},
		{"refunded", true, false, true, false, models.SubscriptionStatusCanceled},
		{"voided", true, false, false, true, models.SubscriptionStatusCanceled},
		{"declined", false, false, false, false, models.SubscriptionStatusPastDue},
	}
	for _, c := range cases {
		if got := paymobTransactionToCanonical(c.success, c.pending, c.refunded, c.voided); got != c.want {
			t.Fatalf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestFawryStatusToCanonical(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"PAID", models.SubscriptionStatusActive},
		{"paid", models.SubscriptionStatusActive},
		{"NEW", models.SubscriptionStatusIncomplete},
		{"UNPAID", models.SubscriptionStatusIncomplete},
		{"FAILED", models.SubscriptionStatusPastDue},
		{"REFUNDED", models.SubscriptionStatusCanceled},
		{"PARTIAL_REFUNDED", models.SubscriptionStatusCanceled},
		{"CANCELED", models.SubscriptionStatusCanceled},
		{"EXPIRED", models.SubscriptionStatusIncompleteExpired},
		{"WHATEVER", models.SubscriptionStatusIncomplete},
	}
	for _, c := range cases {
		if got := fawryStatusToCanonical(c.in); got != c.want {
			t.Fatalf("fawryStatusToCanonical(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPlanForStatus(t *testing.T) {
	cases := []struct {
		status, requested, want string
	}{
		{models.SubscriptionStatusActive, "pro", "pro"},
		{models.SubscriptionStatusTrialing, "team", "team"},
		{models.SubscriptionStatusPaused, "pro", "pro"},
		{models.SubscriptionStatusPastDue, "pro", "free"},
		{models.SubscriptionStatusCanceled, "enterprise", "free"},
		{models.SubscriptionStatusIncomplete, "pro", "free"},
		{models.SubscriptionStatusIncompleteExpired, "pro", "free"},
		{models.SubscriptionStatusActive, "bogus-plan", "free"},
		{models.SubscriptionStatusActive, "", "free"},
	}
	for _, c := range cases {
		if got := PlanForStatus(c.status, c.requested); got != c.want {
			t.Fatalf("PlanForStatus(%q, %q) = %q, want %q", c.status, c.requested, got, c.want)
		}
	}
}

func TestNormalizeCycle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"monthly", models.BillingCycleMonthly},
		{"month", models.BillingCycleMonthly},
		{"yearly", models.BillingCycleYearly},
		{"year", models.BillingCycleYearly},
		{"annual", models.BillingCycleYearly},
		{"Annually", models.BillingCycleYearly},
		{"", models.BillingCycleMonthly},
		{"weekly", models.BillingCycleMonthly},
	}
	for _, c := range cases {
		if got := normalizeCycle(c.in); got != c.want {
			t.Fatalf("normalizeCycle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
