package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/draftdeck/draftdeck/app/models"
)

func TestPriceResolverPrefersDBMapping(t *testing.T) {
	repo := newFakeRepo()
	repo.prices["stripe|pro|monthly"] = &models.PlanPriceMapping{
		Gateway:          "stripe",
		Plan:             "pro",
		BillingCycle:     "monthly",
		ProviderPriceRef: "price_db_123",
		Currency:         "usd",
		IsActive:         true,
	}
	t.Setenv("STRIPE_PRICE_PRO_MONTHLY", "price_env_should_lose")

	resolver := NewPriceResolver(repo, time.Minute)
	price, err := resolver.Resolve("stripe", "pro", "monthly")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if price.ProviderPriceRef != "price_db_123" {
		t.Fatalf("expected DB mapping to win, got %q", price.ProviderPriceRef)
	}
}

func TestPriceResolverEnvRefFallback(t *testing.T) {
	t.Setenv("LEMONSQUEEZY_PRICE_TEAM_YEARLY", "variant_4711")
	t.Setenv("LEMONSQUEEZY_CURRENCY", "usd")

	resolver := NewPriceResolver(newFakeRepo(), time.Minute)
	price, err := resolver.Resolve("lemonsqueezy", "team", "yearly")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if price.ProviderPriceRef != "variant_4711" {
		t.Fatalf("expected env price ref, got %q", price.ProviderPriceRef)
	}
	if price.Currency != "usd" {
		t.Fatalf("expected usd, got %q", price.Currency)
	}
}

func TestPriceResolverEnvAmountFallback(t *testing.T) {
	t.Setenv("FAWRY_AMOUNT_PRO_MONTHLY", "29900")
	t.Setenv("FAWRY_CURRENCY", "egp")

	resolver := NewPriceResolver(newFakeRepo(), time.Minute)
	price, err := resolver.Resolve("fawry", "pro", "monthly")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if price.AmountMinorUnits != 29900 {
		t.Fatalf("expected amount 29900, got %d", price.AmountMinorUnits)
	}
	if price.Currency != "egp" {
		t.Fatalf("expected egp, got %q", price.Currency)
	}
}

func TestPriceResolverMissingMapping(t *testing.T) {
	resolver := NewPriceResolver(newFakeRepo(), time.Minute)
	_, err := resolver.Resolve("paymob", "enterprise", "yearly")
	if !errors.Is(err, ErrPriceNotConfigured) {
		t.Fatalf("expected ErrPriceNotConfigured, got %v", err)
	}
}

func TestPriceResolverInactiveMappingIgnored(t *testing.T) {
	repo := newFakeRepo()
	repo.prices["paymob|team|monthly"] = &models.PlanPriceMapping{
		Gateway:          "paymob",
		Plan:             "team",
		BillingCycle:     "monthly",
		AmountMinorUnits: 50000,
		Currency:         "egp",
		IsActive:         false,
	}

	resolver := NewPriceResolver(repo, time.Minute)
	_, err := resolver.Resolve("paymob", "team", "monthly")
	if !errors.Is(err, ErrPriceNotConfigured) {
		t.Fatalf("expected inactive mapping to be ignored, got %v", err)
	}
}
