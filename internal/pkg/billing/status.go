package billing

import (
	"strings"

	"github.com/draftdeck/draftdeck/app/models"
	"github.com/draftdeck/draftdeck/internal/pkg/entitlements"
)

// normalizeCycle maps arbitrary interval vocabulary onto monthly/yearly.
func normalizeCycle(cycle string) string {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case "monthly", "month":
		return models.BillingCycleMonthly
	case "yearly", "year", "annual", "annually":
		return models.BillingCycleYearly
	default:
		return models.BillingCycleMonthly
	}
}

// PlanForStatus applies the revenue-risk policy: active and trialing keep the
// requested plan, everything that puts revenue at risk restricts access to
// free immediately.
func PlanForStatus(status, requestedPlan string) string {
	switch status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing:
		return string(entitlements.NormalizePlan(requestedPlan))
	case models.SubscriptionStatusPaused:
		return string(entitlements.NormalizePlan(requestedPlan))
	default:
		return string(entitlements.PlanFree)
	}
}

// stripeStatusToCanonical maps Stripe's subscription status vocabulary onto
// the canonical set. unpaid restricts access like past_due, not canceled.
func stripeStatusToCanonical(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "paused":
		return models.SubscriptionStatusPaused
	case "canceled":
		return models.SubscriptionStatusCanceled
	case "incomplete":
		return models.SubscriptionStatusIncomplete
	case "incomplete_expired":
		return models.SubscriptionStatusIncompleteExpired
	default:
		return models.SubscriptionStatusIncomplete
	}
}

// lemonSqueezyStatusToCanonical maps Lemon Squeezy subscription statuses.
func lemonSqueezyStatusToCanonical(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "on_trial":
		return models.SubscriptionStatusTrialing
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "paused":
		return models.SubscriptionStatusPaused
	case "cancelled", "expired":
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusIncomplete
	}
}

// paymobTransactionToCanonical maps a Paymob transaction's flag set onto a
// canonical status. Paymob has no subscription object; each successful
// charge keeps the subscription active for one billing cycle.
func paymobTransactionToCanonical(success, pending, refunded, voided bool) string {
	switch {
	case refunded || voided:
		return models.SubscriptionStatusCanceled
	case pending:
		return models.SubscriptionStatusIncomplete
	case success:
		return models.SubscriptionStatusActive
	default:
		return models.SubscriptionStatusPastDue
	}
}

// fawryStatusToCanonical maps Fawry order statuses.
func fawryStatusToCanonical(orderStatus string) string {
	switch strings.ToUpper(strings.TrimSpace(orderStatus)) {
	case "PAID":
		return models.SubscriptionStatusActive
	case "NEW", "UNPAID":
		return models.SubscriptionStatusIncomplete
	case "FAILED":
		return models.SubscriptionStatusPastDue
	case "REFUNDED", "PARTIAL_REFUNDED", "CANCELED":
		return models.SubscriptionStatusCanceled
	case "EXPIRED":
		return models.SubscriptionStatusIncompleteExpired
	default:
		return models.SubscriptionStatusIncomplete
	}
}
