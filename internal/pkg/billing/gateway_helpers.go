package billing

import (
	"errors"
	"strconv"
	"strings"

	"github.com/draftdeck/draftdeck/app/models"
	"github.com/draftdeck/draftdeck/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// findSubscriptionLocal implements the shared GetSubscription semantics:
// gateway-native id first, then "most recent active subscription" for a
// numeric user id. Misses and lookup errors both return (nil, nil); errors
// are logged, never propagated.
func findSubscriptionLocal(repo Repository, gateway, idOrUserID string) (*models.Subscription, error) {
	id := strings.TrimSpace(idOrUserID)
	if id == "" {
		return nil, nil
	}

	sub, err := repo.FindSubscriptionByGatewayTxn(gateway, id)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("%s: subscription lookup by id failed: %v", gateway, err)
		return nil, nil
	}

	userID, perr := strconv.ParseUint(id, 10, 64)
	if perr != nil {
		return nil, nil
	}
	sub, err = repo.FindActiveSubscriptionByUser(uint(userID))
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("%s: subscription lookup by user failed: %v", gateway, err)
		}
		return nil, nil
	}
	return sub, nil
}

// ensureLocalCustomer records a billing identity for gateways without a
// customer API; the customer id is synthesized locally.
func ensureLocalCustomer(repo Repository, gateway, email, name string) (*models.BillingCustomer, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	existing, err := repo.FindCustomerByGatewayAndEmail(gateway, normalized)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user, err := repo.EnsureUserByEmail(normalized, name)
	if err != nil {
		return nil, err
	}
	customer := &models.BillingCustomer{
		UserID:     user.ID,
		Gateway:    gateway,
		CustomerID: "cus_local_" + uuid.NewString(),
		Email:      normalized,
		Name:       name,
	}
	if err := repo.UpsertCustomer(customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// applyLocalCancel records a cancellation locally. immediate cancels now and
// downgrades the user's plan to free; otherwise only cancel_at_period_end is
// set. Re-applying the same cancellation is a no-op, so callers may retry.
func applyLocalCancel(repo Repository, gateway, txnID string, immediate bool) error {
	sub, err := repo.FindSubscriptionByGatewayTxn(gateway, txnID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Nothing recorded locally; the provider-side cancel stands.
			return nil
		}
		return err
	}

	if immediate {
		sub.Status = models.SubscriptionStatusCanceled
		sub.Plan = string(entitlements.PlanFree)
	}
	sub.CancelAtPeriodEnd = true

	if err := repo.UpsertSubscription(sub); err != nil {
		return err
	}
	if immediate {
		return repo.UpdateUserPlan(sub.UserID, string(entitlements.PlanFree))
	}
	return nil
}
