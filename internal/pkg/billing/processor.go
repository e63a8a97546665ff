package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/draftdeck/draftdeck/app/models"
	"github.com/draftdeck/draftdeck/internal/pkg/entitlements"
	"github.com/draftdeck/draftdeck/internal/pkg/mail"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// errNoLocalAccount marks events that verified fine but reference nobody we
// know. They are acknowledged and skipped, never failed: failing would only
// trigger pointless provider retries.
var errNoLocalAccount = errors.New("no linked local account for event")

// ProcessResponse is what the webhook HTTP layer serializes back to the
// provider.
type ProcessResponse struct {
	Received bool           `json:"received"`
	Status   string         `json:"status,omitempty"`
	Result   *WebhookResult `json:"-"`
}

// WebhookProcessor orchestrates one inbound event: verify (inside the
// gateway), ledger begin, dispatch, persist, best-effort notify, ledger
// terminal mark. One processor instance serves all gateways; each request
// runs on its own goroutine with no shared in-process state.
type WebhookProcessor struct {
	registry *Registry
	repo     Repository
	ledger   *IdempotencyLedger
	notifier mail.Notifier
}

func NewWebhookProcessor(registry *Registry, repo Repository, notifier mail.Notifier) *WebhookProcessor {
	return &WebhookProcessor{
		registry: registry,
		repo:     repo,
		ledger:   NewIdempotencyLedger(repo),
		notifier: notifier,
	}
}

// Process handles one inbound webhook delivery end to end.
func (p *WebhookProcessor) Process(ctx context.Context, gatewayName string, payload []byte, signature string) (*ProcessResponse, error) {
	gw, err := p.registry.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	result, err := gw.HandleWebhook(ctx, payload, signature)
	if err != nil {
		// Signature and configuration failures are terminal and happen
		// before any state change.
		return nil, err
	}

	isNew, stored, err := p.ledger.CheckAndMarkProcessing(gw.Name(), result.EventID, result.EventType, payload)
	if err != nil {
		return nil, fmt.Errorf("webhook ledger begin failed: %w", err)
	}
	if !isNew {
		log.Infof("webhook %s/%s redelivered, acknowledging duplicate", gw.Name(), stored.EventID)
		return &ProcessResponse{Received: true, Status: "duplicate", Result: result}, nil
	}

	if !result.Recognized {
		// Unknown event types must never fail the webhook.
		p.ledger.MarkSkipped(gw.Name(), stored.EventID, "unrecognized event type: "+result.EventType)
		return &ProcessResponse{Received: true, Status: "ignored", Result: result}, nil
	}
	if !result.SubscriptionAffecting() {
		p.ledger.MarkSkipped(gw.Name(), stored.EventID, "no subscription effect")
		return &ProcessResponse{Received: true, Result: result}, nil
	}

	if err := p.apply(ctx, gw.Name(), result, payload); err != nil {
		if errors.Is(err, errNoLocalAccount) {
			p.ledger.MarkSkipped(gw.Name(), stored.EventID, err.Error())
			return &ProcessResponse{Received: true, Status: "ignored", Result: result}, nil
		}
		// Recorded as failed so the provider's retry is the recovery path.
		p.ledger.MarkFailed(gw.Name(), stored.EventID, err.Error())
		return nil, err
	}

	p.notify(gw.Name(), result)
	p.ledger.MarkProcessed(gw.Name(), stored.EventID, result.Event)
	return &ProcessResponse{Received: true, Result: result}, nil
}

// apply performs the single repository write for a subscription-affecting
// outcome. Writes are idempotent upserts keyed by (gateway, transaction id);
// out-of-order application resolves last-write-wins.
func (p *WebhookProcessor) apply(ctx context.Context, gateway string, result *WebhookResult, payload []byte) error {
	_ = ctx

	existing := p.findExisting(gateway, result)

	userID, err := p.resolveUser(result, existing)
	if err != nil {
		return err
	}

	requestedPlan := result.Plan
	if requestedPlan == "" && existing != nil {
		// Payment events often carry no plan; keep the one on record.
		requestedPlan = existing.Plan
	}

	status := result.Status
	if status == "" {
		status = models.SubscriptionStatusIncomplete
	}
	plan := PlanForStatus(status, requestedPlan)

	txnID := strings.TrimSpace(result.SubscriptionID)
	if txnID == "" {
		if existing != nil {
			txnID = existing.GatewayTransactionID
		} else {
			txnID = "user:" + result.UserEmail
		}
	}

	sub := &models.Subscription{
		UserID:               userID,
		Gateway:              gateway,
		GatewayTransactionID: txnID,
		Plan:                 plan,
		BillingCycle:         normalizeCycle(result.BillingCycle),
		Status:               status,
		CurrentPeriodStart:   result.CurrentPeriodStart,
		CurrentPeriodEnd:     result.CurrentPeriodEnd,
		CancelAtPeriodEnd:    result.CancelAtPeriodEnd,
		RawPayloadJSON:       string(payload),
	}
	if existing != nil {
		if sub.CurrentPeriodStart == nil {
			sub.CurrentPeriodStart = existing.CurrentPeriodStart
		}
		if sub.CurrentPeriodEnd == nil {
			sub.CurrentPeriodEnd = existing.CurrentPeriodEnd
		}
		if sub.BillingCycle == models.BillingCycleMonthly && existing.BillingCycle == models.BillingCycleYearly && result.BillingCycle == "" {
			sub.BillingCycle = existing.BillingCycle
		}
	}

	if err := p.repo.UpsertSubscription(sub); err != nil {
		return fmt.Errorf("subscription upsert failed: %w", err)
	}

	// A downgrade on one gateway must not clobber a better plan the user
	// still holds through an entitling subscription elsewhere.
	userPlan := plan
	if best, err := p.repo.FindActiveSubscriptionByUser(userID); err == nil && best != nil {
		bestPlan := entitlements.NormalizePlan(best.Plan)
		if entitlements.Rank(bestPlan) > entitlements.Rank(entitlements.NormalizePlan(userPlan)) {
			userPlan = string(bestPlan)
		}
	}
	if err := p.repo.UpdateUserPlan(userID, userPlan); err != nil {
		return fmt.Errorf("user plan update failed: %w", err)
	}
	return nil
}

func (p *WebhookProcessor) findExisting(gateway string, result *WebhookResult) *models.Subscription {
	if strings.TrimSpace(result.SubscriptionID) == "" {
		return nil
	}
	sub, err := p.repo.FindSubscriptionByGatewayTxn(gateway, result.SubscriptionID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("webhook %s: existing subscription lookup failed: %v", gateway, err)
		}
		return nil
	}
	return sub
}

func (p *WebhookProcessor) resolveUser(result *WebhookResult, existing *models.Subscription) (uint, error) {
	email := strings.ToLower(strings.TrimSpace(result.UserEmail))
	if email != "" {
		user, err := p.repo.EnsureUserByEmail(email, result.UserName)
		if err != nil {
			return 0, fmt.Errorf("user resolution failed: %w", err)
		}
		return user.ID, nil
	}
	if existing != nil {
		return existing.UserID, nil
	}
	return 0, errNoLocalAccount
}

// notify dispatches the best-effort email. Its failure is logged and never
// reaches the webhook response.
func (p *WebhookProcessor) notify(gateway string, result *WebhookResult) {
	if p.notifier == nil || strings.TrimSpace(result.UserEmail) == "" {
		return
	}
	recipient := result.UserEmail

	switch result.Event {
	case EventCheckoutCompleted, EventSubscriptionCreated:
		details := mail.ConfirmationDetails{
			Plan:         result.Plan,
			BillingCycle: normalizeCycle(result.BillingCycle),
			Amount:       result.Amount,
			Currency:     result.Currency,
			Gateway:      gateway,
		}
		mail.DispatchAsync("subscription-confirmation", func() error {
			return p.notifier.SendSubscriptionConfirmation(recipient, details)
		})
	case EventSubscriptionCanceled, EventPaymentRefunded:
		details := mail.CancellationDetails{
			Plan:      result.Plan,
			Immediate: result.Event == EventPaymentRefunded,
		}
		mail.DispatchAsync("subscription-canceled", func() error {
			return p.notifier.SendSubscriptionCanceled(recipient, details)
		})
	}
}
