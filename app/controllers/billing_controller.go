package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/draftdeck/draftdeck/app/models"
	"github.com/draftdeck/draftdeck/internal/pkg/billing"
	"github.com/draftdeck/draftdeck/internal/pkg/entitlements"
	"github.com/draftdeck/draftdeck/internal/pkg/usercontext"
)

// Billing wiring shared by the billing and webhook handlers, set once at
// startup from main.
var (
	webhookProcessor *billing.WebhookProcessor
	gatewayRegistry  *billing.Registry
	billingRepo      billing.Repository
	priceResolver    *billing.PriceResolver
)

// SetupBilling injects the billing engine into the controller package.
func SetupBilling(processor *billing.WebhookProcessor, registry *billing.Registry, repo billing.Repository, prices *billing.PriceResolver) {
	webhookProcessor = processor
	gatewayRegistry = registry
	billingRepo = repo
	priceResolver = prices
}

func gatewayFromRequest(c *fiber.Ctx, name string) (billing.Gateway, error) {
	gw, err := gatewayRegistry.Get(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown gateway"})
	}
	if !gw.IsConfigured() {
		return nil, c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "not_configured", "message": "Gateway is not configured"})
	}
	return gw, nil
}

// HandleListGateways returns the registered gateways and whether each one is
// ready to take traffic.
func HandleListGateways(c *fiber.Ctx) error {
	type gatewayInfo struct {
		Name       string `json:"name"`
		Configured bool   `json:"configured"`
	}
	gateways := make([]gatewayInfo, 0, 4)
	for _, name := range gatewayRegistry.Names() {
		gw, err := gatewayRegistry.Get(name)
		if err != nil {
			continue
		}
		gateways = append(gateways, gatewayInfo{Name: name, Configured: gw.IsConfigured()})
	}
	return c.JSON(fiber.Map{"gateways": gateways})
}

// HandleCreateCheckout starts a provider-hosted checkout for the
// authenticated user.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var body struct {
		Gateway      string `json:"gateway"`
		Plan         string `json:"plan"`
		BillingCycle string `json:"billing_cycle"`
		SuccessURL   string `json:"success_url"`
		CancelURL    string `json:"cancel_url"`
		Locale       string `json:"locale"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed JSON body"})
	}

	gw, err := gatewayFromRequest(c, body.Gateway)
	if err != nil {
		return err
	}

	req := billing.CheckoutRequest{
		Plan:         strings.ToLower(strings.TrimSpace(body.Plan)),
		BillingCycle: strings.ToLower(strings.TrimSpace(body.BillingCycle)),
		UserID:       userCtx.UserID,
		UserEmail:    userCtx.Email,
		UserName:     userCtx.Username,
		SuccessURL:   body.SuccessURL,
		CancelURL:    body.CancelURL,
		Locale:       body.Locale,
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	session, err := gw.CreateCheckoutSession(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, billing.ErrPriceNotConfigured) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "price_not_configured", "message": "No price is configured for this plan and cycle"})
		}
		log.Errorf("checkout via %s failed for user %d: %v", gw.Name(), userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_error", "message": "Checkout session could not be created"})
	}

	return c.JSON(session)
}

// HandleGetSubscription returns the caller's subscription on one gateway.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	gw, err := gatewayFromRequest(c, c.Query("gateway"))
	if err != nil {
		return err
	}

	id := strings.TrimSpace(c.Query("subscription_id"))
	if id == "" {
		id = userIDString(userCtx.UserID)
	}

	sub, err := gw.GetSubscription(c.UserContext(), id)
	if err != nil {
		log.Errorf("subscription lookup via %s failed: %v", gw.Name(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Subscription lookup failed"})
	}
	if sub == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No subscription found"})
	}
	if sub.UserID != userCtx.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Subscription belongs to another user"})
	}

	docs, seats := entitlements.Limits(entitlements.NormalizePlan(sub.Plan))
	return c.JSON(fiber.Map{
		"subscription": sub,
		"limits":       fiber.Map{"documents": docs, "seats": seats},
	})
}

// HandleCancelSubscription cancels at period end by default; immediate=true
// cancels now and downgrades to free.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var body struct {
		Gateway        string `json:"gateway"`
		SubscriptionID string `json:"subscription_id"`
		Immediate      bool   `json:"immediate"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed JSON body"})
	}

	gw, err := gatewayFromRequest(c, body.Gateway)
	if err != nil {
		return err
	}

	sub, ferr := ownedSubscription(c, gw, userCtx.UserID, body.SubscriptionID)
	if ferr != nil {
		return ferr
	}

	if err := gw.CancelSubscription(c.UserContext(), sub.GatewayTransactionID, body.Immediate); err != nil {
		var cancelErr *billing.CancellationError
		if errors.As(err, &cancelErr) {
			log.Errorf("cancel via %s failed: %v", gw.Name(), cancelErr)
		} else {
			log.Errorf("cancel via %s failed: %v", gw.Name(), err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_error", "message": "Cancellation failed, no changes were made"})
	}

	return c.JSON(fiber.Map{"canceled": true, "immediate": body.Immediate})
}

// HandleChangePlan switches an existing subscription to another plan/cycle on
// gateways that support in-place updates.
func HandleChangePlan(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var body struct {
		Gateway        string `json:"gateway"`
		SubscriptionID string `json:"subscription_id"`
		Plan           string `json:"plan"`
		BillingCycle   string `json:"billing_cycle"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed JSON body"})
	}

	gw, err := gatewayFromRequest(c, body.Gateway)
	if err != nil {
		return err
	}
	updater, ok := gw.(billing.SubscriptionUpdater)
	if !ok {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "not_supported", "message": "This gateway cannot change plans in place"})
	}

	sub, ferr := ownedSubscription(c, gw, userCtx.UserID, body.SubscriptionID)
	if ferr != nil {
		return ferr
	}

	if err := updater.UpdateSubscription(c.UserContext(), sub.GatewayTransactionID, strings.ToLower(body.Plan), strings.ToLower(body.BillingCycle)); err != nil {
		if errors.Is(err, billing.ErrPriceNotConfigured) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "price_not_configured", "message": "No price is configured for this plan and cycle"})
		}
		log.Errorf("plan change via %s failed: %v", gw.Name(), err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_error", "message": "Plan change failed"})
	}

	// The webhook confirming the change carries the authoritative state.
	return c.JSON(fiber.Map{"updated": true})
}

// HandlePauseSubscription pauses collection on gateways that support it.
func HandlePauseSubscription(c *fiber.Ctx) error {
	return handlePauseResume(c, true)
}

// HandleResumeSubscription resumes a paused subscription.
func HandleResumeSubscription(c *fiber.Ctx) error {
	return handlePauseResume(c, false)
}

func handlePauseResume(c *fiber.Ctx, pause bool) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var body struct {
		Gateway        string `json:"gateway"`
		SubscriptionID string `json:"subscription_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed JSON body"})
	}

	gw, err := gatewayFromRequest(c, body.Gateway)
	if err != nil {
		return err
	}
	pauser, ok := gw.(billing.SubscriptionPauser)
	if !ok {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "not_supported", "message": "This gateway cannot pause subscriptions"})
	}

	sub, ferr := ownedSubscription(c, gw, userCtx.UserID, body.SubscriptionID)
	if ferr != nil {
		return ferr
	}

	var aerr error
	if pause {
		aerr = pauser.PauseSubscription(c.UserContext(), sub.GatewayTransactionID)
	} else {
		aerr = pauser.ResumeSubscription(c.UserContext(), sub.GatewayTransactionID)
	}
	if aerr != nil {
		log.Errorf("pause/resume via %s failed: %v", gw.Name(), aerr)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_error", "message": "Operation failed"})
	}
	return c.JSON(fiber.Map{"paused": pause})
}

// HandleBillingPortal returns a provider-hosted billing management URL.
func HandleBillingPortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	gw, err := gatewayFromRequest(c, c.Query("gateway"))
	if err != nil {
		return err
	}
	provider, ok := gw.(billing.PortalURLProvider)
	if !ok {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "not_supported", "message": "This gateway has no customer portal"})
	}

	// Stripe portals are keyed by customer, Lemon Squeezy's by subscription.
	ref := strings.TrimSpace(c.Query("subscription_id"))
	if ref == "" {
		customer, cerr := billingRepo.FindCustomerByGatewayAndEmail(gw.Name(), strings.ToLower(userCtx.Email))
		if cerr != nil {
			if errors.Is(cerr, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No billing profile on this gateway"})
			}
			log.Errorf("portal customer lookup failed: %v", cerr)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing profile lookup failed"})
		}
		ref = customer.CustomerID
	}

	url, perr := provider.GetCustomerPortalURL(c.UserContext(), ref)
	if perr != nil {
		log.Errorf("portal url via %s failed: %v", gw.Name(), perr)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_error", "message": "Portal URL could not be created"})
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleRefreshPrices drops the cached price mappings so edits take effect
// without waiting for the TTL.
func HandleRefreshPrices(c *fiber.Ctx) error {
	priceResolver.Refresh(gatewayRegistry.Names())
	return c.JSON(fiber.Map{"refreshed": true})
}

// ownedSubscription resolves a subscription reference and enforces that it
// belongs to the caller. An empty reference falls back to the caller's
// current subscription on that gateway.
func ownedSubscription(c *fiber.Ctx, gw billing.Gateway, userID uint, subscriptionID string) (*models.Subscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		id = userIDString(userID)
	}

	sub, err := gw.GetSubscription(c.UserContext(), id)
	if err != nil {
		log.Errorf("subscription lookup via %s failed: %v", gw.Name(), err)
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Subscription lookup failed"})
	}
	if sub == nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No subscription found"})
	}
	if sub.UserID != userID {
		return nil, c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Subscription belongs to another user"})
	}
	return sub, nil
}

func userIDString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
