package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/draftdeck/draftdeck/app/models"
	"github.com/draftdeck/draftdeck/internal/pkg/billing"
	"github.com/draftdeck/draftdeck/internal/pkg/metrics/counter"
)

// HandleGatewayWebhook receives provider callbacks on /webhooks/:gateway.
// The response code is the retry contract: 2xx acknowledges (including
// duplicates and ignored events), 4xx rejects permanently, 5xx asks the
// provider to redeliver.
func HandleGatewayWebhook(c *fiber.Ctx) error {
	gateway := strings.ToLower(strings.TrimSpace(c.Params("gateway")))
	payload := c.Body()
	signature := extractWebhookSignature(c, gateway)

	if err := counter.AddWebhookReceived(gateway); err != nil {
		log.Warnf("webhook counter increment failed: %v", err)
	}

	resp, err := webhookProcessor.Process(c.UserContext(), gateway, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownGateway):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown gateway"})
		case errors.Is(err, billing.ErrInvalidSignature):
			if cerr := counter.AddWebhookInvalidSignature(gateway); cerr != nil {
				log.Warnf("webhook counter increment failed: %v", cerr)
			}
			log.Warnf("webhook %s: signature verification failed", gateway)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": "Signature verification failed"})
		case errors.Is(err, billing.ErrNotConfigured):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "not_configured", "message": "Gateway is not configured"})
		default:
			if cerr := counter.AddWebhookFailed(gateway); cerr != nil {
				log.Warnf("webhook counter increment failed: %v", cerr)
			}
			log.Errorf("webhook %s: processing failed: %v", gateway, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing failed"})
		}
	}

	if resp.Status == "duplicate" {
		if cerr := counter.AddWebhookDuplicate(gateway); cerr != nil {
			log.Warnf("webhook counter increment failed: %v", cerr)
		}
	}

	return c.JSON(resp)
}

// extractWebhookSignature pulls the signature from wherever the provider
// transports it: Stripe and Lemon Squeezy use headers, Paymob a query
// parameter, Fawry embeds it in the body.
func extractWebhookSignature(c *fiber.Ctx, gateway string) string {
	switch gateway {
	case models.GatewayStripe:
		return c.Get("Stripe-Signature")
	case models.GatewayLemonSqueezy:
		return c.Get("X-Signature")
	case models.GatewayPaymob:
		return c.Query("hmac")
	default:
		return ""
	}
}
