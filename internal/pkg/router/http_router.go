package router

import (
	"github.com/draftdeck/draftdeck/app/controllers"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Provider callbacks. No auth middleware here: each gateway verifies its
	// own signature before anything is trusted.
	app.Post("/webhooks/:gateway", controllers.HandleGatewayWebhook)

	app.Get("/healthz", controllers.HandleHealth)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
