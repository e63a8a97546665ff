package router

import (
	"github.com/draftdeck/draftdeck/app/controllers"
	"github.com/draftdeck/draftdeck/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	billing := v1.Group("/billing", middleware.APIKeyAuthMiddleware())
	billing.Get("/gateways", controllers.HandleListGateways)
	billing.Post("/checkout", controllers.HandleCreateCheckout)
	billing.Get("/subscription", controllers.HandleGetSubscription)
	billing.Post("/cancel", controllers.HandleCancelSubscription)
	billing.Post("/change-plan", controllers.HandleChangePlan)
	billing.Post("/pause", controllers.HandlePauseSubscription)
	billing.Post("/resume", controllers.HandleResumeSubscription)
	billing.Get("/portal", controllers.HandleBillingPortal)

	admin := v1.Group("/admin", middleware.AdminTokenMiddleware())
	admin.Post("/billing/prices/refresh", controllers.HandleRefreshPrices)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
