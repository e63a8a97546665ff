package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/draftdeck/draftdeck/app/controllers"
	"github.com/draftdeck/draftdeck/internal/pkg/billing"
	"github.com/draftdeck/draftdeck/internal/pkg/cache"
	"github.com/draftdeck/draftdeck/internal/pkg/database"
	"github.com/draftdeck/draftdeck/internal/pkg/env"
	"github.com/draftdeck/draftdeck/internal/pkg/mail"
	"github.com/draftdeck/draftdeck/internal/pkg/metrics/counter"
	"github.com/draftdeck/draftdeck/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repo := billing.NewRepository(database.GetDB())
	prices := billing.NewPriceResolver(repo, 5*time.Minute)
	registry := billing.NewRegistry(
		billing.NewStripeGateway(repo, prices),
		billing.NewLemonSqueezyGateway(repo, prices),
		billing.NewPaymobGateway(repo, prices),
		billing.NewFawryGateway(repo, prices),
	)
	processor := billing.NewWebhookProcessor(registry, repo, mail.NewSMTPNotifier())
	controllers.SetupBilling(processor, registry, repo, prices)

	startCounterFlusher()

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}

// startCounterFlusher periodically drains the Redis webhook counters into the
// webhook_stats table.
func startCounterFlusher() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if err := counter.FlushAll(); err != nil {
				log.Printf("webhook counter flush failed: %v", err)
			}
		}
	}()
}
