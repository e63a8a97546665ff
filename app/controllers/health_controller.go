package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/draftdeck/draftdeck/internal/pkg/database"
)

// HandleHealth reports process and database liveness.
func HandleHealth(c *fiber.Ctx) error {
	dbState := "ok"
	if db := database.GetDB(); db == nil {
		dbState = "unavailable"
	} else if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
		dbState = "unreachable"
	}

	status := fiber.StatusOK
	if dbState != "ok" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"status": dbState})
}
