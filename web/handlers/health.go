package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cursewell/cursewell/web/utils"
)

// HealthCheck reports service health plus pool size counters.
func (w *WebApp) HealthCheck(c *fiber.Ctx) error {
	if err := w.App.DB.Ping(c.Context()); err != nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "UNHEALTHY",
			"Database unreachable", nil)
	}

	users, err := w.App.UserRepository.GetUserCount(c.Context())
	if err != nil {
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}
	curses, err := w.App.CurseRepository.GetCurseCount(c.Context())
	if err != nil {
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}

	return utils.SendSuccess(c, fiber.Map{
		"status":  "healthy",
		"version": w.App.Version,
		"commit":  w.App.Commit,
		"users":   users,
		"curses":  curses,
	}, "Health check successful")
}
