package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/cursewell/cursewell/cursewell"
	"github.com/cursewell/cursewell/cursewell/pool"
	"github.com/cursewell/cursewell/cursewell/database/models"
	"github.com/cursewell/cursewell/web/middleware"
	webmodels "github.com/cursewell/cursewell/web/models"
	"github.com/cursewell/cursewell/web/utils"
)

// WebApp bundles the engine and auth state the handlers need.
type WebApp struct {
	App  *cursewell.App
	Auth *middleware.Auth
}

func NewWebApp(app *cursewell.App) *WebApp {
	return &WebApp{
		App:  app,
		Auth: middleware.NewAuth(app.Cfg.Auth.Secret),
	}
}

// SetupRoutes registers all API routes.
func (w *WebApp) SetupRoutes(f *fiber.App) {
	api := f.Group("/api")

	api.Get("/health", w.HealthCheck)

	auth := api.Group("/auth", middleware.AuthRateLimit())
	auth.Post("/login", w.Login)
	auth.Put("/refresh", w.Auth.Required(), w.Refresh)

	users := api.Group("/users")
	users.Post("/", middleware.AuthRateLimit(), w.Register)
	users.Get("/", w.Auth.Required(), w.Profile)
	users.Patch("/", w.Auth.Required(), w.Block)

	curses := api.Group("/curses", middleware.APIRateLimit())
	curses.Get("/", w.Auth.Required(), w.PullCurse)
	curses.Post("/", w.Auth.Optional(), w.PostCurse)
	curses.Patch("/", w.Auth.Required(), w.BlessCurse)
	curses.Delete("/", w.Auth.Required(), w.DeleteCurse)

	api.Get("/blessings", w.ListBlessings)

	admin := api.Group("/admin", w.Auth.Required(), middleware.AdminRequired())
	admin.Post("/sweep", w.Sweep)
	admin.Post("/archive", w.ExportArchive)
}

// sendEngineError maps the engine's error taxonomy onto HTTP responses.
func sendEngineError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pool.ErrCurseNotFound):
		return utils.SendNotFound(c, "Curse does not exist")
	case errors.Is(err, pool.ErrUserNotFound):
		return utils.SendNotFound(c, "User does not exist")
	case errors.Is(err, pool.ErrForbidden):
		return utils.SendForbidden(c, "User is not the owner of provided curse")
	case errors.Is(err, pool.ErrAllowanceExhausted):
		return utils.SendForbidden(c, "You're out of blessings")
	case errors.Is(err, pool.ErrAlreadyBlessed):
		return utils.SendConflict(c, "Curse has already been blessed", nil)
	case errors.Is(err, pool.ErrAnonymousCurse):
		return utils.SendBadRequest(c, "Cannot block an anonymous curse", nil)
	default:
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}
}

func curseResponse(curse *models.Curse) webmodels.CurseResponse {
	resp := webmodels.CurseResponse{
		CurseID:  curse.ID,
		Curse:    curse.Curse,
		UserID:   curse.UserID,
		Blessed:  curse.Blessed,
		Blessing: curse.Blessing,
		PulledBy: curse.PulledBy,
	}
	if curse.PulledBy != nil || curse.Blessed {
		t := curse.PulledTime
		resp.PulledTime = &t
	}
	return resp
}
