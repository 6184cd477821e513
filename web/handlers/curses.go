package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cursewell/cursewell/cursewell/pool"
	webmodels "github.com/cursewell/cursewell/web/models"
	"github.com/cursewell/cursewell/web/utils"
)

// PullCurse hands the caller one curse. A caller who already holds an
// unblessed curse gets that same curse back, so retried pulls never pile
// up claims.
func (w *WebApp) PullCurse(c *fiber.Ctx) error {
	session, ok := utils.ExtractUserSession(c)
	if !ok {
		return utils.SendUnauthorized(c, "Unauthorized request")
	}

	held, err := w.App.Engine.Held(c.Context(), session.UserID)
	if err == nil {
		return utils.SendSuccess(c, curseResponse(held), "")
	}
	if !errors.Is(err, pool.ErrNothingAvailable) {
		return sendEngineError(c, err)
	}

	curse, err := w.App.Engine.Pull(c.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, pool.ErrNothingAvailable) {
			return utils.SendSuccess(c, nil, "No available curses")
		}
		return sendEngineError(c, err)
	}

	return utils.SendSuccess(c, curseResponse(curse), "")
}

// PostCurse adds a curse to the pool. Authentication is optional; an
// unauthenticated post is anonymous.
func (w *WebApp) PostCurse(c *fiber.Ctx) error {
	var req webmodels.PostCurseRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendBadRequest(c, "Invalid request body", nil)
	}

	if msg := utils.ValidateCurseText(req.Curse); msg != "" {
		return utils.SendBadRequest(c, msg, nil)
	}

	var userID *int64
	message := "Curse sent anonymously"
	if session, ok := utils.ExtractUserSession(c); ok {
		userID = &session.UserID
		message = fmt.Sprintf("Curse sent as '%s'", session.Username)
	}

	curse, err := w.App.Engine.Post(c.Context(), req.Curse, userID)
	if err != nil {
		slog.Error("Failed to post curse",
			slog.String("type", "db"),
			slog.Any("error", err))
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}

	return utils.SendCreated(c, curseResponse(curse), message)
}

// BlessCurse resolves a curse with a blessing, spending one unit of the
// caller's allowance.
func (w *WebApp) BlessCurse(c *fiber.Ctx) error {
	session, ok := utils.ExtractUserSession(c)
	if !ok {
		return utils.SendUnauthorized(c, "Unauthorized request")
	}

	var req webmodels.BlessRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendBadRequest(c, "Invalid request body", nil)
	}
	if req.CurseID == 0 {
		return utils.SendBadRequest(c, "Missing 'curse_id' in request body", nil)
	}
	if req.BlessingID != 0 {
		known, err := w.App.BlessingRepository.Exists(c.Context(), req.BlessingID)
		if err != nil {
			return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
		}
		if !known {
			return utils.SendBadRequest(c, "Unknown blessing", nil)
		}
	}

	curse, _, err := w.App.Engine.Bless(c.Context(), session.UserID, req.CurseID, req.BlessingID, time.Now())
	if err != nil {
		return sendEngineError(c, err)
	}

	return utils.SendAccepted(c, curseResponse(curse),
		fmt.Sprintf("Curse blessed with blessing %d!", *curse.Blessing))
}

// DeleteCurse removes one of the caller's own curses from the pool.
func (w *WebApp) DeleteCurse(c *fiber.Ctx) error {
	session, ok := utils.ExtractUserSession(c)
	if !ok {
		return utils.SendUnauthorized(c, "Unauthorized request")
	}

	var req webmodels.DeleteCurseRequest
	if err := c.BodyParser(&req); err != nil || req.CurseID == 0 {
		return utils.SendBadRequest(c, "body does not contain curse_id for deletion", nil)
	}

	deleted, err := w.App.Engine.Delete(c.Context(), session.UserID, req.CurseID)
	if err != nil {
		return sendEngineError(c, err)
	}

	return utils.SendSuccess(c, curseResponse(deleted), "Curse deleted")
}
