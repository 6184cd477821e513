package handlers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilm/fuzzy"
	"golang.org/x/crypto/bcrypt"

	"github.com/cursewell/cursewell/cursewell/database/models"
	webmodels "github.com/cursewell/cursewell/web/models"
	"github.com/cursewell/cursewell/web/utils"
)

const bcryptCost = 12

// Register creates a new user account.
func (w *WebApp) Register(c *fiber.Ctx) error {
	var req webmodels.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendBadRequest(c, "Invalid request body", nil)
	}

	fields := map[string]string{
		"name":     req.Name,
		"username": req.Username,
		"password": req.Password,
	}
	for _, field := range []string{"name", "username", "password"} {
		if fields[field] == "" {
			return utils.SendBadRequest(c, fmt.Sprintf("Missing '%s' in request body", field), nil)
		}
	}

	if msg := utils.ValidatePassword(req.Password); msg != "" {
		return utils.SendBadRequest(c, msg, nil)
	}

	taken, err := w.App.UserRepository.HasUsername(c.Context(), req.Username)
	if err != nil {
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}
	if taken {
		return utils.SendBadRequest(c, "Username already taken", nil)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}

	user := &models.User{
		Username: req.Username,
		Name:     req.Name,
		Password: string(hashed),
		Limiter:  models.AllowanceCeiling,
	}
	if err := w.App.UserRepository.Create(c.Context(), user); err != nil {
		slog.Error("Failed to create user",
			slog.String("type", "db"),
			slog.String("username", req.Username),
			slog.Any("error", err))
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}

	return utils.SendCreated(c, fiber.Map{
		"id":       user.ID,
		"name":     user.Name,
		"username": user.Username,
	}, "")
}

// Profile returns the caller's audit fields and their blessed curses.
// Stale curses are auto-resolved first, so an owner never waits
// indefinitely on an abandoned claim.
func (w *WebApp) Profile(c *fiber.Ctx) error {
	session, ok := utils.ExtractUserSession(c)
	if !ok {
		return utils.SendUnauthorized(c, "Unauthorized request")
	}

	if _, err := w.App.Sweeper.ResolveStale(c.Context(), session.UserID, time.Now()); err != nil {
		slog.Error("Failed to resolve stale curses",
			slog.String("type", "db"),
			slog.Int64("user_id", session.UserID),
			slog.Any("error", err))
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}

	user, err := w.App.UserRepository.GetByID(c.Context(), session.UserID)
	if err != nil {
		return utils.SendNotFound(c, "User does not exist")
	}

	blessed, err := w.App.Engine.BlessedCurses(c.Context(), session.UserID)
	if err != nil {
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}

	if q := c.Query("q"); q != "" {
		blessed = filterCurses(blessed, q)
	}

	curses := make([]webmodels.BlessedCurseResponse, 0, len(blessed))
	for _, curse := range blessed {
		blessing := models.DefaultBlessingID
		if curse.Blessing != nil {
			blessing = *curse.Blessing
		}
		curses = append(curses, webmodels.BlessedCurseResponse{
			CurseID:  curse.ID,
			Curse:    curse.Curse,
			Blessing: blessing,
		})
	}

	return utils.SendSuccess(c, webmodels.ProfileResponse{
		User: webmodels.ProfileUser{
			Name:           user.Name,
			Username:       user.Username,
			TotalBlessings: user.TotalBlessings,
			LastBlessing:   user.LastBlessing,
			Limiter:        user.Limiter,
		},
		BlessedCurses: curses,
	}, "")
}

// filterCurses narrows a curse list by fuzzy-matching the query against the
// curse text, best matches first.
func filterCurses(curses []*models.Curse, query string) []*models.Curse {
	texts := make([]string, len(curses))
	for i, curse := range curses {
		texts[i] = curse.Curse
	}

	matches := fuzzy.Find(query, texts)
	filtered := make([]*models.Curse, 0, len(matches))
	for _, m := range matches {
		filtered = append(filtered, curses[m.Index])
	}
	return filtered
}

// Block appends the author of the given curse to the caller's blocklist.
func (w *WebApp) Block(c *fiber.Ctx) error {
	session, ok := utils.ExtractUserSession(c)
	if !ok {
		return utils.SendUnauthorized(c, "Unauthorized request")
	}

	var req webmodels.BlockRequest
	if err := c.BodyParser(&req); err != nil || req.CurseID == 0 {
		return utils.SendBadRequest(c, "no 'curse_id' found in body", nil)
	}

	blockedID, err := w.App.Engine.BlockAuthor(c.Context(), session.UserID, req.CurseID)
	if err != nil {
		return sendEngineError(c, err)
	}

	return utils.SendAccepted(c, nil, fmt.Sprintf("User %d added to the blocklist", blockedID))
}
