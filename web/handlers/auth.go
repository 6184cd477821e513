package handlers

import (
	"database/sql"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	webmodels "github.com/cursewell/cursewell/web/models"
	"github.com/cursewell/cursewell/web/utils"
)

// Login verifies credentials and issues a bearer token.
func (w *WebApp) Login(c *fiber.Ctx) error {
	var req webmodels.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendBadRequest(c, "Invalid request body", nil)
	}
	if req.Username == "" || req.Password == "" {
		return utils.SendBadRequest(c, "Missing 'username' or 'password' in request body", nil)
	}

	user, err := w.App.UserRepository.GetByUsername(c.Context(), req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return utils.SendBadRequest(c, "Incorrect username or password", nil)
		}
		slog.Error("Failed to look up user for login",
			slog.String("type", "db"),
			slog.String("username", req.Username),
			slog.Any("error", err))
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		return utils.SendBadRequest(c, "Incorrect username or password", nil)
	}

	session := &webmodels.UserSession{
		UserID:   user.ID,
		Username: user.Username,
		Admin:    user.Admin,
	}
	token, err := w.Auth.SignToken(session, w.App.Cfg.Auth.TokenTTL())
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to issue token")
	}

	return utils.SendSuccess(c, webmodels.TokenResponse{AuthToken: token}, "")
}

// Refresh re-issues a token for an already authenticated caller.
func (w *WebApp) Refresh(c *fiber.Ctx) error {
	session, ok := utils.ExtractUserSession(c)
	if !ok {
		return utils.SendUnauthorized(c, "Unauthorized request")
	}

	token, err := w.Auth.SignToken(session, w.App.Cfg.Auth.TokenTTL())
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to issue token")
	}
	return utils.SendSuccess(c, webmodels.TokenResponse{AuthToken: token}, "")
}
