package handlers

import (
	"github.com/gofiber/fiber/v2"

	webmodels "github.com/cursewell/cursewell/web/models"
	"github.com/cursewell/cursewell/web/utils"
)

// ListBlessings returns the catalog of blessing types.
func (w *WebApp) ListBlessings(c *fiber.Ctx) error {
	blessings, err := w.App.BlessingRepository.GetAll(c.Context())
	if err != nil {
		return utils.SendInternalServerError(c, "Something went wrong. Please try again later.")
	}

	resp := make([]webmodels.BlessingResponse, 0, len(blessings))
	for _, b := range blessings {
		resp = append(resp, webmodels.BlessingResponse{
			BlessingID:  b.ID,
			Name:        b.Name,
			Description: b.Description,
		})
	}
	return utils.SendSuccess(c, resp, "")
}
