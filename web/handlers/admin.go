package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	webmodels "github.com/cursewell/cursewell/web/models"
	"github.com/cursewell/cursewell/web/utils"
)

// Sweep runs a reclamation pass on demand and reports what it changed.
func (w *WebApp) Sweep(c *fiber.Ctx) error {
	stats, err := w.App.Sweeper.Sweep(c.Context(), time.Now())
	if err != nil {
		slog.Error("On-demand sweep failed",
			slog.String("type", "db"),
			slog.Any("error", err))
		return utils.SendInternalServerError(c, "Sweep failed")
	}

	return utils.SendSuccess(c, webmodels.SweepResponse{
		AnonymousDeleted: stats.AnonymousDeleted,
		OwnedResolved:    stats.OwnedResolved,
	}, "")
}

// ExportArchive snapshots all blessed curses to object storage.
func (w *WebApp) ExportArchive(c *fiber.Ctx) error {
	if w.App.Archive == nil {
		return utils.SendNotFound(c, "Archive export is not configured")
	}

	key, count, err := w.App.Archive.ExportBlessed(c.Context())
	if err != nil {
		slog.Error("Archive export failed",
			slog.String("type", "sys"),
			slog.Any("error", err))
		return utils.SendInternalServerError(c, "Archive export failed")
	}

	return utils.SendSuccess(c, webmodels.ArchiveResponse{
		Key:    key,
		Curses: count,
	}, "")
}
