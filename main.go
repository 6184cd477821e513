package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/cursewell/cursewell/cursewell"
	"github.com/cursewell/cursewell/cursewell/logger"
	"github.com/cursewell/cursewell/web/handlers"
	"github.com/cursewell/cursewell/web/middleware"
	"github.com/cursewell/cursewell/web/models"
	"github.com/cursewell/cursewell/web/utils"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := cursewell.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler("CURSEWELL", cfg.Log.Level)))
	slog.Info("Starting Cursewell",
		slog.String("type", "sys"),
		slog.String("version", version),
		slog.String("commit", commit))

	setupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app := cursewell.New(*cfg, version, commit)
	if err := app.Setup(setupCtx); err != nil {
		slog.Error("Failed to set up application", slog.Any("error", err))
		os.Exit(-1)
	}
	defer app.Close()

	f := fiber.New(fiber.Config{
		AppName:               "Cursewell " + version,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := http.StatusInternalServerError
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			}
			return utils.SendJSON(c, code, models.NewErrorResponse("INTERNAL_ERROR", err.Error(), nil))
		},
	})
	f.Use(recover.New())
	f.Use(middleware.SecurityHeaders())
	f.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	allowOrigins := cfg.Server.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "*"
	}
	f.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	f.Use(middleware.LoggingMiddleware())

	web := handlers.NewWebApp(app)
	web.SetupRoutes(f)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Listening",
			slog.String("type", "sys"),
			slog.String("addr", cfg.Server.Addr()))
		return f.Listen(cfg.Server.Addr())
	})
	g.Go(func() error {
		return app.Sweeper.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down", slog.String("type", "sys"))
		return f.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Shutdown with error", slog.Any("error", err))
		os.Exit(1)
	}
}
