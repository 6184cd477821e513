package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/cursewell/cursewell/cursewell"
	"github.com/cursewell/cursewell/cursewell/database"
	"github.com/cursewell/cursewell/cursewell/logger"
	"github.com/cursewell/cursewell/cursewell/migration"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config")
	dataDir := flag.String("data", "data", "directory holding the legacy users.bson and curses.bson export")
	batchSize := flag.Int("batch", 0, "insert batch size override")
	flag.Parse()

	cfg, err := cursewell.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(slog.New(logger.NewHandler("MIGRATE", cfg.Log.Level)))

	ctx := context.Background()
	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize schema", slog.Any("error", err))
		os.Exit(1)
	}

	migrator := migration.NewMigrator(db.BunDB(), *dataDir)
	migrator.SetBatchSize(*batchSize)

	if err := migrator.MigrateAll(ctx); err != nil {
		slog.Error("Migration failed", slog.Any("error", err))
		os.Exit(1)
	}
}
