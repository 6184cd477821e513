package cursewell

import (
	"context"

	"github.com/cursewell/cursewell/cursewell/database"
	"github.com/cursewell/cursewell/cursewell/database/repositories"
	"github.com/cursewell/cursewell/cursewell/pool"
	"github.com/cursewell/cursewell/cursewell/services"
)

func New(cfg Config, version string, commit string) *App {
	return &App{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// App wires the store, repositories, and the blessing engine together.
type App struct {
	Cfg     Config
	Version string
	Commit  string

	DB                 *database.DB
	UserRepository     repositories.UserRepository
	CurseRepository    repositories.CurseRepository
	BlessingRepository repositories.BlessingRepository

	Engine  *pool.Engine
	Sweeper *pool.Sweeper
	Archive *services.ArchiveService
}

// Setup connects to the database, initializes the schema, and builds the
// repositories and engine. The caller owns the context deadline.
func (a *App) Setup(ctx context.Context) error {
	db, err := database.New(ctx, a.Cfg.DB)
	if err != nil {
		return err
	}
	if err := db.InitializeSchema(ctx); err != nil {
		db.Close()
		return err
	}
	a.DB = db

	a.UserRepository = repositories.NewUserRepository(db.BunDB())
	a.CurseRepository = repositories.NewCurseRepository(db.BunDB())
	a.BlessingRepository = repositories.NewBlessingRepository(db.BunDB())

	a.Engine = pool.NewEngine(db.BunDB(), a.UserRepository, a.CurseRepository, a.Cfg.Pool.EngineConfig())
	a.Sweeper = pool.NewSweeper(a.CurseRepository, a.Cfg.Pool.SweepConfig())

	if a.Cfg.Archive.Enabled {
		a.Archive = services.NewArchiveService(
			a.Cfg.Archive.Key,
			a.Cfg.Archive.Secret,
			a.Cfg.Archive.Region,
			a.Cfg.Archive.Bucket,
			a.Cfg.Archive.Prefix,
			a.CurseRepository,
		)
	}
	return nil
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
