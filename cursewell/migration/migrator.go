package migration

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/cursewell/cursewell/cursewell/database/models"
)

// Migrator imports the legacy MongoDB export (raw .bson collection dumps)
// into Postgres. The export is read from files, never from a live server.
type Migrator struct {
	db         *bun.DB
	usersPath  string
	cursesPath string
	batchSize  int

	stats Stats
}

// Stats accumulates what a run imported and skipped.
type Stats struct {
	UsersImported  int
	UsersSkipped   int
	CursesImported int
	CursesSkipped  int
	StartTime      time.Time
}

func NewMigrator(db *bun.DB, dataDir string) *Migrator {
	return &Migrator{
		db:         db,
		usersPath:  filepath.Join(dataDir, "users.bson"),
		cursesPath: filepath.Join(dataDir, "curses.bson"),
		batchSize:  500,
		stats:      Stats{StartTime: time.Now()},
	}
}

// SetBatchSize overrides the default insert batch size.
func (m *Migrator) SetBatchSize(size int) {
	if size > 0 {
		m.batchSize = size
	}
}

func (m *Migrator) Stats() Stats { return m.stats }

// MongoUser is the shape of a document in the legacy users collection.
type MongoUser struct {
	ID             primitive.ObjectID `bson:"_id"`
	Name           string             `bson:"name"`
	Username       string             `bson:"username"`
	Password       string             `bson:"password"`
	TotalBlessings int64              `bson:"totalblessings"`
	LastBlessing   *time.Time         `bson:"lastblessing"`
	Limiter        *int               `bson:"limiter"`
	Blocklist      []string           `bson:"blocklist"`
	Admin          bool               `bson:"admin"`
}

// MongoCurse is the shape of a document in the legacy curses collection.
type MongoCurse struct {
	ID         primitive.ObjectID `bson:"_id"`
	Curse      string             `bson:"curse"`
	Username   *string            `bson:"user"`
	Blessed    bool               `bson:"blessed"`
	Blessing   *int               `bson:"blessing"`
	PulledBy   *string            `bson:"pulled_by"`
	PulledTime *time.Time         `bson:"pulled_time"`
}

// MigrateAll imports users first, then curses, so curse author references
// can be resolved against the freshly assigned user ids.
func (m *Migrator) MigrateAll(ctx context.Context) error {
	userIDs, err := m.migrateUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate users: %w", err)
	}
	if err := m.migrateCurses(ctx, userIDs); err != nil {
		return fmt.Errorf("failed to migrate curses: %w", err)
	}

	slog.Info("Migration finished",
		slog.String("type", "sys"),
		slog.Int("users_imported", m.stats.UsersImported),
		slog.Int("users_skipped", m.stats.UsersSkipped),
		slog.Int("curses_imported", m.stats.CursesImported),
		slog.Int("curses_skipped", m.stats.CursesSkipped),
		slog.Duration("elapsed", time.Since(m.stats.StartTime)))
	return nil
}

func (m *Migrator) migrateUsers(ctx context.Context) (map[string]int64, error) {
	var mongoUsers []MongoUser
	err := readBSONFile(m.usersPath, func(doc []byte) error {
		var mu MongoUser
		if err := bson.Unmarshal(doc, &mu); err != nil {
			return fmt.Errorf("failed to decode user document: %w", err)
		}
		mongoUsers = append(mongoUsers, mu)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Loaded users from BSON export",
		slog.String("type", "sys"),
		slog.Int("count", len(mongoUsers)))

	// Deduplicate on username, keeping the latest record.
	byUsername := make(map[string]*models.User, len(mongoUsers))
	order := make([]string, 0, len(mongoUsers))
	for _, mu := range mongoUsers {
		if mu.Username == "" {
			m.stats.UsersSkipped++
			continue
		}
		if _, exists := byUsername[mu.Username]; exists {
			m.stats.UsersSkipped++
		} else {
			order = append(order, mu.Username)
		}
		byUsername[mu.Username] = m.convertUser(mu)
	}

	users := make([]*models.User, 0, len(order))
	for _, username := range order {
		users = append(users, byUsername[username])
	}

	userIDs := make(map[string]int64, len(users))
	for start := 0; start < len(users); start += m.batchSize {
		end := start + m.batchSize
		if end > len(users) {
			end = len(users)
		}
		batch := users[start:end]

		_, err := m.db.NewInsert().
			Model(&batch).
			On("CONFLICT (username) DO NOTHING").
			Returning("user_id").
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to insert users %d-%d: %w", start, end, err)
		}
		for _, u := range batch {
			if u.ID != 0 {
				userIDs[u.Username] = u.ID
				m.stats.UsersImported++
			} else {
				m.stats.UsersSkipped++
			}
		}
		slog.Info("Imported user batch",
			slog.String("type", "db"),
			slog.Int("done", end),
			slog.Int("total", len(users)))
	}

	// Blocklists reference usernames in the export but user ids here, so
	// they can only be rebuilt after every user has an id.
	for _, mu := range mongoUsers {
		if len(mu.Blocklist) == 0 {
			continue
		}
		uid, ok := userIDs[mu.Username]
		if !ok {
			continue
		}
		blocked := make([]int64, 0, len(mu.Blocklist))
		for _, username := range mu.Blocklist {
			if bid, ok := userIDs[username]; ok {
				blocked = append(blocked, bid)
			}
		}
		if len(blocked) == 0 {
			continue
		}
		_, err := m.db.NewUpdate().
			Model((*models.User)(nil)).
			Set("blocklist = ?", blocked).
			Where("user_id = ?", uid).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to restore blocklist for %s: %w", mu.Username, err)
		}
	}

	return userIDs, nil
}

func (m *Migrator) migrateCurses(ctx context.Context, userIDs map[string]int64) error {
	var curses []*models.Curse
	err := readBSONFile(m.cursesPath, func(doc []byte) error {
		var mc MongoCurse
		if err := bson.Unmarshal(doc, &mc); err != nil {
			return fmt.Errorf("failed to decode curse document: %w", err)
		}
		curse, ok := m.convertCurse(mc, userIDs)
		if !ok {
			m.stats.CursesSkipped++
			return nil
		}
		curses = append(curses, curse)
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("Loaded curses from BSON export",
		slog.String("type", "sys"),
		slog.Int("count", len(curses)))

	for start := 0; start < len(curses); start += m.batchSize {
		end := start + m.batchSize
		if end > len(curses) {
			end = len(curses)
		}
		batch := curses[start:end]

		if _, err := m.db.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert curses %d-%d: %w", start, end, err)
		}
		m.stats.CursesImported += len(batch)
		slog.Info("Imported curse batch",
			slog.String("type", "db"),
			slog.Int("done", end),
			slog.Int("total", len(curses)))
	}
	return nil
}

func (m *Migrator) convertUser(mu MongoUser) *models.User {
	limiter := models.AllowanceCeiling
	if mu.Limiter != nil && *mu.Limiter >= 0 && *mu.Limiter <= models.AllowanceCeiling {
		limiter = *mu.Limiter
	}

	password := mu.Password
	if password == "" {
		// Legacy accounts with no stored hash get an unusable password and
		// must go through a reset.
		hashed, err := bcrypt.GenerateFromPassword([]byte(mu.ID.Hex()), bcrypt.DefaultCost)
		if err == nil {
			password = string(hashed)
		}
	}

	return &models.User{
		Name:           mu.Name,
		Username:       mu.Username,
		Password:       password,
		TotalBlessings: mu.TotalBlessings,
		LastBlessing:   mu.LastBlessing,
		Limiter:        limiter,
		Admin:          mu.Admin,
		CreatedAt:      mu.ID.Timestamp(),
		UpdatedAt:      time.Now(),
	}
}

func (m *Migrator) convertCurse(mc MongoCurse, userIDs map[string]int64) (*models.Curse, bool) {
	if mc.Curse == "" {
		return nil, false
	}

	curse := &models.Curse{
		Curse:      mc.Curse,
		Blessed:    mc.Blessed,
		Blessing:   mc.Blessing,
		PulledTime: mc.ID.Timestamp(),
	}
	if mc.PulledTime != nil {
		curse.PulledTime = *mc.PulledTime
	}
	if mc.Blessed && curse.Blessing == nil {
		blessing := models.DefaultBlessingID
		curse.Blessing = &blessing
	}

	if mc.Username != nil && *mc.Username != "" {
		uid, ok := userIDs[*mc.Username]
		if !ok {
			// Authored by an account that did not survive the import.
			return nil, false
		}
		curse.UserID = &uid
	}
	if mc.PulledBy != nil && *mc.PulledBy != "" {
		if uid, ok := userIDs[*mc.PulledBy]; ok {
			curse.PulledBy = &uid
		}
	}
	return curse, true
}

// readBSONFile streams a raw mongodump collection file document by
// document. Each document is a little-endian length prefix followed by the
// body, with the length counting its own four bytes.
func readBSONFile(path string, handle func(doc []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		lengthBytes := make([]byte, 4)
		if _, err := io.ReadFull(reader, lengthBytes); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read document length: %w", err)
		}

		length := int32(binary.LittleEndian.Uint32(lengthBytes))
		if length < 5 {
			return fmt.Errorf("invalid document length: %d", length)
		}

		docBytes := make([]byte, length-4)
		if _, err := io.ReadFull(reader, docBytes); err != nil {
			return fmt.Errorf("failed to read document bytes: %w", err)
		}

		if err := handle(append(lengthBytes, docBytes...)); err != nil {
			return err
		}
	}
}
