package cursewell

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cursewell/cursewell/cursewell/database"
	"github.com/cursewell/cursewell/cursewell/pool"
	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig         `toml:"log"`
	Server  ServerConfig      `toml:"server"`
	DB      database.DBConfig `toml:"db"`
	Auth    AuthConfig        `toml:"auth"`
	Pool    PoolConfig        `toml:"pool"`
	Archive ArchiveConfig     `toml:"archive"`
}

type LogConfig struct {
	Level slog.Level `toml:"level"`
}

type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	AllowOrigins string `toml:"allow_origins"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	Secret       string `toml:"secret"`
	TokenTTLMins int    `toml:"token_ttl_mins"`
}

func (c AuthConfig) TokenTTL() time.Duration {
	if c.TokenTTLMins <= 0 {
		return time.Hour
	}
	return time.Duration(c.TokenTTLMins) * time.Minute
}

type PoolConfig struct {
	AllowanceCeiling    int `toml:"allowance_ceiling"`
	ReplenishAfterHours int `toml:"replenish_after_hours"`
	SweepIntervalMins   int `toml:"sweep_interval_mins"`
	AnonStuckAfterMins  int `toml:"anonymous_stuck_after_mins"`
	OwnerPulledMins     int `toml:"owner_pulled_after_mins"`
	OwnerUnclaimedHours int `toml:"owner_unclaimed_after_hours"`
}

func (c PoolConfig) EngineConfig() pool.Config {
	cfg := pool.DefaultConfig()
	if c.AllowanceCeiling > 0 {
		cfg.AllowanceCeiling = c.AllowanceCeiling
	}
	if c.ReplenishAfterHours > 0 {
		cfg.ReplenishAfter = time.Duration(c.ReplenishAfterHours) * time.Hour
	}
	return cfg
}

func (c PoolConfig) SweepConfig() pool.SweepConfig {
	cfg := pool.DefaultSweepConfig()
	if c.SweepIntervalMins > 0 {
		cfg.Interval = time.Duration(c.SweepIntervalMins) * time.Minute
	}
	if c.AnonStuckAfterMins > 0 {
		cfg.AnonymousStuckAfter = time.Duration(c.AnonStuckAfterMins) * time.Minute
	}
	if c.OwnerPulledMins > 0 {
		cfg.OwnerPulledAfter = time.Duration(c.OwnerPulledMins) * time.Minute
	}
	if c.OwnerUnclaimedHours > 0 {
		cfg.OwnerUnclaimedAfter = time.Duration(c.OwnerUnclaimedHours) * time.Hour
	}
	return cfg
}

type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Key     string `toml:"key"`
	Secret  string `toml:"secret"`
	Region  string `toml:"region"`
	Bucket  string `toml:"bucket"`
	Prefix  string `toml:"prefix"`
}
