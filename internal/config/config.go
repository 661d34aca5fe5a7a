// Package config loads process settings from the environment and goal
// scenarios from YAML files.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process settings. Every field can be set through ARBITER_*
// environment variables; CLI flags override them.
type Config struct {
	DBPath   string        `env:"ARBITER_DB_PATH"       envDefault:"data/arbiter.db"`
	Scenario string        `env:"ARBITER_SCENARIO"`     // Empty = built-in scenario
	MaxSteps uint64        `env:"ARBITER_MAX_STEPS"     envDefault:"100"`
	Policy   string        `env:"ARBITER_POLICY"        envDefault:"argmax"`
	Interval time.Duration `env:"ARBITER_STEP_INTERVAL" envDefault:"0s"`
	Verbose  bool          `env:"ARBITER_VERBOSE"       envDefault:"true"`
	LogLevel string        `env:"ARBITER_LOG_LEVEL"     envDefault:"info"`

	// Drift is disabled unless the amplitude is positive.
	DriftAmplitude float64 `env:"ARBITER_DRIFT_AMPLITUDE" envDefault:"0"`
	DriftSeed      int64   `env:"ARBITER_DRIFT_SEED"      envDefault:"42"`

	APIPort  int    `env:"ARBITER_API_PORT" envDefault:"8080"`
	AdminKey string `env:"ARBITER_ADMIN_KEY"` // Empty = POST endpoints disabled
}

// LoadFromEnv parses Config from the environment, applying defaults.
func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
