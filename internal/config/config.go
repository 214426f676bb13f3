// Package config provides Viper-based configuration loading for the dice
// calculator.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cory-johannsen/kcddice/internal/game/ruleset"
)

// SimulationConfig holds Monte Carlo settings.
type SimulationConfig struct {
	// Trials is the default number of sampled turns or games.
	Trials int `mapstructure:"trials"`
	// Workers is the goroutine count; 0 uses GOMAXPROCS.
	Workers int `mapstructure:"workers"`
	// Seed fixes the random streams; 0 draws a fresh seed per process.
	Seed             uint64        `mapstructure:"seed"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	// ExhaustiveLimit bounds exact enumeration.
	ExhaustiveLimit int `mapstructure:"exhaustive_limit"`
	// PlaybookTrials is the default number of rollouts per decision.
	PlaybookTrials int `mapstructure:"playbook_trials"`
	// MaxCandidates caps the loadouts a ranking evaluates.
	MaxCandidates int `mapstructure:"max_candidates"`
}

// ContentConfig locates the YAML content files.
type ContentConfig struct {
	Catalog   string `mapstructure:"catalog"`
	Inventory string `mapstructure:"inventory"`
	// Rules is the scoring rule table; empty uses the built-in table.
	Rules string `mapstructure:"rules"`
	// Profiles is a directory of extra policy profiles; empty loads only
	// the built-in profiles.
	Profiles string `mapstructure:"profiles"`
	// Variants is a directory of house-rule variants selectable by ID.
	Variants       string `mapstructure:"variants"`
	DefaultProfile string `mapstructure:"default_profile"`
	PlayerProfile  string `mapstructure:"player_profile"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// Enabled turns on the run history.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// Output is a file path or "stderr"; empty means stderr.
	Output string `mapstructure:"output"`
}

// Config is the top-level application configuration.
type Config struct {
	Simulation SimulationConfig  `mapstructure:"simulation"`
	Game       ruleset.GameRules `mapstructure:"game"`
	Turn       ruleset.TurnRules `mapstructure:"turn"`
	Content    ContentConfig     `mapstructure:"content"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Database   DatabaseConfig    `mapstructure:"database"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateSimulation(c.Simulation); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Game.Validate(); err != nil {
		errs = append(errs, "game: "+err.Error())
	}
	if err := c.Turn.Validate(); err != nil {
		errs = append(errs, "turn: "+err.Error())
	}
	if err := validateContent(c.Content); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Database.Enabled {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSimulation(s SimulationConfig) error {
	var errs []string
	if s.Trials < 1 {
		errs = append(errs, fmt.Sprintf("simulation.trials must be >= 1, got %d", s.Trials))
	}
	if s.Workers < 0 {
		errs = append(errs, fmt.Sprintf("simulation.workers must be >= 0, got %d", s.Workers))
	}
	if s.ProgressInterval < 0 {
		errs = append(errs, "simulation.progress_interval must not be negative")
	}
	if s.ExhaustiveLimit < 1 {
		errs = append(errs, fmt.Sprintf("simulation.exhaustive_limit must be >= 1, got %d", s.ExhaustiveLimit))
	}
	if s.PlaybookTrials < 1 {
		errs = append(errs, fmt.Sprintf("simulation.playbook_trials must be >= 1, got %d", s.PlaybookTrials))
	}
	if s.MaxCandidates < 1 {
		errs = append(errs, fmt.Sprintf("simulation.max_candidates must be >= 1, got %d", s.MaxCandidates))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateContent(c ContentConfig) error {
	var errs []string
	if c.Catalog == "" {
		errs = append(errs, "content.catalog must not be empty")
	}
	if c.DefaultProfile == "" {
		errs = append(errs, "content.default_profile must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and the
// environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and KCDDICE_ environment
// overrides applied.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with KCDDICE_ prefix
	v.SetEnvPrefix("KCDDICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("simulation.trials", 10000)
	v.SetDefault("simulation.workers", 0)
	v.SetDefault("simulation.seed", 0)
	v.SetDefault("simulation.progress_interval", "250ms")
	v.SetDefault("simulation.exhaustive_limit", 2000000)
	v.SetDefault("simulation.playbook_trials", 400)
	v.SetDefault("simulation.max_candidates", 5000)

	game := ruleset.DefaultGameRules()
	v.SetDefault("game.point_cap", game.PointCap)
	v.SetDefault("game.end", string(game.End))
	v.SetDefault("game.tie", string(game.Tie))
	v.SetDefault("game.max_extra_rounds", game.MaxExtraRounds)
	v.SetDefault("game.max_turns", game.MaxTurns)
	v.SetDefault("game.alternate_first", game.AlternateFirst)

	turn := ruleset.DefaultTurnRules()
	v.SetDefault("turn.max_rolls", turn.MaxRolls)
	v.SetDefault("turn.min_bank.value", turn.MinBank.Value)
	v.SetDefault("turn.min_bank.first_n_rolls", turn.MinBank.FirstNRolls)
	v.SetDefault("turn.reset_rolls_on_clear", turn.ResetRollsOnClear)

	v.SetDefault("content.catalog", "content/dice.yaml")
	v.SetDefault("content.inventory", "content/inventory.yaml")
	v.SetDefault("content.rules", "content/rules.yaml")
	v.SetDefault("content.profiles", "content/profiles")
	v.SetDefault("content.variants", "content/variants")
	v.SetDefault("content.default_profile", "balanced")
	v.SetDefault("content.player_profile", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "kcddice")
	v.SetDefault("database.password", "kcddice")
	v.SetDefault("database.name", "kcddice")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
}
