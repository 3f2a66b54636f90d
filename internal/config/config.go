// Package config loads the drivesim YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/drivesim/internal/decider"
	"github.com/talgya/drivesim/internal/planner"
	"github.com/talgya/drivesim/internal/steward"
	"github.com/talgya/drivesim/internal/world"
)

// AdminKeyEnv names the environment variable holding the admin bearer token.
const AdminKeyEnv = "DRIVESIM_ADMIN_KEY"

// Config is the whole configuration document.
type Config struct {
	Catalog    string         `yaml:"catalog"`
	LogLevel   string         `yaml:"log_level"`
	Simulation Simulation     `yaml:"simulation"`
	World      World          `yaml:"world"`
	Planner    planner.Config `yaml:"planner"`
	Decider    decider.Policy `yaml:"decider"`
	Storage    Storage        `yaml:"storage"`
	API        API            `yaml:"api"`
	Steward    steward.Config `yaml:"steward"`
}

type Simulation struct {
	Seed         int64         `yaml:"seed"`
	Agents       int           `yaml:"agents"`
	TickInterval time.Duration `yaml:"tick_interval"` // wall time per tick at speed 1
	Step         time.Duration `yaml:"step"`          // simulated time per tick
	Speed        float64       `yaml:"speed"`
	Workers      int           `yaml:"workers"`
	// SecondsPerHex is the travel time estimate per hex.
	SecondsPerHex float64 `yaml:"seconds_per_hex"`
}

type World struct {
	Gen   world.GenConfig   `yaml:"gen"`
	Spawn []world.SpawnRule `yaml:"spawn"`
}

type Storage struct {
	DB       string `yaml:"db"`
	Snapshot string `yaml:"snapshot"`
}

type API struct {
	Port int `yaml:"port"`
	// RateLimit is the number of admin requests allowed per IP per minute.
	RateLimit int `yaml:"rate_limit"`
	// MaxStreams caps concurrent websocket subscribers.
	MaxStreams int    `yaml:"max_streams"`
	AdminKey   string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	gen := world.DefaultGenConfig()
	gen.Seed = 42
	return Config{
		Catalog:  "configs/catalog.yaml",
		LogLevel: "info",
		Simulation: Simulation{
			Seed:          42,
			Agents:        12,
			TickInterval:  time.Second,
			Step:          time.Second,
			Speed:         1,
			Workers:       4,
			SecondsPerHex: 1.5,
		},
		World:   World{Gen: gen, Spawn: world.DefaultSpawnRules()},
		Planner: planner.DefaultConfig(),
		Decider: decider.DefaultPolicy(),
		Storage: Storage{DB: "data/drivesim.db", Snapshot: "data/snapshot.json.zst"},
		API:     API{Port: 8080, RateLimit: 30, MaxStreams: 8},
		Steward: steward.Config{URL: "http://localhost:8080", Interval: 30 * time.Second, Burst: 3},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults. A relative
// catalog path is resolved against the config file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		if cfg.Catalog != "" && !filepath.IsAbs(cfg.Catalog) {
			cfg.Catalog = filepath.Join(filepath.Dir(path), cfg.Catalog)
		}
	}
	if key := os.Getenv(AdminKeyEnv); key != "" {
		cfg.API.AdminKey = key
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the simulation cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Catalog == "" {
		errs = append(errs, errors.New("catalog path required"))
	}
	if c.Simulation.Step <= 0 || c.Simulation.TickInterval <= 0 {
		errs = append(errs, errors.New("simulation step and tick_interval must be positive"))
	}
	if c.Simulation.Agents < 0 {
		errs = append(errs, errors.New("simulation agents must not be negative"))
	}
	if c.World.Gen.Radius <= 0 {
		errs = append(errs, errors.New("world radius must be positive"))
	}
	if c.Planner.MaxDepth < 0 || c.Planner.MaxIterations < 0 || c.Planner.MaxDecisionPaths < 0 {
		errs = append(errs, errors.New("planner bounds must not be negative"))
	}
	if c.Decider.BetterMargin < 0 {
		errs = append(errs, errors.New("decider better_margin must not be negative"))
	}
	if c.Steward.Interval <= 0 || c.Steward.Burst < 0 {
		errs = append(errs, errors.New("steward interval must be positive and burst not negative"))
	}
	for _, r := range c.Steward.Rules {
		if r.Type == "" || r.Min <= 0 {
			errs = append(errs, fmt.Errorf("steward rule %q needs a type and a positive min", r.Type))
		}
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
