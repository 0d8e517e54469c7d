// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	World     WorldConfig     `yaml:"world" toml:"world"`
	Physics   PhysicsConfig   `yaml:"physics" toml:"physics"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" toml:"lifecycle"`
	Cover     CoverConfig     `yaml:"cover" toml:"cover"`
	Spawn     SpawnConfig     `yaml:"spawn" toml:"spawn"`
	Contact   ContactConfig   `yaml:"contact" toml:"contact"`
	Episode   EpisodeConfig   `yaml:"episode" toml:"episode"`
	Presets   PresetsConfig   `yaml:"presets" toml:"presets"`
	Managers  []ManagerConfig `yaml:"managers" toml:"managers"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Server    ServerConfig    `yaml:"server" toml:"server"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-" toml:"-"`
}

// WorldConfig holds the world dimensions.
// The world is a square centred on the origin.
type WorldConfig struct {
	Size float64 `yaml:"size" toml:"size"` // Side length in world units
}

// PhysicsConfig holds the fixed timestep.
type PhysicsConfig struct {
	DT float64 `yaml:"dt" toml:"dt"`
}

// LifecycleConfig holds aging and age randomisation parameters.
type LifecycleConfig struct {
	AgingRate        float64 `yaml:"aging_rate" toml:"aging_rate"`                 // Age units per simulated second
	MaxAgeFactor     float64 `yaml:"max_age_factor" toml:"max_age_factor"`         // Mean of sampled max age = preset maxAge * this
	MaxAgeSD         float64 `yaml:"max_age_sd" toml:"max_age_sd"`                 // Standard deviation of sampled max age
	ReplicationAgeSD float64 `yaml:"replication_age_sd" toml:"replication_age_sd"` // Standard deviation of sampled replication age
}

// CoverConfig holds placement grid parameters.
type CoverConfig struct {
	CellSize            float64 `yaml:"cell_size" toml:"cell_size"`
	SpawnLowerBound     float64 `yaml:"spawn_lower_bound" toml:"spawn_lower_bound"` // Fraction of the world span
	SpawnUpperBound     float64 `yaml:"spawn_upper_bound" toml:"spawn_upper_bound"`
	Noise               string  `yaml:"noise" toml:"noise"` // "perlin" or "simplex"
	NoiseScale          float64 `yaml:"noise_scale" toml:"noise_scale"`
	Octaves             int     `yaml:"octaves" toml:"octaves"`
	Persistence         float64 `yaml:"persistence" toml:"persistence"`
	Lacunarity          float64 `yaml:"lacunarity" toml:"lacunarity"`
	SpawnThreshold      float64 `yaml:"spawn_threshold" toml:"spawn_threshold"`
	GoodEnoughNeighbors int     `yaml:"good_enough_neighbors" toml:"good_enough_neighbors"`
	Seed                int64   `yaml:"seed" toml:"seed"` // 0 = derive from the run seed
}

// SpawnConfig holds free placement parameters for dynamic agents.
type SpawnConfig struct {
	DynamicAttempts    int     `yaml:"dynamic_attempts" toml:"dynamic_attempts"`
	DynamicCheckRadius float64 `yaml:"dynamic_check_radius" toml:"dynamic_check_radius"`
}

// ContactConfig holds proximity contact parameters.
type ContactConfig struct {
	Radius       float64 `yaml:"radius" toml:"radius"`
	GridCellSize float64 `yaml:"grid_cell_size" toml:"grid_cell_size"`
}

// EpisodeConfig holds episode termination parameters.
type EpisodeConfig struct {
	MaxSteps      int `yaml:"max_steps" toml:"max_steps"`           // 0 = unlimited
	CheckInterval int `yaml:"check_interval" toml:"check_interval"` // Ticks between extinction checks
}

// PresetsConfig locates agent definition files on disk.
type PresetsConfig struct {
	Dir string `yaml:"dir" toml:"dir"` // Empty = embedded presets only
}

// ManagerConfig declares one agent population.
type ManagerConfig struct {
	Name     string `yaml:"name" toml:"name"`
	Preset   string `yaml:"preset" toml:"preset"`
	Initial  int    `yaml:"initial" toml:"initial"`
	PoolSize int    `yaml:"pool_size" toml:"pool_size"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window" toml:"stats_window"` // Seconds per stats window
	PerfCollectorWindow int     `yaml:"perf_collector_window" toml:"perf_collector_window"`
}

// ServerConfig holds observer server parameters.
type ServerConfig struct {
	Addr                string `yaml:"addr" toml:"addr"`
	TickIntervalMS      int    `yaml:"tick_interval_ms" toml:"tick_interval_ms"`
	BroadcastIntervalMS int    `yaml:"broadcast_interval_ms" toml:"broadcast_interval_ms"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	HalfWorld        float64 // World.Size / 2
	GridSize         int     // ceil(World.Size / Cover.CellSize)
	StatsWindowTicks int64   // Telemetry.StatsWindow / Physics.DT, at least 1
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Defaults returns the embedded default configuration.
func Defaults() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML or TOML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Validate checks values that would otherwise break the simulation at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.World.Size <= 0 {
		errs = append(errs, fmt.Errorf("world.size must be positive, got %v", c.World.Size))
	}
	if c.Physics.DT <= 0 {
		errs = append(errs, fmt.Errorf("physics.dt must be positive, got %v", c.Physics.DT))
	}
	if c.Cover.CellSize <= 0 {
		errs = append(errs, fmt.Errorf("cover.cell_size must be positive, got %v", c.Cover.CellSize))
	}
	if c.Cover.SpawnLowerBound < 0 || c.Cover.SpawnUpperBound > 1 || c.Cover.SpawnLowerBound > c.Cover.SpawnUpperBound {
		errs = append(errs, fmt.Errorf("cover spawn bounds must satisfy 0 <= lower <= upper <= 1, got [%v, %v]",
			c.Cover.SpawnLowerBound, c.Cover.SpawnUpperBound))
	}
	switch c.Cover.Noise {
	case "perlin", "simplex":
	default:
		errs = append(errs, fmt.Errorf("cover.noise must be perlin or simplex, got %q", c.Cover.Noise))
	}
	if c.Cover.Octaves < 1 {
		errs = append(errs, fmt.Errorf("cover.octaves must be at least 1, got %d", c.Cover.Octaves))
	}
	if c.Episode.CheckInterval < 1 {
		errs = append(errs, fmt.Errorf("episode.check_interval must be at least 1, got %d", c.Episode.CheckInterval))
	}
	seen := make(map[string]bool, len(c.Managers))
	for i, m := range c.Managers {
		if m.Name == "" || m.Preset == "" {
			errs = append(errs, fmt.Errorf("managers[%d]: name and preset are required", i))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("managers[%d]: duplicate name %q", i, m.Name))
		}
		seen[m.Name] = true
		if m.PoolSize < 1 || m.Initial < 0 {
			errs = append(errs, fmt.Errorf("managers[%d] %s: pool_size must be positive and initial non-negative", i, m.Name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.HalfWorld = c.World.Size / 2
	c.Derived.GridSize = int(math.Ceil(c.World.Size / c.Cover.CellSize))
	c.Derived.StatsWindowTicks = int64(math.Round(c.Telemetry.StatsWindow / c.Physics.DT))
	if c.Derived.StatsWindowTicks < 1 {
		c.Derived.StatsWindowTicks = 1
	}
}

// Manager returns the manager entry with the given name.
func (c *Config) Manager(name string) (ManagerConfig, bool) {
	for _, m := range c.Managers {
		if m.Name == name {
			return m, true
		}
	}
	return ManagerConfig{}, false
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Managers = append([]ManagerConfig(nil), c.Managers...)
	return &cp
}

// Recompute refreshes derived values after fields were changed in code.
func (c *Config) Recompute() error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.computeDerived()
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// YAML returns the configuration encoded as YAML.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}
