// Package config loads and validates the PortRun YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/portrun/internal/policy"
)

// SimulationConfig controls the engine run.
type SimulationConfig struct {
	InitialCash    float64   `yaml:"initial_cash"`
	CostRate       float64   `yaml:"cost_rate"`
	CostInTarget   bool      `yaml:"cost_in_target"`
	Frequency      string    `yaml:"frequency"`
	ReturnWindow   int       `yaml:"return_window"`
	RiskFreeRate   float64   `yaml:"risk_free_rate"`
	PeriodsPerYear float64   `yaml:"periods_per_year"` // 0 infers from data spacing
	Start          time.Time `yaml:"start"`
	End            time.Time `yaml:"end"`
}

// PolicyConfig selects and parameterizes the allocation policy.
type PolicyConfig struct {
	Name          string             `yaml:"name"`
	Fallback      string             `yaml:"fallback"` // "none" disables the fallback
	RiskAversion  float64            `yaml:"risk_aversion"`
	Tolerance     float64            `yaml:"tolerance"`
	MaxIterations int                `yaml:"max_iterations"`
	Seed          uint64             `yaml:"seed"`
	RiskBudgets   map[string]float64 `yaml:"risk_budgets"`
}

// DataConfig selects the candle source. CSVDir loads a directory of
// per-symbol CSV files; a Postgres DSN switches to the database repo,
// optionally fronted by Redis.
type DataConfig struct {
	CSVDir      string        `yaml:"csv_dir"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	Symbols     []string      `yaml:"symbols"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisDB     int           `yaml:"redis_db"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// OutputConfig controls artifact writing.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// Config is the full PortRun configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Policy     PolicyConfig     `yaml:"policy"`
	Data       DataConfig       `yaml:"data"`
	Output     OutputConfig     `yaml:"output"`
}

// Default returns the built-in configuration used when no file is
// supplied and as the base for partial files.
func Default() Config {
	pd := policy.DefaultConfig()
	return Config{
		Simulation: SimulationConfig{
			InitialCash:  100_000,
			CostRate:     0,
			CostInTarget: true,
			Frequency:    "monthly",
			ReturnWindow: 60,
		},
		Policy: PolicyConfig{
			Name:          "equal_weight",
			Fallback:      "equal_weight",
			RiskAversion:  pd.RiskAversion,
			Tolerance:     pd.Tolerance,
			MaxIterations: pd.MaxIterations,
			Seed:          pd.Seed,
		},
		Data: DataConfig{
			CSVDir:   "data",
			CacheTTL: 15 * time.Minute,
		},
		Output: OutputConfig{
			Dir: "out",
		},
	}
}

// Load reads path, layers it over the defaults, and validates the
// result. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Simulation.InitialCash <= 0 {
		return fmt.Errorf("simulation.initial_cash must be positive, got %.2f", c.Simulation.InitialCash)
	}
	if c.Simulation.CostRate < 0 || c.Simulation.CostRate > 0.5 {
		return fmt.Errorf("simulation.cost_rate %.4f out of range [0, 0.5]", c.Simulation.CostRate)
	}
	switch c.Simulation.Frequency {
	case "daily", "weekly", "monthly", "quarterly":
	default:
		return fmt.Errorf("simulation.frequency must be daily, weekly, monthly or quarterly, got %q", c.Simulation.Frequency)
	}
	if c.Simulation.ReturnWindow <= 0 {
		return fmt.Errorf("simulation.return_window must be positive, got %d", c.Simulation.ReturnWindow)
	}
	if !c.Simulation.Start.IsZero() && !c.Simulation.End.IsZero() && !c.Simulation.Start.Before(c.Simulation.End) {
		return fmt.Errorf("simulation.start %s must precede simulation.end %s",
			c.Simulation.Start.Format(time.RFC3339), c.Simulation.End.Format(time.RFC3339))
	}

	if _, err := policy.New(c.Policy.Name, c.PolicyParams()); err != nil {
		return fmt.Errorf("policy.name: %w", err)
	}
	if c.Policy.Fallback != "" && c.Policy.Fallback != "none" {
		if _, err := policy.New(c.Policy.Fallback, c.PolicyParams()); err != nil {
			return fmt.Errorf("policy.fallback: %w", err)
		}
	}

	if c.Data.CSVDir == "" && c.Data.PostgresDSN == "" {
		return fmt.Errorf("data: either csv_dir or postgres_dsn is required")
	}
	if c.Data.PostgresDSN != "" && len(c.Data.Symbols) == 0 {
		return fmt.Errorf("data.symbols is required with postgres_dsn")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	return nil
}

// PolicyParams maps the policy section onto the policy package config.
func (c *Config) PolicyParams() policy.Config {
	params := policy.DefaultConfig()
	if c.Policy.RiskAversion > 0 {
		params.RiskAversion = c.Policy.RiskAversion
	}
	if c.Policy.Tolerance > 0 {
		params.Tolerance = c.Policy.Tolerance
	}
	if c.Policy.MaxIterations > 0 {
		params.MaxIterations = c.Policy.MaxIterations
	}
	if c.Policy.Seed != 0 {
		params.Seed = c.Policy.Seed
	}
	if len(c.Policy.RiskBudgets) > 0 {
		params.RiskBudgets = c.Policy.RiskBudgets
	}
	params.RiskFreeRate = c.Simulation.RiskFreeRate
	return params
}

// FallbackPolicy constructs the configured fallback, or nil when
// disabled.
func (c *Config) FallbackPolicy() (policy.AllocationPolicy, error) {
	if c.Policy.Fallback == "" || c.Policy.Fallback == "none" {
		return nil, nil
	}
	return policy.New(c.Policy.Fallback, c.PolicyParams())
}
