package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"regimetrader/internal/features"
	"regimetrader/internal/montecarlo"
	"regimetrader/internal/regime"
	"regimetrader/internal/strategy"
)

// DefaultPath is used when REGIME_CONFIG is not set.
const DefaultPath = "config/regimetrader.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for regimetrader.
type Config struct {
	Storage    Storage           `yaml:"storage"`
	Server     Server            `yaml:"server"`
	Logging    Logging           `yaml:"logging"`
	Data       Data              `yaml:"data"`
	Features   features.Config   `yaml:"features"`
	Model      Model             `yaml:"model"`
	Backtest   strategy.Config   `yaml:"backtest"`
	MonteCarlo montecarlo.Config `yaml:"monte_carlo"`
	Optimize   Optimize          `yaml:"optimize"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	TradesCSV  string `yaml:"trades_csv"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Addr returns the host:port the gRPC server listens on.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Data selects the price history and the train/test split.
type Data struct {
	Symbol    string `yaml:"symbol"`
	CSVPath   string `yaml:"csv_path"`
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
	SplitDate string `yaml:"split_date"`
	Embargo   int    `yaml:"embargo"`
}

// Model configures the regime model and the regime-to-signal mapping.
type Model struct {
	regime.HMMConfig `yaml:",inline"`
	Strategy         string `yaml:"strategy"`
	IncludeShorting  bool   `yaml:"include_shorting"`
}

// Optimize configures the state-count sweep.
type Optimize struct {
	MinStates int   `yaml:"min_states"`
	MaxStates int   `yaml:"max_states"`
	Seed      int64 `yaml:"seed"`
}

const dateLayout = "2006-01-02"

// Range parses the configured start and end dates. Empty values yield the
// zero time for start and now for end.
func (d Data) Range() (start, end time.Time, err error) {
	end = time.Now().UTC()
	if d.StartDate != "" {
		if start, err = time.Parse(dateLayout, d.StartDate); err != nil {
			return start, end, fmt.Errorf("start_date: %w", err)
		}
	}
	if d.EndDate != "" {
		if end, err = time.Parse(dateLayout, d.EndDate); err != nil {
			return start, end, fmt.Errorf("end_date: %w", err)
		}
	}
	return start, end, nil
}

// Split parses the configured split date.
func (d Data) Split() (time.Time, error) {
	t, err := time.Parse(dateLayout, d.SplitDate)
	if err != nil {
		return t, fmt.Errorf("split_date: %w", err)
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file path from REGIME_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv("REGIME_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Costs may legitimately be zero, so they are seeded before decoding.
	cfg := &Config{Backtest: strategy.DefaultConfig()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Backtest: strategy.DefaultConfig()}
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REGIME_SYMBOL"); v != "" {
		cfg.Data.Symbol = v
	}
	if v := os.Getenv("REGIME_CSV"); v != "" {
		cfg.Data.CSVPath = v
	}
	if v := os.Getenv("REGIME_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MonteCarlo.Runs = n
		}
	}
	if v := os.Getenv("GRPC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = n
		}
	}
}

// applyDefaults fills zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/regimetrader.db"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50061
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	fd := features.DefaultConfig()
	if cfg.Features.RollVol == 0 {
		cfg.Features.RollVol = fd.RollVol
	}
	if cfg.Features.RSIWindow == 0 {
		cfg.Features.RSIWindow = fd.RSIWindow
	}

	hd := regime.DefaultHMMConfig()
	if cfg.Model.NStates == 0 {
		cfg.Model.NStates = hd.NStates
	}
	if cfg.Model.MaxIter == 0 {
		cfg.Model.MaxIter = hd.MaxIter
	}
	if cfg.Model.Tol == 0 {
		cfg.Model.Tol = hd.Tol
	}
	if cfg.Model.MinCovar == 0 {
		cfg.Model.MinCovar = hd.MinCovar
	}
	if cfg.Model.Strategy == "" {
		cfg.Model.Strategy = "regime-sign"
	}

	bd := strategy.DefaultConfig()
	if cfg.Backtest.InitialCapital == 0 {
		cfg.Backtest.InitialCapital = bd.InitialCapital
	}
	if cfg.Backtest.MinHoldDays == 0 {
		cfg.Backtest.MinHoldDays = bd.MinHoldDays
	}

	if cfg.MonteCarlo.Runs == 0 {
		cfg.MonteCarlo.Runs = 100
	}

	if cfg.Optimize.MinStates == 0 {
		cfg.Optimize.MinStates = 2
	}
	if cfg.Optimize.MaxStates == 0 {
		cfg.Optimize.MaxStates = 20
	}
}
