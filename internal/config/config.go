// Package config loads marketlens settings from YAML files, a local .env file
// and MARKETLENS_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "MARKETLENS"

// Config represents the complete application configuration.
type Config struct {
	Upstox      UpstoxConfig      `mapstructure:"upstox"      yaml:"upstox"`
	YFinance    YFinanceConfig    `mapstructure:"yfinance"    yaml:"yfinance"`
	Fetch       FetchConfig       `mapstructure:"fetch"       yaml:"fetch"`
	Instruments InstrumentsConfig `mapstructure:"instruments" yaml:"instruments"`
	Options     OptionsConfig     `mapstructure:"options"     yaml:"options"`
	Attribution AttributionConfig `mapstructure:"attribution" yaml:"attribution"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"    yaml:"snapshot"`
	API         APIConfig         `mapstructure:"api"         yaml:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"     yaml:"logging"`
}

// UpstoxConfig holds primary-provider credentials and client tuning.
type UpstoxConfig struct {
	APIKey         string  `mapstructure:"api_key"          yaml:"api_key"`
	APISecret      string  `mapstructure:"api_secret"       yaml:"api_secret"`
	AccessToken    string  `mapstructure:"access_token"     yaml:"access_token"`
	BaseURL        string  `mapstructure:"base_url"         yaml:"base_url"`
	TimeoutSec     int     `mapstructure:"timeout_sec"      yaml:"timeout_sec"`
	ChunkSize      int     `mapstructure:"chunk_size"       yaml:"chunk_size"`
	MaxConcurrency int     `mapstructure:"max_concurrency"  yaml:"max_concurrency"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
}

// Configured reports whether the primary client can be built.
func (u *UpstoxConfig) Configured() bool {
	return u != nil && strings.TrimSpace(u.AccessToken) != ""
}

// Timeout returns the per-request timeout.
func (u *UpstoxConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSec) * time.Second
}

// YFinanceConfig holds secondary-provider tuning.
type YFinanceConfig struct {
	BaseURL        string  `mapstructure:"base_url"         yaml:"base_url"`
	TimeoutSec     int     `mapstructure:"timeout_sec"      yaml:"timeout_sec"`
	MaxAttempts    int     `mapstructure:"max_attempts"     yaml:"max_attempts"`
	Concurrency    int     `mapstructure:"concurrency"      yaml:"concurrency"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
}

// Timeout returns the per-request timeout.
func (y *YFinanceConfig) Timeout() time.Duration {
	return time.Duration(y.TimeoutSec) * time.Second
}

// FetchConfig controls provider routing.
type FetchConfig struct {
	ShortHistoryDays int `mapstructure:"short_history_days" yaml:"short_history_days"`
}

// ShortHistory is the longest date range served from primary spot quotes.
func (f *FetchConfig) ShortHistory() time.Duration {
	return time.Duration(f.ShortHistoryDays) * 24 * time.Hour
}

// InstrumentsConfig locates the instrument dump and the derived master file.
type InstrumentsConfig struct {
	DumpPath   string `mapstructure:"dump_path"   yaml:"dump_path"`
	MasterPath string `mapstructure:"master_path" yaml:"master_path"`
}

// OptionsConfig controls option-chain filtering.
type OptionsConfig struct {
	MaxDistancePct float64 `mapstructure:"max_distance_pct" yaml:"max_distance_pct"`
}

// AttributionConfig holds ridge attribution parameters.
type AttributionConfig struct {
	Window          int     `mapstructure:"window"           yaml:"window"`
	MinObservations int     `mapstructure:"min_observations" yaml:"min_observations"`
	Alpha           float64 `mapstructure:"alpha"            yaml:"alpha"`
}

// SnapshotConfig locates the change-detection store.
type SnapshotConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Addr returns host:port.
func (a *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"   yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format"  yaml:"format"` // "text" or "json"
	Output string `mapstructure:"output"  yaml:"output"` // "stdout", "stderr" or a file path
	MaxAge int    `mapstructure:"max_age" yaml:"max_age"` // days; rotates file output when > 0
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml
//  2. ~/.marketlens/config.yaml
//  3. /etc/marketlens/config.yaml
//
// A .env file in the working directory is loaded first. Environment variables
// override file values: MARKETLENS_<SECTION>_<KEY>, e.g. MARKETLENS_FETCH_SHORT_HISTORY_DAYS.
func Load() (*Config, error) {
	loadDotEnv()
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".marketlens"))
	v.AddConfigPath("/etc/marketlens")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadDotEnv()
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Fetch.ShortHistoryDays < 0:
		return fmt.Errorf("fetch.short_history_days must be >= 0, got %d", c.Fetch.ShortHistoryDays)
	case c.Upstox.ChunkSize <= 0:
		return fmt.Errorf("upstox.chunk_size must be positive, got %d", c.Upstox.ChunkSize)
	case c.YFinance.MaxAttempts <= 0:
		return fmt.Errorf("yfinance.max_attempts must be positive, got %d", c.YFinance.MaxAttempts)
	case c.Options.MaxDistancePct <= 0:
		return fmt.Errorf("options.max_distance_pct must be positive, got %g", c.Options.MaxDistancePct)
	case c.Attribution.MinObservations <= 0 || c.Attribution.Window < c.Attribution.MinObservations:
		return fmt.Errorf("attribution.window (%d) must be >= min_observations (%d) > 0",
			c.Attribution.Window, c.Attribution.MinObservations)
	case c.Attribution.Alpha < 0:
		return fmt.Errorf("attribution.alpha must be >= 0, got %g", c.Attribution.Alpha)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstox.base_url", "https://api.upstox.com/v2")
	v.SetDefault("upstox.timeout_sec", 10)
	v.SetDefault("upstox.chunk_size", 50)
	v.SetDefault("upstox.max_concurrency", 4)
	v.SetDefault("upstox.requests_per_sec", 10.0)

	v.SetDefault("yfinance.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("yfinance.timeout_sec", 15)
	v.SetDefault("yfinance.max_attempts", 3)
	v.SetDefault("yfinance.concurrency", 4)
	v.SetDefault("yfinance.requests_per_sec", 5.0)

	v.SetDefault("fetch.short_history_days", 7)

	v.SetDefault("instruments.dump_path", "./data/NSE.json")
	v.SetDefault("instruments.master_path", "./data/instrument_master.json")

	v.SetDefault("options.max_distance_pct", 12.0)

	v.SetDefault("attribution.window", 60)
	v.SetDefault("attribution.min_observations", 20)
	v.SetDefault("attribution.alpha", 0.1)

	v.SetDefault("snapshot.path", "./data/snapshots.json")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_age", 0)
}

// overrideFromEnv explicitly reads secrets, which viper's AutomaticEnv only
// picks up for keys that already have a default or file value.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("MARKETLENS_UPSTOX_API_KEY"); key != "" {
		cfg.Upstox.APIKey = key
	}
	if key := os.Getenv("MARKETLENS_UPSTOX_API_SECRET"); key != "" {
		cfg.Upstox.APISecret = key
	}
	if tok := os.Getenv("MARKETLENS_UPSTOX_ACCESS_TOKEN"); tok != "" {
		cfg.Upstox.AccessToken = tok
	}
}

// loadDotEnv loads ./.env without overriding variables already set.
func loadDotEnv() {
	_ = godotenv.Load()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
