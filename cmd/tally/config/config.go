// Package config provides configuration structures for the tally binary.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TALLY_METRICS_ADDRESS.
const EnvPrefix = "TALLY"

// Config represents the tally configuration.
type Config struct {
	// Server settings
	Address         string        `yaml:"address" json:"address"`
	LogLevel        string        `yaml:"log_level" json:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Dataset and column metadata
	Dataset string `yaml:"dataset" json:"dataset"`
	Columns string `yaml:"columns" json:"columns"`
	Labels  string `yaml:"labels" json:"labels"`

	// Query execution
	Backend            string        `yaml:"backend" json:"backend"`
	DuckDBBinary       string        `yaml:"duckdb_binary" json:"duckdb_binary"`
	Database           string        `yaml:"database" json:"database"`
	MaxOutputBytes     int           `yaml:"max_output_bytes" json:"max_output_bytes"`
	QueryTimeout       time.Duration `yaml:"query_timeout" json:"query_timeout"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" json:"slow_query_threshold"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Result cache configuration
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Offline jobs
	Relationships RelationshipsConfig `yaml:"relationships" json:"relationships"`
	Effects       EffectsConfig       `yaml:"effects" json:"effects"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// CacheConfig represents result cache configuration.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
}

// RelationshipsConfig configures the pairwise association job.
type RelationshipsConfig struct {
	Output              string        `yaml:"output" json:"output"`
	MaxCategoricalPairs int           `yaml:"max_categorical_pairs" json:"max_categorical_pairs"`
	BatchSize           int           `yaml:"batch_size" json:"batch_size"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
}

// EffectsConfig configures the landmark effect job.
type EffectsConfig struct {
	Output  string        `yaml:"output" json:"output"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Address:            "0.0.0.0:8080",
		LogLevel:           "info",
		ShutdownTimeout:    30 * time.Second,
		Dataset:            "data/BKSPublic.parquet",
		Columns:            "data/columns.generated.json",
		Backend:            "auto",
		DuckDBBinary:       "duckdb",
		Database:           ":memory:",
		MaxOutputBytes:     24 * 1024 * 1024,
		QueryTimeout:       5 * time.Second,
		SlowQueryThreshold: time.Second,
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 512,
			TTL:        10 * time.Minute,
		},
		Relationships: RelationshipsConfig{
			Output:              "data/relationships.generated.json",
			MaxCategoricalPairs: 12000,
			BatchSize:           50,
			Timeout:             20 * time.Second,
		},
		Effects: EffectsConfig{
			Output:  "data/reference-effects.json",
			Timeout: 20 * time.Second,
		},
	}
}

// Validate validates the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	d := DefaultConfig()

	if c.Dataset == "" {
		return fmt.Errorf("dataset is required")
	}

	switch c.Backend {
	case "":
		c.Backend = d.Backend
	case "auto", "cli", "embedded":
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}

	switch c.LogLevel {
	case "":
		c.LogLevel = d.LogLevel
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.LogLevel)
	}

	if c.Address == "" {
		c.Address = d.Address
	}
	if c.DuckDBBinary == "" {
		c.DuckDBBinary = d.DuckDBBinary
	}
	if c.Database == "" {
		c.Database = d.Database
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = d.MaxOutputBytes
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.SlowQueryThreshold <= 0 {
		c.SlowQueryThreshold = d.SlowQueryThreshold
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return fmt.Errorf("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = d.Metrics.Path
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with '/': %s", c.Metrics.Path)
		}
	}

	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = d.Cache.MaxEntries
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}

	if c.Relationships.MaxCategoricalPairs <= 0 {
		c.Relationships.MaxCategoricalPairs = d.Relationships.MaxCategoricalPairs
	}
	if c.Relationships.BatchSize <= 0 {
		c.Relationships.BatchSize = d.Relationships.BatchSize
	}
	if c.Relationships.Timeout <= 0 {
		c.Relationships.Timeout = d.Relationships.Timeout
	}
	if c.Effects.Timeout <= 0 {
		c.Effects.Timeout = d.Effects.Timeout
	}

	return nil
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"address":               "address",
	"log-level":             "log_level",
	"shutdown-timeout":      "shutdown_timeout",
	"dataset":               "dataset",
	"columns":               "columns",
	"labels":                "labels",
	"backend":               "backend",
	"duckdb-binary":         "duckdb_binary",
	"database":              "database",
	"max-output-bytes":      "max_output_bytes",
	"query-timeout":         "query_timeout",
	"slow-query-threshold":  "slow_query_threshold",
	"metrics":               "metrics.enabled",
	"metrics-address":       "metrics.address",
	"metrics-path":          "metrics.path",
	"cache":                 "cache.enabled",
	"cache-max-entries":     "cache.max_entries",
	"cache-ttl":             "cache.ttl",
	"max-categorical-pairs": "relationships.max_categorical_pairs",
	"batch-size":            "relationships.batch_size",
}

// BindFlags binds every known flag present in flags to v and enables
// TALLY_* environment overrides.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return nil
}

// Load builds the configuration from v: defaults, then the optional config
// file, then environment variables and flags. The result is validated.
func Load(v *viper.Viper, file string) (*Config, error) {
	d := DefaultConfig()
	setDefaults(v, d)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Address:            v.GetString("address"),
		LogLevel:           v.GetString("log_level"),
		ShutdownTimeout:    v.GetDuration("shutdown_timeout"),
		Dataset:            v.GetString("dataset"),
		Columns:            v.GetString("columns"),
		Labels:             v.GetString("labels"),
		Backend:            v.GetString("backend"),
		DuckDBBinary:       v.GetString("duckdb_binary"),
		Database:           v.GetString("database"),
		MaxOutputBytes:     v.GetInt("max_output_bytes"),
		QueryTimeout:       v.GetDuration("query_timeout"),
		SlowQueryThreshold: v.GetDuration("slow_query_threshold"),
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Address: v.GetString("metrics.address"),
			Path:    v.GetString("metrics.path"),
		},
		Cache: CacheConfig{
			Enabled:    v.GetBool("cache.enabled"),
			MaxEntries: v.GetInt("cache.max_entries"),
			TTL:        v.GetDuration("cache.ttl"),
		},
		Relationships: RelationshipsConfig{
			Output:              v.GetString("relationships.output"),
			MaxCategoricalPairs: v.GetInt("relationships.max_categorical_pairs"),
			BatchSize:           v.GetInt("relationships.batch_size"),
			Timeout:             v.GetDuration("relationships.timeout"),
		},
		Effects: EffectsConfig{
			Output:  v.GetString("effects.output"),
			Timeout: v.GetDuration("effects.timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("address", d.Address)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("dataset", d.Dataset)
	v.SetDefault("columns", d.Columns)
	v.SetDefault("labels", d.Labels)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("duckdb_binary", d.DuckDBBinary)
	v.SetDefault("database", d.Database)
	v.SetDefault("max_output_bytes", d.MaxOutputBytes)
	v.SetDefault("query_timeout", d.QueryTimeout)
	v.SetDefault("slow_query_threshold", d.SlowQueryThreshold)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("relationships.output", d.Relationships.Output)
	v.SetDefault("relationships.max_categorical_pairs", d.Relationships.MaxCategoricalPairs)
	v.SetDefault("relationships.batch_size", d.Relationships.BatchSize)
	v.SetDefault("relationships.timeout", d.Relationships.Timeout)
	v.SetDefault("effects.output", d.Effects.Output)
	v.SetDefault("effects.timeout", d.Effects.Timeout)
}
