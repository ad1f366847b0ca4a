// Package config provides configuration management for dex-analysis.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/dex-analysis/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. DEX_ANALYSIS_GRANULARITY.
const EnvPrefix = "DEX"

// Config holds all configuration for the application.
type Config struct {
	Analysis       AnalysisConfig       `mapstructure:"analysis"`
	Report         ReportConfig         `mapstructure:"report"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Log            LogConfig            `mapstructure:"log"`
	Classification ClassificationConfig `mapstructure:"classification"`
}

// AnalysisConfig holds analysis-related configuration.
type AnalysisConfig struct {
	Version string `mapstructure:"version"`
	// Granularity is one of package, class or method.
	Granularity string `mapstructure:"granularity"`
	SortOutput  bool   `mapstructure:"sort_output"`
	// SharedEntryPolicy selects how shared table entries are apportioned.
	// Only first_owner is supported.
	SharedEntryPolicy string `mapstructure:"shared_entry_policy"`
	// MethodSharedEntries is first_owner or class.
	MethodSharedEntries string `mapstructure:"method_shared_entries"`
	MaxWorker           int    `mapstructure:"max_worker"`
	DataDir             string `mapstructure:"data_dir"`
}

// ReportConfig holds report rendering configuration.
type ReportConfig struct {
	Format   string `mapstructure:"format"` // text, json, json.gz, json.zst, folded or pprof
	Output   string `mapstructure:"output"`
	MaxDepth int    `mapstructure:"max_depth"`
	MinSize  uint64 `mapstructure:"min_size"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Path     string `mapstructure:"path"` // sqlite file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
	// Access selects the run repository: gorm, or sql for hand-written
	// queries on the same connection. The schema is migrated either way.
	Access string `mapstructure:"access"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty means stderr
	Format     string `mapstructure:"format"`      // json or text
}

// ClassificationConfig points at an optional TOML ruleset that replaces the
// built-in package categories.
type ClassificationConfig struct {
	RulesFile string `mapstructure:"rules_file"`
}

var (
	validGranularities   = []string{"package", "class", "method"}
	validMethodShared    = []string{"first_owner", "class"}
	validReportFormats   = []string{"text", "json", "json.gz", "json.zst", "folded", "pprof"}
	validDatabaseTypes   = []string{"sqlite", "postgres", "mysql"}
	validDatabaseAccess  = []string{"gorm", "sql"}
	validSharedPolicies  = []string{"first_owner"}
	validStorageBackends = []string{"local", "cos"}
)

// Load reads configuration from the specified file path. A missing file is
// not an error; defaults and environment overrides still apply.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dex-analysis")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config file", err)
		}
	}

	return unmarshal(v)
}

// LoadFromReader loads configuration from raw content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config", err)
	}
	return unmarshal(v)
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Analysis defaults
	v.SetDefault("analysis.version", "1.0.0")
	v.SetDefault("analysis.granularity", "class")
	v.SetDefault("analysis.sort_output", false)
	v.SetDefault("analysis.shared_entry_policy", "first_owner")
	v.SetDefault("analysis.method_shared_entries", "first_owner")
	v.SetDefault("analysis.max_worker", 4)
	v.SetDefault("analysis.data_dir", "./data")

	// Report defaults
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "")
	v.SetDefault("report.max_depth", 0)
	v.SetDefault("report.min_size", 0)

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/dex-analysis.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.access", "gorm")

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
	v.SetDefault("log.format", "text")

	v.SetDefault("classification.rules_file", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	checks := []struct {
		field string
		value string
		valid []string
	}{
		{"analysis.granularity", c.Analysis.Granularity, validGranularities},
		{"analysis.shared_entry_policy", c.Analysis.SharedEntryPolicy, validSharedPolicies},
		{"analysis.method_shared_entries", c.Analysis.MethodSharedEntries, validMethodShared},
		{"report.format", c.Report.Format, validReportFormats},
		{"database.type", c.Database.Type, validDatabaseTypes},
		{"database.access", c.Database.Access, validDatabaseAccess},
		{"storage.type", c.Storage.Type, validStorageBackends},
	}
	for _, chk := range checks {
		if !contains(chk.valid, chk.value) {
			return apperrors.Newf(apperrors.CodeConfigError,
				"unsupported %s %q (want one of %s)", chk.field, chk.value, strings.Join(chk.valid, ", "))
		}
	}

	if c.Analysis.MaxWorker < 1 {
		return apperrors.New(apperrors.CodeConfigError, "analysis.max_worker must be at least 1")
	}
	if c.Report.MaxDepth < 0 {
		return apperrors.New(apperrors.CodeConfigError, "report.max_depth must not be negative")
	}

	if c.Database.Type == "sqlite" {
		if c.Database.Path == "" {
			return apperrors.New(apperrors.CodeConfigError, "database path is required for sqlite")
		}
	} else if c.Database.Host == "" {
		return apperrors.New(apperrors.CodeConfigError, "database host is required")
	}

	// Storage credential validation is delegated to the storage package.
	return nil
}

// EnsureDataDir creates the data directory and its downloads staging
// directory if they don't exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DownloadDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	return nil
}

// DownloadDir is where containers fetched from storage are staged.
func (c *Config) DownloadDir() string {
	return filepath.Join(c.Analysis.DataDir, "downloads")
}

// DownloadPath returns where a container fetched from storage is staged.
func (c *Config) DownloadPath(key string) string {
	return filepath.Join(c.DownloadDir(), filepath.Base(key))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
