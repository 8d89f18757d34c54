// Package config handles configuration loading for runforge. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/runforge/runforge/internal/manifest"
)

// Config holds all configuration for runforge.
type Config struct {
	Defaults     DefaultsConfig               `mapstructure:"defaults"`
	Environments map[string]EnvironmentConfig `mapstructure:"environments"`
	Validation   ValidationConfig             `mapstructure:"validation"`
	Enforcement  EnforcementConfig            `mapstructure:"enforcement"`
	Rules        RulesConfig                  `mapstructure:"rules"`
	Report       ReportConfig                 `mapstructure:"report"`
}

// DefaultsConfig holds default run settings.
type DefaultsConfig struct {
	Env         string `mapstructure:"env"`
	DiagLevel   int    `mapstructure:"diag_level"`
	Ruleset     string `mapstructure:"ruleset"`
	EvidenceDir string `mapstructure:"evidence_dir"`
}

// EnvironmentConfig describes one datamart environment.
type EnvironmentConfig struct {
	DatamartPath string `mapstructure:"datamart_path"`
	ReadOnly     bool   `mapstructure:"read_only"`
}

// ValidationConfig holds orchestrator settings.
type ValidationConfig struct {
	Dir          string        `mapstructure:"dir"`
	Workers      int           `mapstructure:"workers"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SlowTimeout  time.Duration `mapstructure:"slow_timeout"`
	SlowPatterns []string      `mapstructure:"slow_patterns"`
	PolicyFile   string        `mapstructure:"policy_file"`
}

// EnforcementConfig holds enforcer settings.
type EnforcementConfig struct {
	AllowedPaths []string `mapstructure:"allowed_paths"`
	WatchDirs    []string `mapstructure:"watch_dirs"`
}

// RulesConfig holds the manifest business rule set.
type RulesConfig struct {
	CategoryColumn     string   `mapstructure:"category_column"`
	PrimaryCategory    string   `mapstructure:"primary_category"`
	CategoryFocusRatio float64  `mapstructure:"category_focus_ratio"`
	LocationColumn     string   `mapstructure:"location_column"`
	PrimaryLocation    string   `mapstructure:"primary_location"`
	LocationRatio      float64  `mapstructure:"location_ratio"`
	KeyColumns         []string `mapstructure:"key_columns"`
	KeyNullThreshold   float64  `mapstructure:"key_null_threshold"`
	QuantityColumn     string   `mapstructure:"quantity_column"`
	QuantityMin        float64  `mapstructure:"quantity_min"`
	QuantityMax        float64  `mapstructure:"quantity_max"`
}

// RuleSet converts the configured rules into the manifest package's form.
func (r RulesConfig) RuleSet() manifest.RuleSet {
	return manifest.RuleSet{
		CategoryColumn:     r.CategoryColumn,
		PrimaryCategory:    r.PrimaryCategory,
		CategoryFocusRatio: r.CategoryFocusRatio,
		LocationColumn:     r.LocationColumn,
		PrimaryLocation:    r.PrimaryLocation,
		LocationRatio:      r.LocationRatio,
		KeyColumns:         r.KeyColumns,
		KeyNullThreshold:   r.KeyNullThreshold,
		QuantityColumn:     r.QuantityColumn,
		QuantityMin:        r.QuantityMin,
		QuantityMax:        r.QuantityMax,
	}
}

// ReportConfig holds build reporter settings.
type ReportConfig struct {
	OutputDir       string          `mapstructure:"output_dir"`
	ExportDir       string          `mapstructure:"export_dir"`
	HashDropColumns []string        `mapstructure:"hash_drop_columns"`
	Stages          map[string]bool `mapstructure:"stages"`
}

// EnvironmentFor returns the configuration for a named environment.
func (c *Config) EnvironmentFor(name string) (EnvironmentConfig, bool) {
	env, ok := c.Environments[name]
	return env, ok
}

// Load loads configuration with the usual precedence, highest first:
// environment variables, project config (.runforge.yaml in the current
// directory or a parent), user config (~/.config/runforge/config.yaml),
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("defaults.env", "RUNFORGE_ENV")
	v.BindEnv("defaults.diag_level", "RUNFORGE_DIAG")
	v.BindEnv("defaults.ruleset", "RUNFORGE_RULESET")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without touching the
// filesystem.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("defaults.env", "test")
	v.SetDefault("defaults.diag_level", 3)
	v.SetDefault("defaults.ruleset", "default")
	v.SetDefault("defaults.evidence_dir", "logs/runs")

	v.SetDefault("environments", map[string]any{
		"test":   map[string]any{"datamart_path": "data/test.db", "read_only": false},
		"dev":    map[string]any{"datamart_path": "data/dev.db", "read_only": false},
		"lab":    map[string]any{"datamart_path": "data/lab.db", "read_only": false},
		"audit":  map[string]any{"datamart_path": "data/audit.db", "read_only": true},
		"client": map[string]any{"datamart_path": "data/client.db", "read_only": true},
	})

	v.SetDefault("validation.dir", "validation")
	v.SetDefault("validation.workers", 4)
	v.SetDefault("validation.timeout", "10m")
	v.SetDefault("validation.slow_timeout", "20m")
	v.SetDefault("validation.slow_patterns", []string{"report"})
	v.SetDefault("validation.policy_file", "policies.yaml")

	v.SetDefault("enforcement.allowed_paths", []string{"data", "logs"})
	v.SetDefault("enforcement.watch_dirs", []string{})

	defaultRules := manifest.DefaultRuleSet()
	v.SetDefault("rules.category_column", defaultRules.CategoryColumn)
	v.SetDefault("rules.primary_category", defaultRules.PrimaryCategory)
	v.SetDefault("rules.category_focus_ratio", defaultRules.CategoryFocusRatio)
	v.SetDefault("rules.location_column", defaultRules.LocationColumn)
	v.SetDefault("rules.primary_location", defaultRules.PrimaryLocation)
	v.SetDefault("rules.location_ratio", defaultRules.LocationRatio)
	v.SetDefault("rules.key_columns", defaultRules.KeyColumns)
	v.SetDefault("rules.key_null_threshold", defaultRules.KeyNullThreshold)
	v.SetDefault("rules.quantity_column", defaultRules.QuantityColumn)
	v.SetDefault("rules.quantity_min", defaultRules.QuantityMin)
	v.SetDefault("rules.quantity_max", defaultRules.QuantityMax)

	v.SetDefault("report.output_dir", "reports")
	v.SetDefault("report.export_dir", "exports")
	v.SetDefault("report.hash_drop_columns", []string{"loaded_at", "updated_at"})
	v.SetDefault("report.stages", map[string]bool{
		"export":   true,
		"validate": true,
		"report":   true,
	})
}

// userConfigDir returns the XDG config directory for runforge.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "runforge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "runforge")
}

// findProjectConfig walks up from the current directory looking for a
// .runforge.yaml file.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".runforge.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
