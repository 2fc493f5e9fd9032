// Package config provides configuration management for RiskForge.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds all RiskForge configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	ThreatIntel ThreatIntelConfig `yaml:"threat_intel"`
	Gate        GateConfig        `yaml:"gate"`
	Drift       DriftConfig       `yaml:"drift"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds Redis connection settings for the rate limiter.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// ScoringConfig holds evaluation pipeline settings. Weight tables live in
// the scoring package defaults; only deployment-level knobs surface here.
type ScoringConfig struct {
	Workers int `yaml:"workers"`
}

// ThreatIntelConfig holds threat intel feed settings.
type ThreatIntelConfig struct {
	KEV KEVConfig `yaml:"kev"`
}

// KEVConfig holds the known-exploited-vulnerabilities catalog settings.
type KEVConfig struct {
	Enabled         bool          `yaml:"enabled"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// GateConfig holds confidence-gate certification bounds.
type GateConfig struct {
	MinAgreement   float64 `yaml:"min_agreement"`
	MinConfidence  float64 `yaml:"min_confidence"`
	MaxUncertainty float64 `yaml:"max_uncertainty"`
}

// DriftConfig holds drift-monitor settings.
type DriftConfig struct {
	SignificanceLevel    float64 `yaml:"significance_level"`
	MinEffectSize        float64 `yaml:"min_effect_size"`
	ConsecutiveThreshold int     `yaml:"consecutive_threshold"`
	MinSamples           int     `yaml:"min_samples"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file, layered over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Scoring: ScoringConfig{
			Workers: 4,
		},
		ThreatIntel: ThreatIntelConfig{
			KEV: KEVConfig{
				Enabled:         false,
				Timeout:         30 * time.Second,
				CacheTTL:        1 * time.Hour,
				RefreshInterval: 6 * time.Hour,
			},
		},
		Gate: GateConfig{
			MinAgreement:   0.90,
			MinConfidence:  0.95,
			MaxUncertainty: 0.05,
		},
		Drift: DriftConfig{
			SignificanceLevel:    0.001,
			MinEffectSize:        0.3,
			ConsecutiveThreshold: 3,
			MinSamples:           30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewLogger builds a zap logger from the logging settings.
func (c *Config) NewLogger() (*zap.Logger, error) {
	var zc zap.Config
	if c.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}
	zc.Level = level
	return zc.Build()
}
