// Package config loads labforge settings from a YAML file with environment
// variable overrides. Precedence: defaults, then file, then LABFORGE_* env.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/labforge/labforge/providers"
)

// Config is the full settings file.
type Config struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	Log      LogConfig     `yaml:"log"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level    string `yaml:"level"`    // debug, info, warn, error
	Encoding string `yaml:"encoding"` // json, console
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Provider: string(providers.KindOllama),
		Endpoint: "http://localhost:11434",
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads path (optional; empty path skips the file), applies LABFORGE_*
// environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LABFORGE_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("LABFORGE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LABFORGE_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("LABFORGE_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("LABFORGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the provider tag. API key presence is enforced by the
// adapters themselves so that a bad config fails with the same
// authorization error a revoked key would.
func (c *Config) Validate() error {
	switch providers.Kind(c.Provider) {
	case providers.KindGemini, providers.KindOpenAI, providers.KindOllama:
		return nil
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
}

// ProviderConfig converts the settings into the factory input.
func (c *Config) ProviderConfig() providers.Config {
	return providers.Config{
		Provider: providers.Kind(c.Provider),
		APIKey:   c.APIKey,
		Model:    c.Model,
		Endpoint: c.Endpoint,
		Timeout:  c.Timeout,
	}
}

// BuildLogger constructs the zap logger described by the log section.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if c.Log.Encoding == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
