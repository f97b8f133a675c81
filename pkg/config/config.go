package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all KinderGate configuration.
type Config struct {
	Listen      string                `yaml:"listen"`
	DBPath      string                `yaml:"db_path"`
	Provider    ProviderConfig        `yaml:"provider"`
	Cache       CacheConfig           `yaml:"cache"`
	Tiers       map[string]TierConfig `yaml:"tiers"`
	Pricing     map[string]float64    `yaml:"pricing"`
	Maintenance MaintenanceConfig     `yaml:"maintenance"`
}

// ProviderConfig defines the upstream LLM provider.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// TierConfig is one tier's rate limits and cache TTL.
type TierConfig struct {
	MaxPerMinute int           `yaml:"max_per_minute"`
	MaxPerHour   int           `yaml:"max_per_hour"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// MaintenanceConfig controls the periodic cleanup loop.
type MaintenanceConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns a Config with sensible defaults. Tier limits and model
// pricing mirror the values the observation-analysis pipeline was tuned for.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "kindergate.db",
		Provider: ProviderConfig{
			Name:  "openai",
			Model: "gpt-3.5-turbo",
		},
		Cache: CacheConfig{
			Capacity: 1000,
		},
		Tiers: map[string]TierConfig{
			"quick":    {MaxPerMinute: 10, MaxPerHour: 100, CacheTTL: 15 * time.Minute},
			"analysis": {MaxPerMinute: 2, MaxPerHour: 20, CacheTTL: time.Hour},
			"report":   {MaxPerMinute: 1, MaxPerHour: 5, CacheTTL: 24 * time.Hour},
		},
		Pricing: map[string]float64{
			"gpt-3.5-turbo":       0.002,
			"gpt-4":               0.03,
			"gpt-4-turbo-preview": 0.01,
		},
		Maintenance: MaintenanceConfig{
			Interval: 5 * time.Minute,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("config: at least one tier must be configured")
	}
	for name, t := range c.Tiers {
		if t.MaxPerMinute <= 0 || t.MaxPerHour <= 0 {
			return fmt.Errorf("config: tier %q has non-positive limits", name)
		}
		if t.CacheTTL <= 0 {
			return fmt.Errorf("config: tier %q has non-positive cache TTL", name)
		}
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("config: cache capacity must be positive")
	}
	return nil
}
