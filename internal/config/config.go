package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"itemmanager.ai/internal/inventory"
)

type Config struct {
	Weight  WeightConfig  `yaml:"weight"`
	Slots   SlotsConfig   `yaml:"slots"`
	Storage StorageConfig `yaml:"storage"`
	Decay   DecayConfig   `yaml:"decay"`
	Catalog CatalogConfig `yaml:"catalog"`
}

// WeightConfig determines how much weight a container can hold. Calls may override MaxWeight.
type WeightConfig struct {
	Enabled   bool    `yaml:"enabled"`
	MaxWeight float64 `yaml:"max_weight"`
}

// SlotsConfig determines how many stacks a container can hold. Calls may override MaxSlots.
type SlotsConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxSlots int  `yaml:"max_slots"`
}

type StorageConfig struct {
	// MaxSlots is stamped on storage containers created on first access.
	MaxSlots int `yaml:"max_slots"`
}

type DecayConfig struct {
	// HourDuration is the real time of one in-game hour. Zero disables the clock.
	HourDuration time.Duration `yaml:"hour_duration"`
	Concurrency  int           `yaml:"concurrency"`
}

type CatalogConfig struct {
	// SeedFile is an optional JSON file of item definitions created at startup.
	SeedFile string        `yaml:"seed_file"`
	Wait     time.Duration `yaml:"wait"`
}

func Defaults() Config {
	return Config{
		Weight:  WeightConfig{Enabled: true, MaxWeight: 32},
		Slots:   SlotsConfig{Enabled: true, MaxSlots: 16},
		Storage: StorageConfig{MaxSlots: 16},
		Decay:   DecayConfig{HourDuration: time.Minute},
		Catalog: CatalogConfig{Wait: 10 * time.Second},
	}
}

// Load reads path over Defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("items.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("items.yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if c.Storage.MaxSlots == 0 {
		c.Storage.MaxSlots = c.Slots.MaxSlots
	}
	if c.Decay.Concurrency < 0 {
		c.Decay.Concurrency = 0
	}
	if c.Catalog.Wait <= 0 {
		c.Catalog.Wait = 10 * time.Second
	}
	c.Catalog.SeedFile = strings.TrimSpace(c.Catalog.SeedFile)
}

func (c Config) Validate() error {
	if c.Weight.Enabled && c.Weight.MaxWeight <= 0 {
		return fmt.Errorf("weight.max_weight must be > 0 when weight is enabled")
	}
	if c.Slots.Enabled && c.Slots.MaxSlots <= 0 {
		return fmt.Errorf("slots.max_slots must be > 0 when slots are enabled")
	}
	if c.Storage.MaxSlots < 0 {
		return fmt.Errorf("storage.max_slots must be >= 0")
	}
	if c.Decay.HourDuration < 0 {
		return fmt.Errorf("decay.hour_duration must be >= 0")
	}
	return nil
}

// Policy is the engine capacity policy described by the config.
func (c Config) Policy() inventory.Policy {
	return inventory.Policy{
		SlotsEnabled:  c.Slots.Enabled,
		MaxSlots:      c.Slots.MaxSlots,
		WeightEnabled: c.Weight.Enabled,
		MaxWeight:     c.Weight.MaxWeight,
	}
}
