// Package config loads the tool configuration from a YAML file.
//
// Configuration covers wiring only - where the run database lives, how to
// reach the registry, where datasets land on disk, which policy file to
// load. Domain policy (upload target, excluded locations, raw types) lives
// in the CUE policy file, not here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the tool configuration.
type Config struct {
	// RunDB is the path of the local run-metadata SQLite database.
	RunDB string `yaml:"rundb"`

	// Registry configures the replica-registry client.
	Registry RegistryConfig `yaml:"registry"`

	// DataRoot is the processing host's dataset directory.
	DataRoot string `yaml:"data_root"`

	// Policy is the path of the CUE site-policy file.
	Policy string `yaml:"policy"`
}

// RegistryConfig configures the replica-registry HTTP client.
type RegistryConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Default returns a configuration with sensible local defaults.
func Default() Config {
	return Config{
		RunDB: "replicaudit.db",
		Registry: RegistryConfig{
			BaseURL:        "http://localhost:8080",
			TimeoutSeconds: 30,
		},
		DataRoot: "./data",
		Policy:   "policy.cue",
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.RunDB == "" {
		return Config{}, fmt.Errorf("config: rundb path must not be empty")
	}
	if cfg.Registry.BaseURL == "" {
		return Config{}, fmt.Errorf("config: registry.base_url must not be empty")
	}
	if cfg.Registry.TimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("config: registry.timeout_seconds must be positive")
	}

	return cfg, nil
}

// Timeout returns the registry request timeout as a duration.
func (r RegistryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}
