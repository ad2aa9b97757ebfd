package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/syntrixbase/docwatch/internal/emulator"
	"github.com/syntrixbase/docwatch/internal/server"
	"gopkg.in/yaml.v3"
)

// DefaultDir is where LoadConfig looks for config.yml and config.local.yml.
const DefaultDir = "config"

// Config holds the configuration of both binaries.
type Config struct {
	Client   ClientConfig    `yaml:"client"`
	Server   server.Config   `yaml:"server"`
	Emulator emulator.Config `yaml:"emulator"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// Default returns a configuration with every section at its defaults.
func Default() *Config {
	return &Config{
		Client:   DefaultClientConfig(),
		Server:   server.DefaultConfig(),
		Emulator: emulator.DefaultConfig(),
		Logging:  DefaultLoggingConfig(),
	}
}

// LoadConfig loads configuration from configDir and the environment.
// Order: defaults -> config.yml -> config.local.yml -> ApplyEnvOverrides -> ResolvePaths -> Validate
func LoadConfig(configDir string) (*Config, error) {
	cfg := Default()

	if err := loadFile(filepath.Join(configDir, "config.yml"), cfg); err != nil {
		return nil, err
	}
	if err := loadFile(filepath.Join(configDir, "config.local.yml"), cfg); err != nil {
		return nil, err
	}

	if err := ApplyServiceConfigs(configDir,
		&cfg.Logging,
		&cfg.Client,
		&cfg.Server,
		&cfg.Emulator,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// LoadFile loads a single explicit file on top of the defaults. Relative
// paths inside it resolve against the file's directory.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	cfg := Default()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	if err := ApplyServiceConfigs(filepath.Dir(path),
		&cfg.Logging,
		&cfg.Client,
		&cfg.Server,
		&cfg.Emulator,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// loadFile merges filename into cfg. A missing file is skipped; a file
// that cannot be read or parsed is an error.
func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}
	slog.Debug("Loaded config file", "path", filename)
	return nil
}
