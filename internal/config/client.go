package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/syntrixbase/docwatch/internal/resource"
	"github.com/syntrixbase/docwatch/internal/watch"
)

// ClientConfig describes how a Connection reaches the database.
type ClientConfig struct {
	ProjectID  string `yaml:"project_id"`
	DatabaseID string `yaml:"database_id"`
	Address    string `yaml:"address"`

	// TLS dials with transport security. CAFile optionally replaces the
	// system roots.
	TLS    bool   `yaml:"tls"`
	CAFile string `yaml:"ca_file"`

	// AuthSecret enables HS256 bearer tokens on every call.
	AuthSecret string        `yaml:"auth_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`

	Watch watch.Config `yaml:"watch"`
}

// DefaultClientConfig targets a local emulator.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ProjectID:  "demo-docwatch",
		DatabaseID: resource.DefaultDatabase,
		Address:    "localhost:8080",
		TokenTTL:   time.Hour,
		Watch:      watch.DefaultConfig(),
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *ClientConfig) ApplyDefaults() {
	defaults := DefaultClientConfig()
	if c.DatabaseID == "" {
		c.DatabaseID = defaults.DatabaseID
	}
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = defaults.TokenTTL
	}
	c.Watch.ApplyDefaults()
}

// ApplyEnvOverrides applies environment variable overrides.
// FIRESTORE_EMULATOR_HOST always means a plaintext connection.
func (c *ClientConfig) ApplyEnvOverrides() {
	if val := os.Getenv("FIRESTORE_EMULATOR_HOST"); val != "" {
		c.Address = val
		c.TLS = false
	}
	if val := os.Getenv("DOCWATCH_PROJECT_ID"); val != "" {
		c.ProjectID = val
	}
	if val := os.Getenv("DOCWATCH_DATABASE_ID"); val != "" {
		c.DatabaseID = val
	}
	if val := os.Getenv("DOCWATCH_AUTH_SECRET"); val != "" {
		c.AuthSecret = val
	}
}

// ResolvePaths resolves a relative CA file against configDir.
func (c *ClientConfig) ResolvePaths(configDir string) {
	if c.CAFile != "" && !filepath.IsAbs(c.CAFile) {
		c.CAFile = filepath.Join(configDir, c.CAFile)
	}
}

// Validate returns an error if the configuration is invalid.
func (c *ClientConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("client project_id is required")
	}
	if c.Address == "" {
		return fmt.Errorf("client address is required")
	}
	if c.CAFile != "" && !c.TLS {
		return fmt.Errorf("client ca_file requires tls")
	}
	if c.AuthSecret != "" && c.TokenTTL < time.Minute {
		return fmt.Errorf("client token_ttl must be at least 1m, got %s", c.TokenTTL)
	}
	return c.Watch.Validate()
}

// Root returns the resource root the configuration points at.
func (c *ClientConfig) Root() resource.Root {
	return resource.NewRoot(c.ProjectID, c.DatabaseID)
}
