package server

import (
	"fmt"
	"os"
	"time"
)

// Config holds the configuration of the gRPC server.
type Config struct {
	Host string `yaml:"host"`

	GRPCPort          int  `yaml:"grpc_port"`
	GRPCMaxConcurrent uint `yaml:"grpc_max_concurrent"`
	EnableReflection  bool `yaml:"enable_reflection"`

	// AuthSecret, when set, requires an HS256 bearer token on every call.
	AuthSecret string `yaml:"auth_secret"`
	// AuthProject restricts tokens to one project.
	AuthProject string `yaml:"auth_project"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns safe defaults for development.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		GRPCPort:        8080,
		ShutdownTimeout: 10 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.GRPCPort == 0 {
		c.GRPCPort = defaults.GRPCPort
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DOCWATCH_AUTH_SECRET"); val != "" {
		c.AuthSecret = val
	}
}

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in server config.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("server grpc_port out of range: %d", c.GRPCPort)
	}
	if c.AuthProject != "" && c.AuthSecret == "" {
		return fmt.Errorf("server auth_project requires auth_secret")
	}
	return nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}
