package emulator

import (
	"fmt"
	"time"
)

// Config tunes the in-memory emulator.
type Config struct {
	// KeepAliveInterval is how often an idle Listen stream receives a
	// NO_CHANGE target change.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	// StreamBuffer bounds the pending events per Listen stream. A stream
	// that falls this far behind is ended with RESOURCE_EXHAUSTED.
	StreamBuffer int `yaml:"stream_buffer"`

	// TransactionTTL expires transactions that were never committed or
	// rolled back.
	TransactionTTL time.Duration `yaml:"transaction_ttl"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		KeepAliveInterval: 30 * time.Second,
		StreamBuffer:      256,
		TransactionTTL:    time.Minute,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = defaults.KeepAliveInterval
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = defaults.StreamBuffer
	}
	if c.TransactionTTL == 0 {
		c.TransactionTTL = defaults.TransactionTTL
	}
}

// ApplyEnvOverrides applies environment variable overrides.
// No env vars for emulator config currently.
func (c *Config) ApplyEnvOverrides() { _ = c }

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in emulator config.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("emulator keepalive_interval must be positive: %s", c.KeepAliveInterval)
	}
	if c.StreamBuffer <= 0 {
		return fmt.Errorf("emulator stream_buffer must be positive: %d", c.StreamBuffer)
	}
	if c.TransactionTTL <= 0 {
		return fmt.Errorf("emulator transaction_ttl must be positive: %s", c.TransactionTTL)
	}
	return nil
}
