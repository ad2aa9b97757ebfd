package watch

import (
	"fmt"
	"time"
)

// Config tunes watch workers.
type Config struct {
	// FinishTimeout bounds how long a stopping worker waits for the server
	// to end the stream after half-closing it.
	FinishTimeout time.Duration `yaml:"finish_timeout"`
}

func DefaultConfig() Config {
	return Config{
		FinishTimeout: 5 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.FinishTimeout == 0 {
		c.FinishTimeout = DefaultConfig().FinishTimeout
	}
}

func (c *Config) Validate() error {
	if c.FinishTimeout < 0 {
		return fmt.Errorf("watch finish_timeout must not be negative: %s", c.FinishTimeout)
	}
	return nil
}
