package store

import (
	"errors"
	"time"
)

// ErrPathRequired is returned when no database path is configured
var ErrPathRequired = errors.New("store path is required")

// Config defines store configuration
type Config struct {
	// Path is the SQLite database file; ":memory:" is accepted for tests
	Path string `yaml:"path" default:"symsync.db"`
	// BusyTimeout is the SQLite busy handler timeout
	BusyTimeout time.Duration `yaml:"busyTimeout" default:"5s"`
}

// Validate checks if the store configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return ErrPathRequired
	}

	return nil
}
