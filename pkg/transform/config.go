// Package transform executes named transformation scripts against staged
// datasets inside an embedded Lua interpreter. Scripts get a narrow
// capability only: given input rows and columns, return output rows and
// columns. No host, filesystem or network access is exposed.
package transform

import (
	"errors"
	"time"
)

// ErrInvalidTimeout is returned when the script timeout is not positive
var ErrInvalidTimeout = errors.New("script timeout must be positive")

// Config defines transformation runner configuration
type Config struct {
	// Timeout bounds a single script execution
	Timeout time.Duration `yaml:"timeout" default:"10s"`
}

// Validate checks if the transformation configuration is valid
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	return nil
}
