package tasks

import "errors"

// ErrInvalidCapacity is returned when the queue capacity is not positive
var ErrInvalidCapacity = errors.New("queue capacity must be positive")

// Config defines execution queue configuration
type Config struct {
	// Capacity bounds the number of pending fires; enqueues beyond it are
	// dropped and counted
	Capacity int `yaml:"capacity" default:"64"`
}

// Validate checks if the queue configuration is valid
func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		return ErrInvalidCapacity
	}

	return nil
}
