package scheduler

import (
	"errors"
	"time"
)

var (
	// ErrInvalidPollInterval is returned when the poll interval is not positive
	ErrInvalidPollInterval = errors.New("poll interval must be positive")
	// ErrInvalidDebounceWindow is returned when the debounce window is negative
	ErrInvalidDebounceWindow = errors.New("debounce window must not be negative")
)

// Config defines scheduler poller configuration
type Config struct {
	// PollInterval is how often active schedules are checked for due-ness
	PollInterval time.Duration `yaml:"pollInterval" default:"10s"`
	// DebounceWindow suppresses a fire when the schedule ran this recently,
	// absorbing poll jitter and double triggers
	DebounceWindow time.Duration `yaml:"debounceWindow" default:"5s"`
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.DebounceWindow < 0 {
		return ErrInvalidDebounceWindow
	}

	return nil
}
