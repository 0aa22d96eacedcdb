// Package pipeline executes one schedule fire: download each de-duplicated
// source, parse it, apply the schedule's transformation script, and hand the
// staged dataset to the upsert engine as an independent background job.
package pipeline

import (
	"errors"
	"time"
)

var (
	// ErrInvalidDownloadTimeout is returned when the download timeout is not positive
	ErrInvalidDownloadTimeout = errors.New("download timeout must be positive")
	// ErrInvalidMaxBytes is returned when the download size cap is not positive
	ErrInvalidMaxBytes = errors.New("max download bytes must be positive")
	// ErrInvalidRate is returned when the per-host request rate is not positive
	ErrInvalidRate = errors.New("requests per second must be positive")
)

// Config defines execution pipeline configuration
type Config struct {
	// DownloadTimeout bounds one source download; hitting it is fatal for
	// that source only
	DownloadTimeout time.Duration `yaml:"downloadTimeout" default:"30s"`
	// MaxDownloadBytes caps one downloaded file to protect scratch space
	MaxDownloadBytes int64 `yaml:"maxDownloadBytes" default:"104857600"`
	// ScratchDir is where in-flight downloads are written; empty means the
	// system temp dir
	ScratchDir string `yaml:"scratchDir"`
	// RequestsPerSecond throttles downloads per source host
	RequestsPerSecond float64 `yaml:"requestsPerSecond" default:"4"`
	// RequestBurst is the per-host burst allowance
	RequestBurst int `yaml:"requestBurst" default:"2"`
}

// Validate checks if the pipeline configuration is valid
func (c *Config) Validate() error {
	if c.DownloadTimeout <= 0 {
		return ErrInvalidDownloadTimeout
	}
	if c.MaxDownloadBytes <= 0 {
		return ErrInvalidMaxBytes
	}
	if c.RequestsPerSecond <= 0 || c.RequestBurst <= 0 {
		return ErrInvalidRate
	}

	return nil
}
