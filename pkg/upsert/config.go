// Package upsert merges staged datasets into the symbols reference table,
// partitioning rows into insert and update sets by natural key and writing
// both in bounded batches.
package upsert

import "errors"

var (
	// ErrInvalidBatchSize is returned when the batch size is not positive
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	// ErrKeyColumnsRequired is returned when a natural-key column name is empty
	ErrKeyColumnsRequired = errors.New("both natural-key column names are required")
)

// Config defines upsert engine configuration
type Config struct {
	// BatchSize bounds one insert/update statement batch
	BatchSize int `yaml:"batchSize" default:"500"`
	// ExchangeColumn is the dataset column holding the namespace half of the
	// natural key
	ExchangeColumn string `yaml:"exchangeColumn" default:"exchange"`
	// CodeColumn is the dataset column holding the identifier half of the
	// natural key
	CodeColumn string `yaml:"codeColumn" default:"symbol"`
}

// Validate checks if the upsert configuration is valid
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.ExchangeColumn == "" || c.CodeColumn == "" {
		return ErrKeyColumnsRequired
	}

	return nil
}
