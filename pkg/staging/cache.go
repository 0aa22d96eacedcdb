// Package staging holds parsed, possibly transformed datasets in memory
// between a preview (or a schedule fire) and the upsert that consumes them.
package staging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantpulse/symsync/pkg/observability"
	"github.com/quantpulse/symsync/pkg/tabular"
)

// UploadKind distinguishes manual previews from schedule-produced datasets
type UploadKind string

const (
	// KindManual marks datasets staged by a user preview
	KindManual UploadKind = "MANUAL"
	// KindAuto marks datasets staged by a schedule fire
	KindAuto UploadKind = "AUTO"
)

var (
	// ErrInvalidTTL is returned when the staging TTL is not positive
	ErrInvalidTTL = errors.New("staging ttl must be positive")
	// ErrNotFound is returned when a preview id has no staged entry
	ErrNotFound = errors.New("staged dataset not found")
)

// Config defines staging cache configuration
type Config struct {
	// TTL is how long an unconfirmed staged dataset survives
	TTL time.Duration `yaml:"ttl" default:"30m"`
	// SweepInterval is how often the janitor checks for expired entries
	SweepInterval time.Duration `yaml:"sweepInterval" default:"1m"`
}

// Validate checks if the staging configuration is valid
func (c *Config) Validate() error {
	if c.TTL <= 0 || c.SweepInterval <= 0 {
		return ErrInvalidTTL
	}

	return nil
}

// Entry is a staged dataset plus its provenance metadata
type Entry struct {
	ID            string
	Dataset       *tabular.Dataset
	FileName      string
	ScriptID      string
	ScriptName    string
	ScriptApplied bool
	RowsBefore    int
	RowsAfter     int
	ColsBefore    int
	ColsAfter     int
	RequestedBy   string
	Kind          UploadKind
	// Schedule provenance, set only for AUTO entries; carried purely for
	// human-readable context in the job log
	ScheduleID    string
	ScheduleName  string
	TimingSummary string
	CreatedAt     time.Time
}

// Cache is the process-wide staging cache. All access goes through methods
// that take and release the internal mutex; no caller ever sees the map.
type Cache struct {
	log logrus.FieldLogger
	cfg *Config

	mu      sync.Mutex
	entries map[string]*Entry

	done chan struct{}
	wg   sync.WaitGroup
}

// NewCache creates a staging cache
func NewCache(log logrus.FieldLogger, cfg *Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Cache{
		log:     log.WithField("component", "staging"),
		cfg:     cfg,
		entries: make(map[string]*Entry),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the expiry janitor
func (c *Cache) Start(_ context.Context) error {
	c.wg.Add(1)
	go c.sweepLoop()

	c.log.WithField("ttl", c.cfg.TTL.String()).Info("Staging cache started")

	return nil
}

// Stop terminates the expiry janitor
func (c *Cache) Stop() error {
	close(c.done)
	c.wg.Wait()

	return nil
}

// Put stages an entry and returns its preview id. A missing id is assigned;
// CreatedAt is stamped here so expiry is measured from staging time.
func (c *Cache) Put(e *Entry) string {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.ID] = e
	observability.StagedDatasets.Set(float64(len(c.entries)))

	return e.ID
}

// Take consumes and deletes the entry for id. The second return is false
// when the id is unknown or already consumed.
func (c *Cache) Take(id string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	delete(c.entries, id)
	observability.StagedDatasets.Set(float64(len(c.entries)))

	return e, true
}

// Len returns the number of staged entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.cfg.TTL {
			delete(c.entries, id)
			c.log.WithFields(logrus.Fields{
				"preview_id": id,
				"file_name":  e.FileName,
			}).Debug("Expired unconfirmed staged dataset")
		}
	}
	observability.StagedDatasets.Set(float64(len(c.entries)))
}
