// Package store defines the narrow persistence interfaces the sync core
// consumes, plus a SQLite-backed implementation. Connection and session
// management beyond this package belongs to the surrounding backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/quantpulse/symsync/pkg/models"
)

var (
	// ErrScheduleNotFound is returned when a schedule id does not exist
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrScriptNotFound is returned when a script id does not exist
	ErrScriptNotFound = errors.New("transformation script not found")
	// ErrJobLogNotFound is returned when a job id has no durable log row
	ErrJobLogNotFound = errors.New("job log not found")
)

// ScheduleStore reads and updates schedule definitions. All writes are
// single atomic statements.
type ScheduleStore interface {
	// ListActiveSchedules returns all schedules with the active flag set
	ListActiveSchedules(ctx context.Context) ([]models.Schedule, error)

	// GetSchedule returns one schedule by id
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)

	// ClaimRun writes last_run_at and next_run_at together in one statement.
	// nextRun may be nil (RUN_ONCE never reschedules).
	ClaimRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error

	// AdvanceNextRun moves next_run_at forward without touching last_run_at,
	// used when a due schedule is skipped so it cannot become stuck
	AdvanceNextRun(ctx context.Context, id string, nextRun time.Time) error
}

// ScriptStore reads transformation scripts
type ScriptStore interface {
	// GetScript returns one script by id
	GetScript(ctx context.Context, id string) (*models.TransformationScript, error)

	// TouchScriptUsed refreshes the script's last-used timestamp
	TouchScriptUsed(ctx context.Context, id string, usedAt time.Time) error
}

// SymbolKey is the natural key of a target row: case-normalized
// (exchange, code)
type SymbolKey struct {
	Exchange string
	Code     string
}

// Symbol is one target reference-table row
type Symbol struct {
	ID        int64
	Exchange  string
	Code      string
	Name      string
	Status    string
	Source    string
	Attrs     map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SymbolStore merges staged rows into the reference table
type SymbolStore interface {
	// BulkLookup resolves existing ids for the given natural keys in one read
	BulkLookup(ctx context.Context, keys []SymbolKey) (map[SymbolKey]int64, error)

	// BulkInsert creates new rows; identifiers are allocated sequentially by
	// the store
	BulkInsert(ctx context.Context, rows []Symbol) error

	// BulkUpdate modifies non-key attributes of existing rows and refreshes
	// their updated timestamp
	BulkUpdate(ctx context.Context, rows []Symbol) error
}

// JobLog is the durable mirror of an upload job, surviving cache loss
type JobLog struct {
	JobID        string
	ScheduleID   string
	ScheduleName string
	FileName     string
	ScriptName   string
	Timing       string
	Status       string
	Total        int
	Processed    int
	Inserted     int
	Updated      int
	Failed       int
	Errors       []string
	TriggeredBy  string
	StartedAt    time.Time
	EndedAt      *time.Time
	DurationMS   int64
}

// JobLogStore persists job logs
type JobLogStore interface {
	// UpsertJobLog writes the log row, idempotent by job id
	UpsertJobLog(ctx context.Context, jobLog *JobLog) error

	// GetJobLog returns the log row for a job id
	GetJobLog(ctx context.Context, jobID string) (*JobLog, error)
}

// Store aggregates every persistence concern of the sync core
type Store interface {
	ScheduleStore
	ScriptStore
	SymbolStore
	JobLogStore

	Close() error
}
