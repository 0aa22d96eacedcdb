// Package models defines the persisted domain types shared across services
package models

import (
	"errors"
	"strings"
	"time"
)

// ScheduleMode determines how due-ness is computed for a schedule
type ScheduleMode string

const (
	// ModeRunOnce fires exactly once, the first time the poller sees it
	ModeRunOnce ScheduleMode = "RUN_ONCE"
	// ModeInterval fires every fixed interval
	ModeInterval ScheduleMode = "INTERVAL"
	// ModeCron fires according to a cron expression
	ModeCron ScheduleMode = "CRON"
)

// IntervalUnit is the unit for interval-mode schedules
type IntervalUnit string

const (
	// UnitSeconds is an interval expressed in seconds
	UnitSeconds IntervalUnit = "SECONDS"
	// UnitMinutes is an interval expressed in minutes
	UnitMinutes IntervalUnit = "MINUTES"
	// UnitHours is an interval expressed in hours
	UnitHours IntervalUnit = "HOURS"
	// UnitDays is an interval expressed in days
	UnitDays IntervalUnit = "DAYS"
)

var (
	// ErrIntervalFieldsRequired is returned when an INTERVAL schedule has no interval
	ErrIntervalFieldsRequired = errors.New("interval value and unit are required for INTERVAL mode")
	// ErrCronExprRequired is returned when a CRON schedule has no expression
	ErrCronExprRequired = errors.New("cron expression is required for CRON mode")
	// ErrConflictingTiming is returned when both interval fields and a cron expression are set
	ErrConflictingTiming = errors.New("exactly one of interval fields or cron expression may be set")
	// ErrNoSources is returned when a schedule has no sources
	ErrNoSources = errors.New("schedule requires at least one source")
	// ErrUnknownMode is returned for an unrecognized schedule mode
	ErrUnknownMode = errors.New("unknown schedule mode")
)

// Schedule is a persisted rule describing when and what to synchronize
type Schedule struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Mode          ScheduleMode `json:"mode"`
	IntervalValue int          `json:"interval_value,omitempty"`
	IntervalUnit  IntervalUnit `json:"interval_unit,omitempty"`
	CronExpr      string       `json:"cron_expr,omitempty"`
	ScriptID      string       `json:"script_id,omitempty"`
	Active        bool         `json:"active"`
	Sources       []Source     `json:"sources"`
	LastRunAt     *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time   `json:"next_run_at,omitempty"`
	CreatedBy     string       `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Validate checks the schedule's timing invariant: exactly one of
// {interval fields, cron expression} is populated per mode.
func (s *Schedule) Validate() error {
	switch s.Mode {
	case ModeRunOnce:
		// No timing fields required
	case ModeInterval:
		if s.IntervalValue <= 0 || s.IntervalUnit == "" {
			return ErrIntervalFieldsRequired
		}
		if s.CronExpr != "" {
			return ErrConflictingTiming
		}
	case ModeCron:
		if s.CronExpr == "" {
			return ErrCronExprRequired
		}
		if s.IntervalValue != 0 {
			return ErrConflictingTiming
		}
	default:
		return ErrUnknownMode
	}

	if len(s.Sources) == 0 {
		return ErrNoSources
	}

	return nil
}

// Interval returns the configured interval as a duration. Zero for
// non-interval modes.
func (s *Schedule) Interval() time.Duration {
	if s.Mode != ModeInterval {
		return 0
	}

	base := time.Duration(s.IntervalValue)
	switch s.IntervalUnit {
	case UnitSeconds:
		return base * time.Second
	case UnitMinutes:
		return base * time.Minute
	case UnitHours:
		return base * time.Hour
	case UnitDays:
		return base * 24 * time.Hour
	}

	return 0
}

// TimingSummary renders the timing parameters for human-readable provenance
// in job logs.
func (s *Schedule) TimingSummary() string {
	switch s.Mode {
	case ModeInterval:
		return "every " + s.Interval().String()
	case ModeCron:
		return "cron " + s.CronExpr
	case ModeRunOnce:
		return "run once"
	}

	return string(s.Mode)
}

// DedupedSources returns the schedule's sources with duplicate URLs collapsed,
// keeping the first occurrence.
func (s *Schedule) DedupedSources() []Source {
	seen := make(map[string]struct{}, len(s.Sources))
	out := make([]Source, 0, len(s.Sources))

	for _, src := range s.Sources {
		key := strings.TrimSpace(src.URL)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, src)
	}

	return out
}
