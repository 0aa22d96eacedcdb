package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quantpulse/symsync/pkg/models"
)

// evaluate decides whether a schedule is due at now and, when it is, what its
// next fire time becomes. A nil next means the schedule never fires again.
func evaluate(sched *models.Schedule, now time.Time) (due bool, next *time.Time, err error) {
	switch sched.Mode {
	case models.ModeRunOnce:
		// Fires once, ever: due until its first claimed run
		return sched.LastRunAt == nil, nil, nil

	case models.ModeInterval:
		due, next = evaluateAgainst(sched.NextRunAt, now, now.Add(sched.Interval()))

		return due, next, nil

	case models.ModeCron:
		spec, perr := cron.ParseStandard(sched.CronExpr)
		if perr != nil {
			return false, nil, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, perr)
		}

		due, next = evaluateAgainst(sched.NextRunAt, now, spec.Next(now))

		return due, next, nil

	default:
		return false, nil, fmt.Errorf("%w: %s", models.ErrUnknownMode, sched.Mode)
	}
}

// nextAfter computes the next fire time after now regardless of due-ness,
// for the manual-trigger path where the fire happens unconditionally.
func nextAfter(sched *models.Schedule, now time.Time) (*time.Time, error) {
	switch sched.Mode {
	case models.ModeRunOnce:
		return nil, nil

	case models.ModeInterval:
		next := now.Add(sched.Interval())

		return &next, nil

	case models.ModeCron:
		spec, err := cron.ParseStandard(sched.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
		}
		next := spec.Next(now)

		return &next, nil

	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownMode, sched.Mode)
	}
}

// evaluateAgainst implements the shared INTERVAL/CRON pattern: an unset
// next_run_at means the schedule was never seeded and is due immediately.
func evaluateAgainst(nextRunAt *time.Time, now, upcoming time.Time) (bool, *time.Time) {
	if nextRunAt == nil || !nextRunAt.After(now) {
		return true, &upcoming
	}

	return false, nil
}
