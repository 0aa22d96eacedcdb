// Package scheduler polls active schedules for due-ness and turns each due
// schedule into exactly one queued fire. It also owns the manual trigger path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantpulse/symsync/pkg/locks"
	"github.com/quantpulse/symsync/pkg/models"
	"github.com/quantpulse/symsync/pkg/observability"
	"github.com/quantpulse/symsync/pkg/store"
	"github.com/quantpulse/symsync/pkg/tasks"
)

var (
	// ErrLockConflict is returned when a manual trigger finds the schedule
	// already executing
	ErrLockConflict = errors.New("schedule is already executing")
	// ErrRecentlyRun is returned when a manual trigger lands inside the
	// debounce window of the previous run
	ErrRecentlyRun = errors.New("schedule ran too recently")
)

// Service defines the public interface for the scheduler poller
type Service interface {
	Start(ctx context.Context) error
	Stop() error

	// TriggerNow fires a schedule immediately, bypassing the queue. It
	// returns the run id correlating the per-source jobs of this fire.
	TriggerNow(ctx context.Context, scheduleID, requester string) (string, error)
}

type service struct {
	log       logrus.FieldLogger
	cfg       *Config
	schedules store.ScheduleStore
	registry  *locks.Registry
	queue     tasks.Service
	executor  tasks.Executor

	// Manual fires keep running through caller shutdown
	runCtx context.Context

	done chan struct{}
	wg   sync.WaitGroup

	// now is swappable for tests
	now func() time.Time
}

// NewService creates a new scheduler poller
func NewService(log logrus.FieldLogger, cfg *Config, schedules store.ScheduleStore, registry *locks.Registry, queue tasks.Service, executor tasks.Executor) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &service{
		log:       log.WithField("service", "scheduler"),
		cfg:       cfg,
		schedules: schedules,
		registry:  registry,
		queue:     queue,
		executor:  executor,
		done:      make(chan struct{}),
		now:       time.Now,
	}, nil
}

// Start launches the poll loop
func (s *service) Start(ctx context.Context) error {
	s.runCtx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go s.pollLoop()

	s.log.WithField("interval", s.cfg.PollInterval.String()).Info("Scheduler started")

	return nil
}

// Stop terminates the poll loop. In-flight fires are owned by the queue
// worker and manual-trigger goroutines, not by the poller.
func (s *service) Stop() error {
	close(s.done)
	s.wg.Wait()

	s.log.Info("Scheduler stopped")

	return nil
}

func (s *service) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.poll(s.runCtx)
		}
	}
}

// poll walks active schedules once and enqueues every due one. A failure on
// one schedule never blocks the rest of the sweep.
func (s *service) poll(ctx context.Context) {
	scheds, err := s.schedules.ListActiveSchedules(ctx)
	if err != nil {
		s.log.WithError(err).Error("Failed to list active schedules")

		return
	}

	now := s.now()

	for i := range scheds {
		sched := &scheds[i]
		if err := s.fireIfDue(ctx, sched, now); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"schedule_id": sched.ID,
				"schedule":    sched.Name,
			}).Error("Failed to evaluate schedule")
		}
	}
}

func (s *service) fireIfDue(ctx context.Context, sched *models.Schedule, now time.Time) error {
	due, next, err := evaluate(sched, now)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	logCtx := s.log.WithFields(logrus.Fields{
		"schedule_id": sched.ID,
		"schedule":    sched.Name,
		"timing":      sched.TimingSummary(),
	})

	// A run finished moments ago: absorb the double fire but still move
	// next_run_at forward so the schedule does not stay permanently due
	if sched.LastRunAt != nil && now.Sub(*sched.LastRunAt) < s.cfg.DebounceWindow {
		logCtx.Debug("Schedule ran recently, skipping fire")
		observability.RecordScheduleSkipped("recently_ran")

		return s.advance(ctx, sched.ID, next)
	}

	if s.registry.Held(sched.ID) {
		logCtx.Warn("Schedule still executing, skipping fire")
		observability.LockConflicts.Inc()
		observability.RecordScheduleSkipped("lock_held")

		return s.advance(ctx, sched.ID, next)
	}

	if err := s.schedules.ClaimRun(ctx, sched.ID, now, next); err != nil {
		return fmt.Errorf("claim run: %w", err)
	}

	runID := uuid.New().String()
	item := &tasks.Item{
		Schedule:    sched,
		RunID:       runID,
		FireAt:      now,
		TriggeredBy: "scheduler",
	}

	if err := s.queue.Enqueue(item); err != nil {
		// Already counted and logged by the queue; next_run_at has moved
		// on, so the schedule fires again next period
		return nil
	}

	logCtx.WithField("run_id", runID).Info("Schedule fire enqueued")
	observability.RecordScheduleFired(string(sched.Mode), "scheduler")

	return nil
}

// advance moves next_run_at for a skipped fire; RUN_ONCE has no next
func (s *service) advance(ctx context.Context, scheduleID string, next *time.Time) error {
	if next == nil {
		return nil
	}

	return s.schedules.AdvanceNextRun(ctx, scheduleID, *next)
}

// TriggerNow bypasses the queue: it claims the schedule's lock up front and
// runs the pipeline on a dedicated goroutine, so a manual fire can never
// overlap a scheduled one.
func (s *service) TriggerNow(ctx context.Context, scheduleID, requester string) (string, error) {
	sched, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return "", err
	}

	if !s.registry.TryAcquire(sched.ID) {
		observability.LockConflicts.Inc()

		return "", ErrLockConflict
	}

	// From here the lock must be released exactly once on every path
	now := s.now()

	if sched.LastRunAt != nil && now.Sub(*sched.LastRunAt) < s.cfg.DebounceWindow {
		s.registry.Release(sched.ID)

		return "", ErrRecentlyRun
	}

	next, err := nextAfter(sched, now)
	if err != nil {
		s.registry.Release(sched.ID)

		return "", err
	}

	if err := s.schedules.ClaimRun(ctx, sched.ID, now, next); err != nil {
		s.registry.Release(sched.ID)

		return "", fmt.Errorf("claim run: %w", err)
	}

	runID := uuid.New().String()

	s.log.WithFields(logrus.Fields{
		"schedule_id": sched.ID,
		"schedule":    sched.Name,
		"run_id":      runID,
		"requester":   requester,
	}).Info("Manual trigger accepted")
	observability.RecordScheduleFired(string(sched.Mode), "manual")

	runCtx := s.runCtx
	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.registry.Release(sched.ID)

		s.executor.ExecuteSchedule(runCtx, sched, runID, requester)
	}()

	return runID, nil
}

var _ Service = (*service)(nil)
