// Package tasks owns the execution queue: a bounded FIFO of schedule fires
// drained by a single worker, so pipeline runs never overlap.
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantpulse/symsync/pkg/locks"
	"github.com/quantpulse/symsync/pkg/models"
	"github.com/quantpulse/symsync/pkg/observability"
	"github.com/quantpulse/symsync/pkg/pipeline"
)

// ErrQueueFull is returned when the queue is at capacity and the fire is dropped
var ErrQueueFull = errors.New("execution queue is full")

// Executor runs one schedule fire end to end
type Executor interface {
	ExecuteSchedule(ctx context.Context, sched *models.Schedule, runID, triggeredBy string)
}

// Item is one queued schedule fire. The schedule is a snapshot taken at
// enqueue time; later edits do not affect an already queued fire.
type Item struct {
	Schedule    *models.Schedule
	RunID       string
	FireAt      time.Time
	TriggeredBy string
}

// Service is the execution queue interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
	// Enqueue adds a fire to the queue, returning ErrQueueFull on overflow
	Enqueue(item *Item) error
	// Depth reports the number of pending fires
	Depth() int
}

type service struct {
	log      logrus.FieldLogger
	cfg      *Config
	registry *locks.Registry
	executor Executor

	queue    chan *Item
	done     chan struct{}
	workDone chan struct{}
}

// NewService creates a new execution queue service
func NewService(log logrus.FieldLogger, cfg *Config, registry *locks.Registry, executor Executor) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &service{
		log:      log.WithField("service", "tasks"),
		cfg:      cfg,
		registry: registry,
		executor: executor,
		queue:    make(chan *Item, cfg.Capacity),
		done:     make(chan struct{}),
		workDone: make(chan struct{}),
	}, nil
}

// Start launches the single queue worker
func (s *service) Start(ctx context.Context) error {
	// Fires already dequeued keep running through caller shutdown
	runCtx := context.WithoutCancel(ctx)

	go s.work(runCtx)

	s.log.WithField("capacity", s.cfg.Capacity).Info("Execution queue started")

	return nil
}

// Stop terminates the worker after it finishes the in-flight fire
func (s *service) Stop() error {
	close(s.done)
	<-s.workDone

	s.log.Info("Execution queue stopped")

	return nil
}

func (s *service) Enqueue(item *Item) error {
	select {
	case s.queue <- item:
		observability.QueueDepth.Set(float64(len(s.queue)))

		return nil
	default:
		s.log.WithFields(logrus.Fields{
			"schedule_id": item.Schedule.ID,
			"schedule":    item.Schedule.Name,
		}).Warn("Execution queue full, dropping fire")
		observability.RecordScheduleSkipped("queue_full")

		return ErrQueueFull
	}
}

func (s *service) Depth() int {
	return len(s.queue)
}

func (s *service) work(ctx context.Context) {
	defer close(s.workDone)

	for {
		select {
		case <-s.done:
			return
		case item := <-s.queue:
			observability.QueueDepth.Set(float64(len(s.queue)))
			s.execute(ctx, item)
		}
	}
}

// execute runs one dequeued fire under the schedule's lock. A held lock means
// a manual trigger got in between enqueue and dequeue; the fire is skipped,
// never re-queued.
func (s *service) execute(ctx context.Context, item *Item) {
	if !s.registry.TryAcquire(item.Schedule.ID) {
		s.log.WithFields(logrus.Fields{
			"schedule_id": item.Schedule.ID,
			"schedule":    item.Schedule.Name,
		}).Warn("Schedule locked at dequeue, skipping fire")
		observability.LockConflicts.Inc()
		observability.RecordScheduleSkipped("lock_held")

		return
	}
	defer s.registry.Release(item.Schedule.ID)

	s.log.WithFields(logrus.Fields{
		"schedule_id": item.Schedule.ID,
		"schedule":    item.Schedule.Name,
		"run_id":      item.RunID,
		"queued_for":  time.Since(item.FireAt).String(),
	}).Info("Executing schedule fire")

	s.executor.ExecuteSchedule(ctx, item.Schedule, item.RunID, item.TriggeredBy)
}

var _ Service = (*service)(nil)

var _ Executor = (pipeline.Service)(nil)
