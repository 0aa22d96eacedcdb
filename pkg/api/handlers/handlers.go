// Package handlers implements the HTTP handlers behind the API routes.
package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantpulse/symsync/pkg/jobs"
	"github.com/quantpulse/symsync/pkg/scheduler"
	"github.com/quantpulse/symsync/pkg/staging"
	"github.com/quantpulse/symsync/pkg/store"
)

// Triggerer fires a schedule on demand
type Triggerer interface {
	TriggerNow(ctx context.Context, scheduleID, requester string) (string, error)
}

// Launcher starts an upsert run over a staged dataset
type Launcher interface {
	LaunchStaged(entry *staging.Entry, runID, triggeredBy string) string
}

// Server implements the API handlers
type Server struct {
	log       logrus.FieldLogger
	triggerer Triggerer
	jobCache  *jobs.Cache
	jobLogs   store.JobLogStore
	stage     *staging.Cache
	launcher  Launcher
	ready     func() bool
}

// NewServer creates a new API handler server
func NewServer(log logrus.FieldLogger, triggerer Triggerer, jobCache *jobs.Cache, jobLogs store.JobLogStore, stage *staging.Cache, launcher Launcher, ready func() bool) *Server {
	return &Server{
		log:       log.WithField("component", "handlers"),
		triggerer: triggerer,
		jobCache:  jobCache,
		jobLogs:   jobLogs,
		stage:     stage,
		launcher:  launcher,
		ready:     ready,
	}
}

// Register wires the handlers onto an /api/v1 route group
func (s *Server) Register(router fiber.Router) {
	router.Post("/schedules/:id/trigger", s.TriggerSchedule)
	router.Get("/jobs/:id", s.GetJob)
	router.Get("/runs/:id", s.GetRun)
	router.Post("/uploads/:previewId/confirm", s.ConfirmUpload)
}

// RegisterProbes wires the health endpoints onto the app root
func (s *Server) RegisterProbes(app *fiber.App) {
	app.Get("/healthz", s.Healthz)
	app.Get("/readyz", s.Readyz)
}

type triggerRequest struct {
	RequestedBy string `json:"requested_by"`
}

// TriggerSchedule fires a schedule immediately. A schedule already running
// or inside its debounce window answers 409 with the reason.
func (s *Server) TriggerSchedule(c fiber.Ctx) error {
	scheduleID := c.Params("id")

	var req triggerRequest
	// Body is optional; an empty requester is recorded as "api"
	_ = c.Bind().Body(&req)
	if req.RequestedBy == "" {
		req.RequestedBy = "api"
	}

	runID, err := s.triggerer.TriggerNow(c.Context(), scheduleID, req.RequestedBy)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrScheduleNotFound):
		return fiber.NewError(fiber.StatusNotFound, "schedule not found")
	case errors.Is(err, scheduler.ErrLockConflict):
		return fiber.NewError(fiber.StatusConflict, "schedule is already executing")
	case errors.Is(err, scheduler.ErrRecentlyRun):
		return fiber.NewError(fiber.StatusConflict, "schedule ran too recently, try again shortly")
	default:
		s.log.WithError(err).WithField("schedule_id", scheduleID).Error("Manual trigger failed")

		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id": runID,
		"status": "accepted",
	})
}

// GetJob returns live job status from the cache, falling back to the
// durable job log once the cache entry is gone.
func (s *Server) GetJob(c fiber.Ctx) error {
	jobID := c.Params("id")

	if job, ok := s.jobCache.Get(jobID); ok {
		return c.JSON(job)
	}

	jobLog, err := s.jobLogs.GetJobLog(c.Context(), jobID)
	switch {
	case err == nil:
		return c.JSON(jobs.FromLog(jobLog))
	case errors.Is(err, store.ErrJobLogNotFound):
		return fiber.NewError(fiber.StatusNotFound, "job not found")
	default:
		s.log.WithError(err).WithField("job_id", jobID).Error("Job log lookup failed")

		return fiber.ErrInternalServerError
	}
}

// GetRun returns all jobs belonging to one run id
func (s *Server) GetRun(c fiber.Ctx) error {
	runID := c.Params("id")

	run := s.jobCache.ListByRun(runID)
	if len(run) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "run not found")
	}

	return c.JSON(fiber.Map{
		"run_id": runID,
		"jobs":   run,
	})
}

type confirmRequest struct {
	RequestedBy string `json:"requested_by"`
}

// ConfirmUpload consumes a staged dataset and starts the upsert run for it
func (s *Server) ConfirmUpload(c fiber.Ctx) error {
	previewID := c.Params("previewId")

	var req confirmRequest
	_ = c.Bind().Body(&req)

	entry, ok := s.stage.Take(previewID)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "staged dataset not found or expired")
	}

	if req.RequestedBy != "" {
		entry.RequestedBy = req.RequestedBy
	}

	jobID := s.launcher.LaunchStaged(entry, uuid.New().String(), entry.RequestedBy)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": jobID,
		"status": "accepted",
	})
}

// Healthz reports process liveness
func (s *Server) Healthz(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readyz reports whether the scheduler and queue are running
func (s *Server) Readyz(c fiber.Ctx) error {
	if s.ready != nil && !s.ready() {
		return fiber.NewError(fiber.StatusServiceUnavailable, "not ready")
	}

	return c.JSON(fiber.Map{"status": "ready"})
}
