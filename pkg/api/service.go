package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/quantpulse/symsync/pkg/api/handlers"
	"github.com/quantpulse/symsync/pkg/jobs"
	"github.com/quantpulse/symsync/pkg/staging"
	"github.com/quantpulse/symsync/pkg/store"
)

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app       *fiber.App
	server    *http.Server
	config    *Config
	log       logrus.FieldLogger
	triggerer handlers.Triggerer
	jobCache  *jobs.Cache
	jobLogs   store.JobLogStore
	stage     *staging.Cache
	launcher  handlers.Launcher
	ready     func() bool
}

// NewService creates a new API service
func NewService(log logrus.FieldLogger, cfg *Config, triggerer handlers.Triggerer, jobCache *jobs.Cache, jobLogs store.JobLogStore, stage *staging.Cache, launcher handlers.Launcher, ready func() bool) Service {
	return &service{
		config:    cfg,
		log:       log.WithField("service", "api"),
		triggerer: triggerer,
		jobCache:  jobCache,
		jobLogs:   jobLogs,
		stage:     stage,
		launcher:  launcher,
		ready:     ready,
	}
}

// Start initializes and starts the API server
func (s *service) Start(_ context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API service is disabled")
		return nil
	}

	// Create Fiber app with custom error handler
	s.app = fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "symsync API",
	})

	setupMiddleware(s.app)

	server := handlers.NewServer(s.log, s.triggerer, s.jobCache, s.jobLogs, s.stage, s.launcher, s.ready)
	server.RegisterProbes(s.app)
	server.Register(s.app.Group("/api/v1"))

	// Serve the Fiber app through net/http for graceful shutdown
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           adaptor.FiberApp(s.app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed to start")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

var _ Service = (*service)(nil)
