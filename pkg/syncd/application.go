// Package syncd assembles the symbol-sync daemon: store, caches, pipeline,
// queue, scheduler and API wired together with one lifecycle.
package syncd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantpulse/symsync/pkg/api"
	"github.com/quantpulse/symsync/pkg/jobs"
	"github.com/quantpulse/symsync/pkg/locks"
	"github.com/quantpulse/symsync/pkg/observability"
	"github.com/quantpulse/symsync/pkg/pipeline"
	"github.com/quantpulse/symsync/pkg/scheduler"
	"github.com/quantpulse/symsync/pkg/staging"
	"github.com/quantpulse/symsync/pkg/store"
	"github.com/quantpulse/symsync/pkg/tasks"
	"github.com/quantpulse/symsync/pkg/transform"
	"github.com/quantpulse/symsync/pkg/upsert"
)

// Application encapsulates the daemon's components and their lifecycle
type Application struct {
	config *Config
	logger *logrus.Logger

	db       store.Store
	registry *locks.Registry
	jobCache *jobs.Cache
	stage    *staging.Cache
	upserts  upsert.Service
	pipe     pipeline.Service
	queue    tasks.Service
	sched    scheduler.Service
	apiSvc   api.Service

	pprofServer *http.Server
	running     atomic.Bool
}

// NewApplication creates a new daemon application
func NewApplication(cfg *Config, logger *logrus.Logger) *Application {
	return &Application{
		config: cfg,
		logger: logger,
	}
}

// Start initializes and starts every component, back to front: consumers
// first, producers last, so nothing fires into a component that is not up.
func (a *Application) Start() error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger.Info("Starting symsync daemon...")

	ctx := context.Background()
	observability.StartMetricsServer(a.config.MetricsAddr)
	a.logger.WithField("addr", a.config.MetricsAddr).Info("Started metrics server")

	if a.config.PProfAddr != "" {
		a.startPProf()
	}

	if err := a.buildComponents(); err != nil {
		return err
	}

	starts := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"staging", a.stage.Start},
		{"upsert", a.upserts.Start},
		{"pipeline", a.pipe.Start},
		{"queue", a.queue.Start},
		{"scheduler", a.sched.Start},
		{"api", a.apiSvc.Start},
	}

	for _, s := range starts {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", s.name, err)
		}
	}

	a.running.Store(true)
	a.logger.Info("symsync daemon started successfully")

	return nil
}

func (a *Application) buildComponents() error {
	db, err := store.NewSQLite(a.logger, &a.config.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.db = db

	a.registry = locks.NewRegistry()
	a.jobCache = jobs.NewCache()

	a.stage, err = staging.NewCache(a.logger, &a.config.Staging)
	if err != nil {
		return fmt.Errorf("failed to create staging cache: %w", err)
	}

	runner, err := transform.NewRunner(a.logger, &a.config.Transform)
	if err != nil {
		return fmt.Errorf("failed to create transform runner: %w", err)
	}

	a.upserts, err = upsert.NewService(a.logger, &a.config.Upsert, a.db, a.db, a.jobCache)
	if err != nil {
		return fmt.Errorf("failed to create upsert engine: %w", err)
	}

	a.pipe, err = pipeline.NewService(a.logger, &a.config.Pipeline, a.db, runner, a.upserts)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	a.queue, err = tasks.NewService(a.logger, &a.config.Queue, a.registry, a.pipe)
	if err != nil {
		return fmt.Errorf("failed to create execution queue: %w", err)
	}

	a.sched, err = scheduler.NewService(a.logger, &a.config.Scheduler, a.db, a.registry, a.queue, a.pipe)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	a.apiSvc = api.NewService(a.logger, &a.config.API, a.sched, a.jobCache, a.db, a.stage, a.upserts, a.running.Load)

	return nil
}

// Stop gracefully shuts down the daemon, producers first so no new fires
// land in components that are already down.
func (a *Application) Stop() error {
	a.logger.Info("Shutting down symsync daemon...")
	a.running.Store(false)

	var errs []error

	stops := []struct {
		name string
		fn   func() error
	}{
		{"scheduler", stopIfSet(a.sched)},
		{"api", stopIfSet(a.apiSvc)},
		{"queue", stopIfSet(a.queue)},
		{"pipeline", stopIfSet(a.pipe)},
		{"upsert", stopIfSet(a.upserts)},
		{"staging", func() error {
			if a.stage == nil {
				return nil
			}

			return a.stage.Stop()
		}},
	}

	for _, s := range stops {
		if err := s.fn(); err != nil {
			a.logger.WithError(err).Errorf("Error stopping %s", s.name)
			errs = append(errs, err)
		}
	}

	if a.pprofServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.pprofServer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Error("Failed to shutdown pprof server")
			errs = append(errs, err)
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing store")
			errs = append(errs, err)
		}
	}

	a.logger.Info("symsync daemon shutdown complete")

	return errors.Join(errs...)
}

type stopper interface {
	Stop() error
}

// stopIfSet guards against a partially built application being stopped
func stopIfSet(s stopper) func() error {
	return func() error {
		if s == nil {
			return nil
		}

		return s.Stop()
	}
}

func (a *Application) startPProf() {
	a.pprofServer = &http.Server{
		Addr:              a.config.PProfAddr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.WithField("addr", a.config.PProfAddr).Info("Started pprof server")
		if err := a.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("pprof server failed")
		}
	}()
}
