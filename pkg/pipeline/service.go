package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/quantpulse/symsync/pkg/models"
	"github.com/quantpulse/symsync/pkg/observability"
	"github.com/quantpulse/symsync/pkg/staging"
	"github.com/quantpulse/symsync/pkg/store"
	"github.com/quantpulse/symsync/pkg/tabular"
	"github.com/quantpulse/symsync/pkg/transform"
	"github.com/quantpulse/symsync/pkg/upsert"
)

// Launcher is the slice of the upsert engine the pipeline needs
type Launcher interface {
	LaunchStaged(entry *staging.Entry, runID, triggeredBy string) string
}

// Service executes schedule fires
type Service interface {
	// Start prepares the pipeline
	Start(ctx context.Context) error

	// Stop releases pipeline resources
	Stop() error

	// ExecuteSchedule runs one fire of the schedule: every de-duplicated
	// source is downloaded, parsed, transformed and handed to the upsert
	// engine. Per-source failures are recorded and never abort siblings.
	// The call returns once all sources are staged; upserts continue in the
	// background.
	ExecuteSchedule(ctx context.Context, sched *models.Schedule, runID, triggeredBy string)
}

type service struct {
	log logrus.FieldLogger
	cfg *Config

	scripts store.ScriptStore
	runner  transform.Runner
	upserts Launcher

	client *http.Client

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewService creates the execution pipeline
func NewService(log logrus.FieldLogger, cfg *Config, scripts store.ScriptStore, runner transform.Runner, upserts Launcher) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &service{
		log:     log.WithField("service", "pipeline"),
		cfg:     cfg,
		scripts: scripts,
		runner:  runner,
		upserts: upserts,
		client: &http.Client{
			Timeout: cfg.DownloadTimeout,
		},
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Start prepares the pipeline
func (s *service) Start(_ context.Context) error {
	s.log.WithField("download_timeout", s.cfg.DownloadTimeout.String()).Info("Pipeline started")

	return nil
}

// Stop releases pipeline resources
func (s *service) Stop() error {
	s.client.CloseIdleConnections()

	return nil
}

// ExecuteSchedule runs one fire of the schedule
func (s *service) ExecuteSchedule(ctx context.Context, sched *models.Schedule, runID, triggeredBy string) {
	log := s.log.WithFields(logrus.Fields{
		"schedule_id":   sched.ID,
		"schedule_name": sched.Name,
		"run_id":        runID,
	})

	script, err := s.resolveScript(ctx, sched)
	if err != nil {
		// A broken script reference is a schedule-level configuration error;
		// nothing useful can run until it is fixed
		log.WithError(err).Error("Cannot resolve transformation script, skipping fire")
		return
	}

	sources := sched.DedupedSources()
	log.WithField("sources", len(sources)).Info("Executing schedule fire")

	for i := range sources {
		if err := s.processSource(ctx, sched, &sources[i], script, runID, triggeredBy); err != nil {
			log.WithError(err).WithField("url", sources[i].URL).Error("Source failed, continuing with remaining sources")
		}
	}
}

func (s *service) resolveScript(ctx context.Context, sched *models.Schedule) (*models.TransformationScript, error) {
	if sched.ScriptID == "" {
		return nil, nil
	}

	script, err := s.scripts.GetScript(ctx, sched.ScriptID)
	if err != nil {
		return nil, err
	}

	return script, nil
}

// processSource runs the download → parse → transform → stage → launch chain
// for one source
func (s *service) processSource(ctx context.Context, sched *models.Schedule, src *models.Source, script *models.TransformationScript, runID, triggeredBy string) error {
	scratchPath, fileName, contentType, err := s.download(ctx, src)
	if err != nil {
		observability.RecordSourceError("download")
		return err
	}
	// Scratch space is reclaimed no matter how this source ends
	defer os.Remove(scratchPath)

	kind := tabular.SniffKind(src.Kind, fileName, contentType)
	ds, err := tabular.ParseFile(scratchPath, kind)
	if err != nil {
		observability.RecordSourceError("parse")
		return fmt.Errorf("parse %s: %w", fileName, err)
	}

	entry := &staging.Entry{
		Dataset:       ds,
		FileName:      fileName,
		RequestedBy:   triggeredBy,
		Kind:          staging.KindAuto,
		ScheduleID:    sched.ID,
		ScheduleName:  sched.Name,
		TimingSummary: sched.TimingSummary(),
		RowsBefore:    ds.RowCount(),
		ColsBefore:    ds.ColumnCount(),
		RowsAfter:     ds.RowCount(),
		ColsAfter:     ds.ColumnCount(),
	}

	if script != nil {
		transformed, applyErr := s.runner.Apply(ctx, script, ds)
		if applyErr != nil {
			observability.RecordSourceError("transform")
			return applyErr
		}

		entry.Dataset = transformed
		entry.ScriptID = script.ID
		entry.ScriptName = script.Name
		entry.ScriptApplied = true
		entry.RowsAfter = transformed.RowCount()
		entry.ColsAfter = transformed.ColumnCount()

		if touchErr := s.scripts.TouchScriptUsed(ctx, script.ID, time.Now()); touchErr != nil {
			s.log.WithError(touchErr).WithField("script_id", script.ID).Warn("Failed to touch script last-used timestamp")
		}
	}

	jobID := s.upserts.LaunchStaged(entry, runID, triggeredBy)

	s.log.WithFields(logrus.Fields{
		"schedule_id": sched.ID,
		"url":         src.URL,
		"file_name":   fileName,
		"rows":        entry.Dataset.RowCount(),
		"job_id":      jobID,
	}).Info("Source staged and upsert launched")

	return nil
}

// Ensure service implements the interface
var _ Service = (*service)(nil)

// Ensure the real upsert service satisfies the launcher slice
var _ Launcher = (upsert.Service)(nil)
