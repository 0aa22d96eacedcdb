package upsert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantpulse/symsync/pkg/jobs"
	"github.com/quantpulse/symsync/pkg/observability"
	"github.com/quantpulse/symsync/pkg/staging"
	"github.com/quantpulse/symsync/pkg/store"
	"github.com/quantpulse/symsync/pkg/tabular"
)

var (
	// ErrMissingKeyColumns is returned when the dataset lacks one of the
	// natural-key columns entirely
	ErrMissingKeyColumns = errors.New("dataset is missing a natural-key column")
	// ErrPersistence wraps target-table or job-log write failures
	ErrPersistence = errors.New("persistence failure")
)

// Service runs bulk upserts in the background and tracks their progress
type Service interface {
	// Start prepares the service for background runs
	Start(ctx context.Context) error

	// Stop waits for in-flight runs to complete
	Stop() error

	// LaunchStaged starts an asynchronous upsert of a staged dataset and
	// returns the new job id. runID correlates jobs from one schedule fire.
	LaunchStaged(entry *staging.Entry, runID, triggeredBy string) string
}

type service struct {
	log logrus.FieldLogger
	cfg *Config

	symbols store.SymbolStore
	jobLogs store.JobLogStore
	cache   *jobs.Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the bulk upsert service
func NewService(log logrus.FieldLogger, cfg *Config, symbols store.SymbolStore, jobLogs store.JobLogStore, cache *jobs.Cache) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &service{
		log:     log.WithField("service", "upsert"),
		cfg:     cfg,
		symbols: symbols,
		jobLogs: jobLogs,
		cache:   cache,
	}, nil
}

// Start prepares the service for background runs
func (s *service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.log.WithField("batch_size", s.cfg.BatchSize).Info("Upsert service started")

	return nil
}

// Stop waits for in-flight runs to complete
func (s *service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.log.Info("Upsert service stopped")

	return nil
}

// LaunchStaged starts an asynchronous upsert of a staged dataset
func (s *service) LaunchStaged(entry *staging.Entry, runID, triggeredBy string) string {
	job := &jobs.Job{
		ID:           uuid.NewString(),
		RunID:        runID,
		ScheduleID:   entry.ScheduleID,
		ScheduleName: entry.ScheduleName,
		FileName:     entry.FileName,
		ScriptName:   entry.ScriptName,
		Timing:       entry.TimingSummary,
		Status:       jobs.StatusProcessing,
		Total:        entry.Dataset.RowCount(),
		TriggeredBy:  triggeredBy,
		StartedAt:    time.Now(),
	}
	s.cache.Put(job)

	// A durable row exists from the very start so a status query never
	// comes back unknown, even if the process dies mid-run
	if err := s.jobLogs.UpsertJobLog(s.ctx, job.ToLog()); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Error("Failed to write initial job log")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(entry, job.ID)
	}()

	return job.ID
}

// run executes one upsert job. The terminal job-log write happens on every
// exit path, including panics.
func (s *service) run(entry *staging.Entry, jobID string) {
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("%w: panic: %v", ErrPersistence, r)
		}
		s.finalize(jobID, runErr)
	}()

	plan, err := s.plan(entry, jobID)
	if err != nil {
		runErr = err
		return
	}

	if err := s.writeBatches(jobID, plan); err != nil {
		runErr = err
		return
	}
}

// upsertPlan is the partitioned write set for one job
type upsertPlan struct {
	inserts []store.Symbol
	updates []store.Symbol
}

// plan normalizes, validates and partitions the staged dataset
func (s *service) plan(entry *staging.Entry, jobID string) (*upsertPlan, error) {
	ds := entry.Dataset

	exchangeIdx := ds.ColumnIndex(s.cfg.ExchangeColumn)
	codeIdx := ds.ColumnIndex(s.cfg.CodeColumn)
	if exchangeIdx < 0 || codeIdx < 0 {
		return nil, fmt.Errorf("%w: need %q and %q", ErrMissingKeyColumns, s.cfg.ExchangeColumn, s.cfg.CodeColumn)
	}

	nameIdx := ds.ColumnIndex("name")
	statusIdx := ds.ColumnIndex("status")

	source := entry.ScheduleName
	if source == "" {
		source = entry.FileName
	}

	// Normalize, drop empty keys, dedupe keep-first
	type candidate struct {
		key store.SymbolKey
		row int
	}
	candidates := make([]candidate, 0, ds.RowCount())
	seen := make(map[store.SymbolKey]struct{}, ds.RowCount())

	for i := 0; i < ds.RowCount(); i++ {
		key := store.SymbolKey{
			Exchange: normalizeKey(ds.Cell(i, exchangeIdx)),
			Code:     normalizeKey(ds.Cell(i, codeIdx)),
		}

		if key.Exchange == "" || key.Code == "" {
			s.cache.Update(jobID, func(j *jobs.Job) {
				j.Failed++
				j.AddError(fmt.Sprintf("row %d: missing natural key", i+1))
				j.UpdatePercent()
			})
			observability.RowsProcessed.WithLabelValues("failed").Inc()
			continue
		}

		if _, dup := seen[key]; dup {
			// Exact key collision within the incoming dataset: keep first.
			// Not counted as failed; the row is simply collapsed.
			s.cache.Update(jobID, func(j *jobs.Job) {
				j.Total--
			})
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, candidate{key: key, row: i})
	}

	keys := make([]store.SymbolKey, 0, len(candidates))
	for _, c := range candidates {
		keys = append(keys, c.key)
	}

	existing, err := s.symbols.BulkLookup(s.ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: key lookup: %v", ErrPersistence, err)
	}

	plan := &upsertPlan{}
	for _, c := range candidates {
		sym := store.Symbol{
			Exchange: c.key.Exchange,
			Code:     c.key.Code,
			Status:   "ACTIVE",
			Source:   source,
		}
		if nameIdx >= 0 {
			sym.Name = strings.TrimSpace(ds.Cell(c.row, nameIdx))
		}
		if statusIdx >= 0 {
			if v := normalizeKey(ds.Cell(c.row, statusIdx)); v != "" {
				sym.Status = v
			}
		}
		sym.Attrs = extraAttrs(ds, c.row, exchangeIdx, codeIdx, nameIdx, statusIdx)

		if id, ok := existing[c.key]; ok {
			sym.ID = id
			plan.updates = append(plan.updates, sym)
		} else {
			plan.inserts = append(plan.inserts, sym)
		}
	}

	return plan, nil
}

// writeBatches flushes the plan in bounded batches, publishing progress
// after each one
func (s *service) writeBatches(jobID string, plan *upsertPlan) error {
	for start := 0; start < len(plan.inserts); start += s.cfg.BatchSize {
		batch := plan.inserts[start:min(start+s.cfg.BatchSize, len(plan.inserts))]
		if err := s.symbols.BulkInsert(s.ctx, batch); err != nil {
			return fmt.Errorf("%w: insert batch: %v", ErrPersistence, err)
		}
		s.publish(jobID, len(batch), 0)
	}

	for start := 0; start < len(plan.updates); start += s.cfg.BatchSize {
		batch := plan.updates[start:min(start+s.cfg.BatchSize, len(plan.updates))]
		if err := s.symbols.BulkUpdate(s.ctx, batch); err != nil {
			return fmt.Errorf("%w: update batch: %v", ErrPersistence, err)
		}
		s.publish(jobID, 0, len(batch))
	}

	return nil
}

func (s *service) publish(jobID string, inserted, updated int) {
	s.cache.Update(jobID, func(j *jobs.Job) {
		j.Inserted += inserted
		j.Updated += updated
		j.Processed += inserted + updated
		j.UpdatePercent()
	})

	if inserted > 0 {
		observability.RowsProcessed.WithLabelValues("insert").Add(float64(inserted))
	}
	if updated > 0 {
		observability.RowsProcessed.WithLabelValues("update").Add(float64(updated))
	}
}

// finalize stamps the terminal status and writes the durable log row
func (s *service) finalize(jobID string, runErr error) {
	ended := time.Now()

	s.cache.Update(jobID, func(j *jobs.Job) {
		j.EndedAt = &ended
		switch {
		case runErr != nil:
			j.Status = jobs.StatusFailed
			j.AddError(runErr.Error())
		case j.Failed > 0:
			j.Status = jobs.StatusPartial
		default:
			j.Status = jobs.StatusSuccess
		}
		j.UpdatePercent()
	})

	job, ok := s.cache.Get(jobID)
	if !ok {
		s.log.WithField("job_id", jobID).Error("Job vanished from cache before finalize")
		return
	}

	if err := s.jobLogs.UpsertJobLog(s.ctx, job.ToLog()); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("Failed to write terminal job log")
	}

	observability.RecordJobCompleted(strings.ToLower(string(job.Status)), ended.Sub(job.StartedAt).Seconds())

	logFn := s.log.WithFields(logrus.Fields{
		"job_id":   jobID,
		"status":   job.Status,
		"inserted": job.Inserted,
		"updated":  job.Updated,
		"failed":   job.Failed,
	})
	if runErr != nil {
		logFn.WithError(runErr).Error("Upsert job failed")
	} else {
		logFn.Info("Upsert job completed")
	}
}

// normalizeKey applies the natural-key normalization: trim then upper-case
func normalizeKey(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// extraAttrs collects non-key, non-mapped columns into the attrs bag
func extraAttrs(ds *tabular.Dataset, row int, skip ...int) map[string]string {
	skipSet := make(map[int]struct{}, len(skip))
	for _, idx := range skip {
		if idx >= 0 {
			skipSet[idx] = struct{}{}
		}
	}

	var attrs map[string]string
	for col := range ds.Columns {
		if _, ok := skipSet[col]; ok {
			continue
		}
		v := strings.TrimSpace(ds.Cell(row, col))
		if v == "" {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[strings.ToLower(strings.TrimSpace(ds.Columns[col]))] = v
	}

	return attrs
}

// Ensure service implements the interface
var _ Service = (*service)(nil)
