package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// SchedulesFired counts schedule fires by mode and trigger origin
	SchedulesFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symsync_schedules_fired_total",
			Help: "Total number of schedule fires",
		},
		[]string{"mode", "trigger"}, // trigger: poller, manual
	)

	// SchedulesSkipped counts due schedules that were skipped
	SchedulesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symsync_schedules_skipped_total",
			Help: "Total number of due schedules skipped",
		},
		[]string{"reason"}, // reason: recently_ran, lock_held, queue_full
	)

	// LockConflicts counts rejected manual triggers
	LockConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "symsync_lock_conflicts_total",
			Help: "Total number of manual triggers rejected due to a held lock",
		},
	)

	// QueueDepth tracks the number of work items waiting in the execution queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "symsync_queue_depth",
			Help: "Number of work items waiting in the execution queue",
		},
	)

	// JobsTotal counts completed upload jobs by terminal status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symsync_jobs_total",
			Help: "Total number of upload jobs by terminal status",
		},
		[]string{"status"}, // status: success, partial, failed
	)

	// JobDuration measures upload job duration in seconds
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "symsync_job_duration_seconds",
			Help:    "Upload job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"status"},
	)

	// RowsProcessed counts target-table rows by operation
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symsync_rows_processed_total",
			Help: "Total number of target rows processed",
		},
		[]string{"operation"}, // operation: insert, update, failed
	)

	// DownloadDuration measures source download duration in seconds
	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "symsync_download_duration_seconds",
			Help:    "Source download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"status"}, // status: success, error
	)

	// SourceErrors counts per-source pipeline failures by stage
	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "symsync_source_errors_total",
			Help: "Total number of per-source pipeline failures",
		},
		[]string{"stage"}, // stage: download, parse, transform, upsert
	)

	// StagedDatasets tracks the number of datasets waiting in the staging cache
	StagedDatasets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "symsync_staged_datasets",
			Help: "Number of datasets currently staged and unconfirmed",
		},
	)
)

// RecordScheduleFired updates the fire counter
func RecordScheduleFired(mode, trigger string) {
	SchedulesFired.WithLabelValues(mode, trigger).Inc()
}

// RecordScheduleSkipped updates the skip counter
func RecordScheduleSkipped(reason string) {
	SchedulesSkipped.WithLabelValues(reason).Inc()
}

// RecordJobCompleted updates job counters for a terminal state
func RecordJobCompleted(status string, seconds float64) {
	JobsTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(status).Observe(seconds)
}

// RecordSourceError updates the per-source failure counter
func RecordSourceError(stage string) {
	SourceErrors.WithLabelValues(stage).Inc()
}
