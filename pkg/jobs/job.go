// Package jobs tracks live upload-job progress in memory and mirrors it into
// the durable job-log table so status queries survive cache loss.
package jobs

import (
	"time"

	"github.com/quantpulse/symsync/pkg/store"
)

// Status is the lifecycle state of an upload job. PROCESSING transitions to
// exactly one terminal state; there is no retry state.
type Status string

const (
	// StatusProcessing means the upsert is still running
	StatusProcessing Status = "PROCESSING"
	// StatusSuccess means every row was applied
	StatusSuccess Status = "SUCCESS"
	// StatusPartial means some rows failed validation
	StatusPartial Status = "PARTIAL"
	// StatusFailed means the job aborted before completing
	StatusFailed Status = "FAILED"
)

// maxErrors caps the per-job error list to bound memory
const maxErrors = 50

// Job is the live progress record of one bulk upsert run
type Job struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id,omitempty"`
	ScheduleID   string     `json:"schedule_id,omitempty"`
	ScheduleName string     `json:"schedule_name,omitempty"`
	FileName     string     `json:"file_name,omitempty"`
	ScriptName   string     `json:"script_name,omitempty"`
	Timing       string     `json:"timing,omitempty"`
	Status       Status     `json:"status"`
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	Inserted     int        `json:"inserted"`
	Updated      int        `json:"updated"`
	Failed       int        `json:"failed"`
	Percent      float64    `json:"percent"`
	Errors       []string   `json:"errors,omitempty"`
	TriggeredBy  string     `json:"triggered_by,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// AddError appends a row-level error, dropping anything past the cap
func (j *Job) AddError(msg string) {
	if len(j.Errors) >= maxErrors {
		return
	}
	j.Errors = append(j.Errors, msg)
}

// UpdatePercent recomputes the completion percentage from the counters
func (j *Job) UpdatePercent() {
	if j.Total <= 0 {
		j.Percent = 0
		return
	}
	j.Percent = float64(j.Processed+j.Failed) / float64(j.Total) * 100
}

// Terminal reports whether the job reached a final state
func (j *Job) Terminal() bool {
	return j.Status == StatusSuccess || j.Status == StatusPartial || j.Status == StatusFailed
}

// ToLog converts the job into its durable mirror row
func (j *Job) ToLog() *store.JobLog {
	var durationMS int64
	if j.EndedAt != nil {
		durationMS = j.EndedAt.Sub(j.StartedAt).Milliseconds()
	}

	return &store.JobLog{
		JobID:        j.ID,
		ScheduleID:   j.ScheduleID,
		ScheduleName: j.ScheduleName,
		FileName:     j.FileName,
		ScriptName:   j.ScriptName,
		Timing:       j.Timing,
		Status:       string(j.Status),
		Total:        j.Total,
		Processed:    j.Processed,
		Inserted:     j.Inserted,
		Updated:      j.Updated,
		Failed:       j.Failed,
		Errors:       j.Errors,
		TriggeredBy:  j.TriggeredBy,
		StartedAt:    j.StartedAt,
		EndedAt:      j.EndedAt,
		DurationMS:   durationMS,
	}
}

// FromLog rebuilds a job view from its durable mirror row
func FromLog(jobLog *store.JobLog) *Job {
	j := &Job{
		ID:           jobLog.JobID,
		ScheduleID:   jobLog.ScheduleID,
		ScheduleName: jobLog.ScheduleName,
		FileName:     jobLog.FileName,
		ScriptName:   jobLog.ScriptName,
		Timing:       jobLog.Timing,
		Status:       Status(jobLog.Status),
		Total:        jobLog.Total,
		Processed:    jobLog.Processed,
		Inserted:     jobLog.Inserted,
		Updated:      jobLog.Updated,
		Failed:       jobLog.Failed,
		Errors:       jobLog.Errors,
		TriggeredBy:  jobLog.TriggeredBy,
		StartedAt:    jobLog.StartedAt,
		EndedAt:      jobLog.EndedAt,
	}
	j.UpdatePercent()

	return j
}
