package jobs

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGetSnapshot(t *testing.T) {
	c := NewCache()
	c.Put(&Job{ID: "job-1", Status: StatusProcessing, Total: 10})

	got, ok := c.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, got.Status)

	// Mutating the snapshot must not touch the cached job
	got.Status = StatusFailed
	got.Errors = append(got.Errors, "local only")

	again, ok := c.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, again.Status)
	assert.Empty(t, again.Errors)
}

func TestCacheUpdate(t *testing.T) {
	c := NewCache()
	c.Put(&Job{ID: "job-1", Status: StatusProcessing, Total: 100})

	c.Update("job-1", func(j *Job) {
		j.Processed = 50
		j.Inserted = 30
		j.Updated = 20
		j.UpdatePercent()
	})

	got, ok := c.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, 50, got.Processed)
	assert.InDelta(t, 50.0, got.Percent, 0.001)

	// Updating a missing job is a no-op
	c.Update("ghost", func(j *Job) { j.Status = StatusFailed })
	_, ok = c.Get("ghost")
	assert.False(t, ok)
}

func TestCacheListByRun(t *testing.T) {
	c := NewCache()
	c.Put(&Job{ID: "job-1", RunID: "run-a"})
	c.Put(&Job{ID: "job-2", RunID: "run-a"})
	c.Put(&Job{ID: "job-3", RunID: "run-b"})

	assert.Len(t, c.ListByRun("run-a"), 2)
	assert.Len(t, c.ListByRun("run-b"), 1)
	assert.Empty(t, c.ListByRun("run-c"))
}

func TestAddErrorCap(t *testing.T) {
	j := &Job{ID: "job-1"}
	for i := 0; i < maxErrors+10; i++ {
		j.AddError(fmt.Sprintf("row %d: missing key", i))
	}

	assert.Len(t, j.Errors, maxErrors)
}

func TestUpdatePercentCountsFailures(t *testing.T) {
	j := &Job{Total: 10, Processed: 6, Failed: 2}
	j.UpdatePercent()
	assert.InDelta(t, 80.0, j.Percent, 0.001)

	empty := &Job{}
	empty.UpdatePercent()
	assert.Zero(t, empty.Percent)
}

func TestLogRoundTrip(t *testing.T) {
	ended := time.Now().UTC().Truncate(time.Millisecond)
	started := ended.Add(-2 * time.Second)

	j := &Job{
		ID:           "job-1",
		ScheduleID:   "sched-1",
		ScheduleName: "nse-nightly",
		FileName:     "symbols.csv",
		ScriptName:   "normalize",
		Status:       StatusPartial,
		Total:        100,
		Processed:    95,
		Inserted:     40,
		Updated:      55,
		Failed:       5,
		Errors:       []string{"row 12: missing key"},
		TriggeredBy:  "scheduler",
		StartedAt:    started,
		EndedAt:      &ended,
	}

	jobLog := j.ToLog()
	assert.Equal(t, int64(2000), jobLog.DurationMS)
	assert.Equal(t, "PARTIAL", jobLog.Status)

	back := FromLog(jobLog)
	assert.Equal(t, j.ID, back.ID)
	assert.Equal(t, StatusPartial, back.Status)
	assert.Equal(t, j.Failed, back.Failed)
	assert.InDelta(t, 100.0, back.Percent, 0.001)
}

func TestTerminal(t *testing.T) {
	assert.False(t, (&Job{Status: StatusProcessing}).Terminal())
	assert.True(t, (&Job{Status: StatusSuccess}).Terminal())
	assert.True(t, (&Job{Status: StatusPartial}).Terminal())
	assert.True(t, (&Job{Status: StatusFailed}).Terminal())
}
