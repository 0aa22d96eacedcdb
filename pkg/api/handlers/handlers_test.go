package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/symsync/pkg/jobs"
	"github.com/quantpulse/symsync/pkg/scheduler"
	"github.com/quantpulse/symsync/pkg/staging"
	"github.com/quantpulse/symsync/pkg/store"
	"github.com/quantpulse/symsync/pkg/tabular"
)

type fakeTriggerer struct {
	runID     string
	err       error
	requester string
}

func (f *fakeTriggerer) TriggerNow(_ context.Context, _, requester string) (string, error) {
	f.requester = requester

	return f.runID, f.err
}

type fakeLauncher struct {
	entry *staging.Entry
	jobID string
}

func (f *fakeLauncher) LaunchStaged(entry *staging.Entry, _, _ string) string {
	f.entry = entry

	return f.jobID
}

type fakeJobLogs struct {
	logs map[string]*store.JobLog
}

func (f *fakeJobLogs) UpsertJobLog(_ context.Context, jobLog *store.JobLog) error {
	f.logs[jobLog.JobID] = jobLog

	return nil
}

func (f *fakeJobLogs) GetJobLog(_ context.Context, id string) (*store.JobLog, error) {
	jobLog, ok := f.logs[id]
	if !ok {
		return nil, store.ErrJobLogNotFound
	}

	return jobLog, nil
}

// testErrorHandler mirrors the JSON error shape of the api package
func testErrorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

type serverFixture struct {
	app       *fiber.App
	triggerer *fakeTriggerer
	launcher  *fakeLauncher
	jobCache  *jobs.Cache
	jobLogs   *fakeJobLogs
	stage     *staging.Cache
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	stage, err := staging.NewCache(log, &staging.Config{TTL: time.Minute, SweepInterval: time.Minute})
	require.NoError(t, err)

	f := &serverFixture{
		triggerer: &fakeTriggerer{runID: "run-1"},
		launcher:  &fakeLauncher{jobID: "job-1"},
		jobCache:  jobs.NewCache(),
		jobLogs:   &fakeJobLogs{logs: make(map[string]*store.JobLog)},
		stage:     stage,
	}

	srv := NewServer(log, f.triggerer, f.jobCache, f.jobLogs, f.stage, f.launcher, func() bool { return true })

	f.app = fiber.New(fiber.Config{ErrorHandler: testErrorHandler})
	srv.RegisterProbes(f.app)
	srv.Register(f.app.Group("/api/v1"))

	return f
}

func (f *serverFixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}

	return resp, decoded
}

func TestTriggerScheduleAccepted(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/schedules/s1/trigger", `{"requested_by":"ops@example.com"}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "ops@example.com", f.triggerer.requester)
}

func TestTriggerScheduleDefaultsRequester(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/schedules/s1/trigger", "")

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "api", f.triggerer.requester)
}

func TestTriggerScheduleConflicts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "already executing", err: scheduler.ErrLockConflict, code: http.StatusConflict},
		{name: "recently run", err: scheduler.ErrRecentlyRun, code: http.StatusConflict},
		{name: "unknown schedule", err: store.ErrScheduleNotFound, code: http.StatusNotFound},
		{name: "store failure", err: errors.New("disk on fire"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture(t)
			f.triggerer.err = tt.err

			resp, body := f.do(t, http.MethodPost, "/api/v1/schedules/s1/trigger", "")

			assert.Equal(t, tt.code, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetJobFromCache(t *testing.T) {
	f := newServerFixture(t)
	f.jobCache.Put(&jobs.Job{ID: "job-7", Status: jobs.StatusProcessing, Total: 10, Processed: 4})

	resp, body := f.do(t, http.MethodGet, "/api/v1/jobs/job-7", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "job-7", body["id"])
	assert.Equal(t, string(jobs.StatusProcessing), body["status"])
}

func TestGetJobFallsBackToJobLog(t *testing.T) {
	f := newServerFixture(t)
	f.jobLogs.logs["job-9"] = &store.JobLog{
		JobID:  "job-9",
		Status: string(jobs.StatusSuccess),
		Total:  3,
	}

	resp, body := f.do(t, http.MethodGet, "/api/v1/jobs/job-9", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "job-9", body["id"])
	assert.Equal(t, string(jobs.StatusSuccess), body["status"])
}

func TestGetJobNotFound(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/jobs/ghost", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetRun(t *testing.T) {
	f := newServerFixture(t)
	f.jobCache.Put(&jobs.Job{ID: "j1", RunID: "run-5"})
	f.jobCache.Put(&jobs.Job{ID: "j2", RunID: "run-5"})
	f.jobCache.Put(&jobs.Job{ID: "j3", RunID: "run-6"})

	resp, body := f.do(t, http.MethodGet, "/api/v1/runs/run-5", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-5", body["run_id"])
	runJobs, ok := body["jobs"].([]any)
	require.True(t, ok)
	assert.Len(t, runJobs, 2)
}

func TestGetRunNotFound(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/runs/ghost", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfirmUpload(t *testing.T) {
	f := newServerFixture(t)

	previewID := f.stage.Put(&staging.Entry{
		Dataset:     &tabular.Dataset{Columns: []string{"exchange", "symbol"}, Rows: [][]string{{"NSE", "SBIN-EQ"}}},
		FileName:    "symbols.csv",
		RequestedBy: "uploader@example.com",
		Kind:        staging.KindManual,
	})

	resp, body := f.do(t, http.MethodPost, "/api/v1/uploads/"+previewID+"/confirm", "")

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "job-1", body["job_id"])
	require.NotNil(t, f.launcher.entry)
	assert.Equal(t, "symbols.csv", f.launcher.entry.FileName)

	// Confirm consumes: a second confirm of the same preview is a 404
	resp, _ = f.do(t, http.MethodPost, "/api/v1/uploads/"+previewID+"/confirm", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfirmUploadUnknownPreview(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/uploads/ghost/confirm", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProbes(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzNotReady(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	stage, err := staging.NewCache(log, &staging.Config{TTL: time.Minute, SweepInterval: time.Minute})
	require.NoError(t, err)

	srv := NewServer(log, &fakeTriggerer{}, jobs.NewCache(), &fakeJobLogs{logs: map[string]*store.JobLog{}}, stage, &fakeLauncher{}, func() bool { return false })

	app := fiber.New()
	srv.RegisterProbes(app)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
