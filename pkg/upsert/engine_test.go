package upsert

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/symsync/pkg/jobs"
	"github.com/quantpulse/symsync/pkg/staging"
	"github.com/quantpulse/symsync/pkg/store"
	"github.com/quantpulse/symsync/pkg/tabular"
)

type engineFixture struct {
	svc   Service
	cache *jobs.Cache
	db    *store.SQLite
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	db, err := store.NewSQLite(log, &store.Config{Path: ":memory:", BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cache := jobs.NewCache()
	svc, err := NewService(log, &Config{BatchSize: 2, ExchangeColumn: "exchange", CodeColumn: "symbol"}, db, db, cache)
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })

	return &engineFixture{svc: svc, cache: cache, db: db}
}

func symbolEntry(rows [][]string) *staging.Entry {
	return &staging.Entry{
		Dataset: &tabular.Dataset{
			Columns: []string{"exchange", "symbol", "name", "isin"},
			Rows:    rows,
		},
		FileName:     "symbols.csv",
		ScheduleID:   "sched-1",
		ScheduleName: "nse-nightly",
		Kind:         staging.KindAuto,
	}
}

func (f *engineFixture) waitTerminal(t *testing.T, jobID string) *jobs.Job {
	t.Helper()

	var job *jobs.Job
	require.Eventually(t, func() bool {
		j, ok := f.cache.Get(jobID)
		if !ok || !j.Terminal() {
			return false
		}
		job = j
		return true
	}, 5*time.Second, 10*time.Millisecond)

	return job
}

func TestRunInsertsThenUpdates(t *testing.T) {
	f := newEngineFixture(t)

	entry := symbolEntry([][]string{
		{"nse", " reliance-eq ", "Reliance Industries", "INE002A01018"},
		{"nse", "tcs-eq", "TCS", "INE467B01029"},
		{"bse", "500325", "Reliance Industries", "INE002A01018"},
	})

	jobID := f.svc.LaunchStaged(entry, "run-1", "scheduler")
	job := f.waitTerminal(t, jobID)

	assert.Equal(t, jobs.StatusSuccess, job.Status)
	assert.Equal(t, 3, job.Inserted)
	assert.Equal(t, 0, job.Updated)
	assert.InDelta(t, 100.0, job.Percent, 0.001)

	// Second run over the same dataset is idempotent: zero inserts
	entry2 := symbolEntry([][]string{
		{"NSE", "RELIANCE-EQ", "Reliance Industries Ltd", "INE002A01018"},
		{"NSE", "TCS-EQ", "TCS", "INE467B01029"},
		{"BSE", "500325", "Reliance Industries Ltd", "INE002A01018"},
	})
	jobID2 := f.svc.LaunchStaged(entry2, "run-2", "scheduler")
	job2 := f.waitTerminal(t, jobID2)

	assert.Equal(t, jobs.StatusSuccess, job2.Status)
	assert.Equal(t, 0, job2.Inserted)
	assert.Equal(t, 3, job2.Updated)

	count, err := f.db.CountSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunKeyNormalization(t *testing.T) {
	f := newEngineFixture(t)

	first := symbolEntry([][]string{{"nse", " reliance-eq ", "Reliance", ""}})
	job := f.waitTerminal(t, f.svc.LaunchStaged(first, "run-1", "tester"))
	require.Equal(t, 1, job.Inserted)

	// Different casing and whitespace resolve to the same target row
	second := symbolEntry([][]string{{"NSE", "RELIANCE-EQ", "Reliance", ""}})
	job2 := f.waitTerminal(t, f.svc.LaunchStaged(second, "run-2", "tester"))
	assert.Equal(t, 0, job2.Inserted)
	assert.Equal(t, 1, job2.Updated)
}

func TestRunMissingKeyRowsArePartial(t *testing.T) {
	f := newEngineFixture(t)

	entry := symbolEntry([][]string{
		{"nse", "sbin-eq", "SBI", ""},
		{"", "orphan", "No Exchange", ""},
		{"nse", "   ", "No Code", ""},
	})

	job := f.waitTerminal(t, f.svc.LaunchStaged(entry, "run-1", "tester"))

	assert.Equal(t, jobs.StatusPartial, job.Status)
	assert.Equal(t, 1, job.Inserted)
	assert.Equal(t, 2, job.Failed)
	assert.Len(t, job.Errors, 2)
	assert.InDelta(t, 100.0, job.Percent, 0.001)
}

func TestRunDedupesIncomingKeys(t *testing.T) {
	f := newEngineFixture(t)

	entry := symbolEntry([][]string{
		{"nse", "infy-eq", "Infosys", ""},
		{"NSE", "INFY-EQ", "Infosys Duplicate", ""},
	})

	job := f.waitTerminal(t, f.svc.LaunchStaged(entry, "run-1", "tester"))

	assert.Equal(t, jobs.StatusSuccess, job.Status)
	assert.Equal(t, 1, job.Inserted, "keep-first collapses exact key collisions")
	assert.Equal(t, 1, job.Total)
}

func TestRunMissingKeyColumnFails(t *testing.T) {
	f := newEngineFixture(t)

	entry := &staging.Entry{
		Dataset:  &tabular.Dataset{Columns: []string{"ticker", "name"}, Rows: [][]string{{"SBIN", "SBI"}}},
		FileName: "bad.csv",
	}

	job := f.waitTerminal(t, f.svc.LaunchStaged(entry, "run-1", "tester"))

	assert.Equal(t, jobs.StatusFailed, job.Status)
	require.NotEmpty(t, job.Errors)
	assert.Contains(t, job.Errors[0], "natural-key column")
}

func TestRunWritesDurableLogOnEveryPath(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	ok := symbolEntry([][]string{{"nse", "hdfc-eq", "HDFC Bank", ""}})
	okID := f.svc.LaunchStaged(ok, "run-1", "tester")
	f.waitTerminal(t, okID)

	bad := &staging.Entry{
		Dataset:  &tabular.Dataset{Columns: []string{"ticker"}, Rows: [][]string{{"X"}}},
		FileName: "bad.csv",
	}
	badID := f.svc.LaunchStaged(bad, "run-2", "tester")
	f.waitTerminal(t, badID)

	okLog, err := f.db.GetJobLog(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", okLog.Status)
	assert.NotNil(t, okLog.EndedAt)

	badLog, err := f.db.GetJobLog(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", badLog.Status)
}

func TestRunBatchesLargeSets(t *testing.T) {
	f := newEngineFixture(t)

	rows := make([][]string, 0, 7)
	codes := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, c := range codes {
		rows = append(rows, []string{"nse", c + "-eq", "Test " + c, ""})
	}

	job := f.waitTerminal(t, f.svc.LaunchStaged(symbolEntry(rows), "run-1", "tester"))

	// BatchSize is 2, so 7 rows take 4 insert batches; all must land
	assert.Equal(t, jobs.StatusSuccess, job.Status)
	assert.Equal(t, 7, job.Inserted)

	count, err := f.db.CountSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidBatchSize)
	assert.ErrorIs(t, (&Config{BatchSize: 10}).Validate(), ErrKeyColumnsRequired)
	assert.NoError(t, (&Config{BatchSize: 10, ExchangeColumn: "exchange", CodeColumn: "symbol"}).Validate())
}
