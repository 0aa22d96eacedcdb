package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleValidate(t *testing.T) {
	src := []Source{{URL: "https://example.com/symbols.csv"}}

	tests := []struct {
		name     string
		schedule Schedule
		wantErr  error
	}{
		{
			name:     "run once valid",
			schedule: Schedule{Mode: ModeRunOnce, Sources: src},
		},
		{
			name:     "interval valid",
			schedule: Schedule{Mode: ModeInterval, IntervalValue: 5, IntervalUnit: UnitMinutes, Sources: src},
		},
		{
			name:     "cron valid",
			schedule: Schedule{Mode: ModeCron, CronExpr: "0 9 * * 1-5", Sources: src},
		},
		{
			name:     "interval missing fields",
			schedule: Schedule{Mode: ModeInterval, Sources: src},
			wantErr:  ErrIntervalFieldsRequired,
		},
		{
			name:     "interval with cron expr",
			schedule: Schedule{Mode: ModeInterval, IntervalValue: 5, IntervalUnit: UnitMinutes, CronExpr: "* * * * *", Sources: src},
			wantErr:  ErrConflictingTiming,
		},
		{
			name:     "cron missing expression",
			schedule: Schedule{Mode: ModeCron, Sources: src},
			wantErr:  ErrCronExprRequired,
		},
		{
			name:     "unknown mode",
			schedule: Schedule{Mode: "HOURLY", Sources: src},
			wantErr:  ErrUnknownMode,
		},
		{
			name:     "no sources",
			schedule: Schedule{Mode: ModeRunOnce},
			wantErr:  ErrNoSources,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduleInterval(t *testing.T) {
	tests := []struct {
		name string
		sch  Schedule
		want time.Duration
	}{
		{"seconds", Schedule{Mode: ModeInterval, IntervalValue: 30, IntervalUnit: UnitSeconds}, 30 * time.Second},
		{"minutes", Schedule{Mode: ModeInterval, IntervalValue: 15, IntervalUnit: UnitMinutes}, 15 * time.Minute},
		{"hours", Schedule{Mode: ModeInterval, IntervalValue: 2, IntervalUnit: UnitHours}, 2 * time.Hour},
		{"days", Schedule{Mode: ModeInterval, IntervalValue: 1, IntervalUnit: UnitDays}, 24 * time.Hour},
		{"not interval mode", Schedule{Mode: ModeCron, CronExpr: "* * * * *"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sch.Interval())
		})
	}
}

func TestDedupedSources(t *testing.T) {
	sch := Schedule{
		Sources: []Source{
			{URL: "https://a.example.com/1.csv", Kind: "csv"},
			{URL: "https://b.example.com/2.csv"},
			{URL: "https://a.example.com/1.csv", Kind: "json"}, // duplicate, dropped
			{URL: " https://b.example.com/2.csv"},              // duplicate after trim
		},
	}

	deduped := sch.DedupedSources()
	require.Len(t, deduped, 2)
	assert.Equal(t, "https://a.example.com/1.csv", deduped[0].URL)
	assert.Equal(t, "csv", deduped[0].Kind, "first occurrence wins")
	assert.Equal(t, "https://b.example.com/2.csv", deduped[1].URL)
}
