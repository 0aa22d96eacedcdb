package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantpulse/symsync/pkg/models"

	// Pure-Go SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// lookupChunkSize bounds the number of key pairs per lookup statement
const lookupChunkSize = 400

// SQLite implements Store on a single SQLite database file
type SQLite struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewSQLite opens (and migrates) the database at cfg.Path
func NewSQLite(log logrus.FieldLogger, cfg *Config) (*SQLite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}

	// SQLite prefers a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &SQLite{
		db:  db,
		log: log.WithField("component", "store"),
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	ddl, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, string(ddl))

	return err
}

// Close closes the underlying database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the handle for test seeding
func (s *SQLite) DB() *sql.DB {
	return s.db
}

const scheduleColumns = `id, name, mode, interval_value, interval_unit, cron_expr, script_id,
	active, sources, last_run_at, next_run_at, created_by, created_at, updated_at`

// ListActiveSchedules returns all schedules with the active flag set
func (s *SQLite) ListActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Schedule
	for rows.Next() {
		sched, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, *sched)
	}

	return out, rows.Err()
}

// GetSchedule returns one schedule by id
func (s *SQLite) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)

	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
		}
		return nil, err
	}

	return sched, nil
}

// ClaimRun writes last_run_at and next_run_at together in one statement
func (s *SQLite) ClaimRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(lastRun), formatTimePtr(nextRun), formatTime(time.Now()), id)
	if err != nil {
		return err
	}

	return requireRow(res, id)
}

// AdvanceNextRun moves next_run_at forward without touching last_run_at
func (s *SQLite) AdvanceNextRun(ctx context.Context, id string, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(nextRun), formatTime(time.Now()), id)
	if err != nil {
		return err
	}

	return requireRow(res, id)
}

// CreateSchedule inserts a schedule definition. Used by the out-of-scope
// CRUD surface and by tests.
func (s *SQLite) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	sources, err := json.Marshal(sched.Sources)
	if err != nil {
		return err
	}

	now := time.Now()
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	sched.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sched.ID, sched.Name, string(sched.Mode), sched.IntervalValue, string(sched.IntervalUnit),
		sched.CronExpr, sched.ScriptID, boolToInt(sched.Active), string(sources),
		formatTimePtr(sched.LastRunAt), formatTimePtr(sched.NextRunAt),
		sched.CreatedBy, formatTime(sched.CreatedAt), formatTime(sched.UpdatedAt))

	return err
}

// GetScript returns one script by id
func (s *SQLite) GetScript(ctx context.Context, id string) (*models.TransformationScript, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, content, version, created_by, last_used_at, created_at, updated_at
		 FROM scripts WHERE id = ?`, id)

	var (
		script   models.TransformationScript
		lastUsed sql.NullString
		created  string
		updated  string
	)
	err := row.Scan(&script.ID, &script.Name, &script.Content, &script.Version,
		&script.CreatedBy, &lastUsed, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
		}
		return nil, err
	}

	script.LastUsedAt = parseTimePtr(lastUsed)
	script.CreatedAt = parseTime(created)
	script.UpdatedAt = parseTime(updated)

	return &script, nil
}

// TouchScriptUsed refreshes the script's last-used timestamp
func (s *SQLite) TouchScriptUsed(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scripts SET last_used_at = ? WHERE id = ?`, formatTime(usedAt), id)

	return err
}

// SaveScript inserts a script, or overwrites its content with a version bump
// when the content changed. History stays auditable through job logs, which
// record the applied version.
func (s *SQLite) SaveScript(ctx context.Context, script *models.TransformationScript) error {
	now := time.Now()

	existing, err := s.GetScript(ctx, script.ID)
	if err != nil {
		if !errors.Is(err, ErrScriptNotFound) {
			return err
		}
		script.Version = 1
		script.CreatedAt = now
		script.UpdatedAt = now
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO scripts (id, name, content, version, created_by, created_at, updated_at)
			 VALUES (?,?,?,?,?,?,?)`,
			script.ID, script.Name, script.Content, script.Version, script.CreatedBy,
			formatTime(now), formatTime(now))
		return err
	}

	script.Version = existing.Version
	if existing.Content != script.Content {
		script.Version++
	}
	script.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`UPDATE scripts SET name = ?, content = ?, version = ?, updated_at = ? WHERE id = ?`,
		script.Name, script.Content, script.Version, formatTime(now), script.ID)

	return err
}

// BulkLookup resolves existing ids for the given natural keys in one read
// per chunk
func (s *SQLite) BulkLookup(ctx context.Context, keys []SymbolKey) (map[SymbolKey]int64, error) {
	result := make(map[SymbolKey]int64, len(keys))

	for start := 0; start < len(keys); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		preds := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*2)
		for _, key := range chunk {
			preds = append(preds, "(exchange = ? AND code = ?)")
			args = append(args, key.Exchange, key.Code)
		}

		query := `SELECT id, exchange, code FROM symbols WHERE ` + strings.Join(preds, " OR ")
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			var (
				id  int64
				key SymbolKey
			)
			if scanErr := rows.Scan(&id, &key.Exchange, &key.Code); scanErr != nil {
				rows.Close()
				return nil, scanErr
			}
			result[key] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return result, nil
}

// BulkInsert creates new rows inside one transaction
func (s *SQLite) BulkInsert(ctx context.Context, symbols []Symbol) error {
	if len(symbols) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO symbols (exchange, code, name, status, source, attrs, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for i := range symbols {
		attrs, marshalErr := marshalAttrs(symbols[i].Attrs)
		if marshalErr != nil {
			return marshalErr
		}
		if _, err := stmt.ExecContext(ctx, symbols[i].Exchange, symbols[i].Code,
			symbols[i].Name, symbols[i].Status, symbols[i].Source, attrs, now, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// BulkUpdate modifies non-key attributes of existing rows and refreshes
// their updated timestamp
func (s *SQLite) BulkUpdate(ctx context.Context, symbols []Symbol) error {
	if len(symbols) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE symbols SET name = ?, status = ?, source = ?, attrs = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for i := range symbols {
		attrs, marshalErr := marshalAttrs(symbols[i].Attrs)
		if marshalErr != nil {
			return marshalErr
		}
		if _, err := stmt.ExecContext(ctx, symbols[i].Name, symbols[i].Status,
			symbols[i].Source, attrs, now, symbols[i].ID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CountSymbols returns the total number of target rows. Used by tests and
// the readiness probe.
func (s *SQLite) CountSymbols(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols`).Scan(&count)

	return count, err
}

// UpsertJobLog writes the log row, idempotent by job id
func (s *SQLite) UpsertJobLog(ctx context.Context, jobLog *JobLog) error {
	errs, err := json.Marshal(jobLog.Errors)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, schedule_id, schedule_name, file_name, script_name, timing,
			status, total, processed, inserted, updated, failed, errors, triggered_by,
			started_at, ended_at, duration_ms)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT (job_id) DO UPDATE SET
			status = excluded.status, total = excluded.total, processed = excluded.processed,
			inserted = excluded.inserted, updated = excluded.updated, failed = excluded.failed,
			errors = excluded.errors, ended_at = excluded.ended_at, duration_ms = excluded.duration_ms`,
		jobLog.JobID, jobLog.ScheduleID, jobLog.ScheduleName, jobLog.FileName, jobLog.ScriptName,
		jobLog.Timing, jobLog.Status, jobLog.Total, jobLog.Processed, jobLog.Inserted,
		jobLog.Updated, jobLog.Failed, string(errs), jobLog.TriggeredBy,
		formatTime(jobLog.StartedAt), formatTimePtr(jobLog.EndedAt), jobLog.DurationMS)

	return err
}

// GetJobLog returns the log row for a job id
func (s *SQLite) GetJobLog(ctx context.Context, jobID string) (*JobLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, schedule_id, schedule_name, file_name, script_name, timing, status,
			total, processed, inserted, updated, failed, errors, triggered_by,
			started_at, ended_at, duration_ms
		 FROM job_logs WHERE job_id = ?`, jobID)

	var (
		jobLog  JobLog
		errsRaw string
		started string
		ended   sql.NullString
	)
	err := row.Scan(&jobLog.JobID, &jobLog.ScheduleID, &jobLog.ScheduleName, &jobLog.FileName,
		&jobLog.ScriptName, &jobLog.Timing, &jobLog.Status, &jobLog.Total, &jobLog.Processed,
		&jobLog.Inserted, &jobLog.Updated, &jobLog.Failed, &errsRaw, &jobLog.TriggeredBy,
		&started, &ended, &jobLog.DurationMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobLogNotFound, jobID)
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(errsRaw), &jobLog.Errors); err != nil {
		return nil, err
	}
	jobLog.StartedAt = parseTime(started)
	jobLog.EndedAt = parseTimePtr(ended)

	return &jobLog, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var (
		sched      models.Schedule
		mode       string
		unit       string
		active     int
		sourcesRaw string
		lastRun    sql.NullString
		nextRun    sql.NullString
		created    string
		updated    string
	)

	err := row.Scan(&sched.ID, &sched.Name, &mode, &sched.IntervalValue, &unit,
		&sched.CronExpr, &sched.ScriptID, &active, &sourcesRaw,
		&lastRun, &nextRun, &sched.CreatedBy, &created, &updated)
	if err != nil {
		return nil, err
	}

	sched.Mode = models.ScheduleMode(mode)
	sched.IntervalUnit = models.IntervalUnit(unit)
	sched.Active = active != 0
	if err := json.Unmarshal([]byte(sourcesRaw), &sched.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources for schedule %s: %w", sched.ID, err)
	}
	sched.LastRunAt = parseTimePtr(lastRun)
	sched.NextRunAt = parseTimePtr(nextRun)
	sched.CreatedAt = parseTime(created)
	sched.UpdatedAt = parseTime(updated)

	return &sched, nil
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}

	return nil
}

func marshalAttrs(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}

	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}

	return formatTime(*t)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}

	return t
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}

	t := parseTime(v.String)

	return &t
}

// Ensure SQLite implements the full store contract
var _ Store = (*SQLite)(nil)
