package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetcron/core/pkg/logger"
	"github.com/fleetcron/core/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS monitor_jobs (
	key               TEXT PRIMARY KEY,
	project           TEXT NOT NULL,
	job_type          TEXT NOT NULL,
	name              TEXT NOT NULL,
	external_id       TEXT NOT NULL DEFAULT '',
	schedule          TEXT NOT NULL DEFAULT '',
	frequency_class   TEXT NOT NULL DEFAULT 'unknown',
	interval_minutes  INTEGER,
	criticality       TEXT NOT NULL DEFAULT 'important',
	discovered_at     TIMESTAMPTZ NOT NULL,
	last_known_status TEXT,
	UNIQUE (project, job_type, name)
);

CREATE TABLE IF NOT EXISTS monitor_health_log (
	id          BIGSERIAL PRIMARY KEY,
	key         TEXT NOT NULL,
	project     TEXT NOT NULL,
	job_name    TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	observed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_log_job
	ON monitor_health_log (project, job_name, observed_at DESC);
`

// PostgresStore persists inventory and health history in the central
// monitoring database.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.New("monitor-store"),
	}
}

// EnsureSchema creates the monitor tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure monitor schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertJob(ctx context.Context, key string, job models.JobRecord) error {
	start := time.Now()

	var (
		scheduleRaw string
		class       = models.FrequencyUnknown
		interval    *int
	)
	if job.Schedule != nil {
		scheduleRaw = job.Schedule.Raw
		class = job.Schedule.Class
		interval = job.Schedule.IntervalMinutes
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO monitor_jobs (key, project, job_type, name, external_id, schedule, frequency_class, interval_minutes, criticality, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project, job_type, name) DO UPDATE SET
			key = EXCLUDED.key,
			external_id = EXCLUDED.external_id,
			schedule = EXCLUDED.schedule,
			frequency_class = EXCLUDED.frequency_class,
			interval_minutes = EXCLUDED.interval_minutes,
			discovered_at = EXCLUDED.discovered_at`,
		key, job.Project, string(job.Type), job.Name, job.ExternalID,
		scheduleRaw, string(class), interval, string(job.Criticality), job.DiscoveredAt)

	s.logger.LogDatabaseOperation("upsert", "monitor_jobs", int(tag.RowsAffected()), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) SetCriticality(ctx context.Context, project string, jobType models.JobType, name string, criticality models.Criticality) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE monitor_jobs
		SET criticality = $4
		WHERE project = $1 AND job_type = $2 AND name = $3`,
		project, string(jobType), name, string(criticality))
	if err != nil {
		return fmt.Errorf("failed to set criticality: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s/%s not found", project, name)
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, project string) ([]models.JobRecord, error) {
	query := `
		SELECT project, job_type, name, external_id, schedule, frequency_class, interval_minutes, criticality, discovered_at
		FROM monitor_jobs`
	args := []any{}
	if project != "" {
		query += ` WHERE project = $1`
		args = append(args, project)
	}
	query += ` ORDER BY project, name`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.JobRecord
	for rows.Next() {
		var (
			job      models.JobRecord
			raw      string
			class    string
			interval *int
		)
		if err := rows.Scan(&job.Project, &job.Type, &job.Name, &job.ExternalID, &raw, &class, &interval, &job.Criticality, &job.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		job.Schedule = &models.ScheduleSpec{
			Raw:             raw,
			Class:           models.FrequencyClass(class),
			IntervalMinutes: interval,
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) AppendHealthLog(ctx context.Context, entry HealthLogEntry) error {
	start := time.Now()

	_, err := s.db.Exec(ctx, `
		INSERT INTO monitor_health_log (key, project, job_name, status, error, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Key, entry.Project, entry.JobName, string(entry.Status), entry.Error, entry.ObservedAt)

	s.logger.LogDatabaseOperation("insert", "monitor_health_log", 1, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to append health log for %s: %w", entry.Key, err)
	}
	return nil
}

func (s *PostgresStore) ListHealthLog(ctx context.Context, project, jobName string, limit int) ([]HealthLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT key, project, job_name, status, error, observed_at
		FROM monitor_health_log
		WHERE project = $1`
	args := []any{project}
	if jobName != "" {
		query += ` AND job_name = $2`
		args = append(args, jobName)
	}
	query += fmt.Sprintf(` ORDER BY observed_at DESC LIMIT %d`, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list health log: %w", err)
	}
	defer rows.Close()

	var entries []HealthLogEntry
	for rows.Next() {
		var entry HealthLogEntry
		if err := rows.Scan(&entry.Key, &entry.Project, &entry.JobName, &entry.Status, &entry.Error, &entry.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan health log row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) LoadStatusMap(ctx context.Context) (map[string]models.HealthStatus, error) {
	rows, err := s.db.Query(ctx, `
		SELECT key, last_known_status
		FROM monitor_jobs
		WHERE last_known_status IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to load status map: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]models.HealthStatus)
	for rows.Next() {
		var (
			key    string
			status string
		)
		if err := rows.Scan(&key, &status); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		statuses[key] = models.HealthStatus(status)
	}
	return statuses, rows.Err()
}

func (s *PostgresStore) SaveStatus(ctx context.Context, key string, status models.HealthStatus) error {
	_, err := s.db.Exec(ctx, `
		UPDATE monitor_jobs SET last_known_status = $2 WHERE key = $1`,
		key, string(status))
	if err != nil {
		return fmt.Errorf("failed to save status for %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
