package sources

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/fleetcron/core/internal/config"
	"github.com/fleetcron/core/pkg/database/pool"
	"github.com/fleetcron/core/pkg/logger"
	"github.com/fleetcron/core/pkg/models"
)

// External ID prefixes keep pg_cron job IDs and function slugs apart so
// LatestRun knows which table to consult.
const (
	cronIDPrefix     = "cron:"
	functionIDPrefix = "fn:"
)

// PgCronSource reads pg_cron's cron.job and cron.job_run_details tables,
// plus an optional per-project function registry table. One lazily opened
// pool and one circuit breaker per project; a project that keeps failing
// trips its breaker instead of slowing every pass.
type PgCronSource struct {
	projects     map[string]config.Project
	queryTimeout time.Duration
	logger       *logger.Logger

	mu       sync.Mutex
	pools    map[string]*pgxpool.Pool
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewPgCronSource creates a source over the given projects.
func NewPgCronSource(projects []config.Project, queryTimeout time.Duration) *PgCronSource {
	byName := make(map[string]config.Project, len(projects))
	for _, p := range projects {
		byName[p.Name] = p
	}

	return &PgCronSource{
		projects:     byName,
		queryTimeout: queryTimeout,
		logger:       logger.New("pgcron-source"),
		pools:        make(map[string]*pgxpool.Pool),
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Close releases all project pools.
func (s *PgCronSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, p := range s.pools {
		p.Close()
		delete(s.pools, name)
	}
}

func (s *PgCronSource) breaker(project string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[project]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "source-" + project,
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Source circuit breaker state change")
		},
	})
	s.breakers[project] = cb
	return cb
}

func (s *PgCronSource) pool(ctx context.Context, project string) (*pgxpool.Pool, error) {
	s.mu.Lock()
	if p, ok := s.pools[project]; ok {
		s.mu.Unlock()
		return p, nil
	}
	cfg, ok := s.projects[project]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown project %q", project)
	}

	p, err := pool.New(ctx, cfg.DatabaseURL, pool.ProjectConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to project %s: %w", project, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have raced us here
	if existing, ok := s.pools[project]; ok {
		p.Close()
		return existing, nil
	}
	s.pools[project] = p
	return p, nil
}

// execute runs fn under the project's circuit breaker and query timeout.
func execute[T any](ctx context.Context, s *PgCronSource, project string, fn func(ctx context.Context, db *pgxpool.Pool) (T, error)) (T, error) {
	var zero T

	result, err := s.breaker(project).Execute(func() (interface{}, error) {
		db, err := s.pool(ctx, project)
		if err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()

		return fn(callCtx, db)
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

func (s *PgCronSource) ListScheduledJobs(ctx context.Context, project string) ([]ScheduledJobRow, error) {
	start := time.Now()

	jobs, err := execute(ctx, s, project, func(ctx context.Context, db *pgxpool.Pool) ([]ScheduledJobRow, error) {
		rows, err := db.Query(ctx, `
			SELECT jobid::text,
			       COALESCE(jobname, 'job-' || jobid::text),
			       schedule,
			       active
			FROM cron.job
			ORDER BY jobid`)
		if err != nil {
			return nil, fmt.Errorf("failed to query cron.job: %w", err)
		}
		defer rows.Close()

		var out []ScheduledJobRow
		for rows.Next() {
			var row ScheduledJobRow
			if err := rows.Scan(&row.ExternalID, &row.Name, &row.Schedule, &row.Active); err != nil {
				return nil, fmt.Errorf("failed to scan cron.job row: %w", err)
			}
			row.ExternalID = cronIDPrefix + row.ExternalID
			out = append(out, row)
		}
		return out, rows.Err()
	})

	s.logger.LogSourceQuery(project, "list_scheduled_jobs", len(jobs), time.Since(start), err)
	return jobs, err
}

func (s *PgCronSource) ListFunctions(ctx context.Context, project string) ([]FunctionRow, error) {
	table := s.functionsTable(project)
	if table == "" {
		return nil, nil
	}

	start := time.Now()

	fns, err := execute(ctx, s, project, func(ctx context.Context, db *pgxpool.Pool) ([]FunctionRow, error) {
		query := fmt.Sprintf(`
			SELECT slug, name, COALESCE(schedule, '')
			FROM %s
			ORDER BY slug`, table)

		rows, err := db.Query(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to query function registry: %w", err)
		}
		defer rows.Close()

		var out []FunctionRow
		for rows.Next() {
			var row FunctionRow
			if err := rows.Scan(&row.ExternalID, &row.Name, &row.Schedule); err != nil {
				return nil, fmt.Errorf("failed to scan function row: %w", err)
			}
			row.ExternalID = functionIDPrefix + row.ExternalID
			out = append(out, row)
		}
		return out, rows.Err()
	})

	s.logger.LogSourceQuery(project, "list_functions", len(fns), time.Since(start), err)
	return fns, err
}

func (s *PgCronSource) ListRecentRuns(ctx context.Context, project string, lookback time.Duration) ([]models.ExecutionRecord, error) {
	since := time.Now().Add(-lookback)
	start := time.Now()

	runs, err := execute(ctx, s, project, func(ctx context.Context, db *pgxpool.Pool) ([]models.ExecutionRecord, error) {
		rows, err := db.Query(ctx, `
			SELECT jobid::text,
			       COALESCE(status, ''),
			       COALESCE(start_time, 'epoch'::timestamptz),
			       COALESCE(return_message, '')
			FROM cron.job_run_details
			WHERE start_time >= $1
			ORDER BY start_time DESC`, since)
		if err != nil {
			return nil, fmt.Errorf("failed to query cron.job_run_details: %w", err)
		}
		defer rows.Close()

		var out []models.ExecutionRecord
		for rows.Next() {
			rec, err := scanRun(rows.Scan)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, rows.Err()
	})

	s.logger.LogSourceQuery(project, "list_recent_runs", len(runs), time.Since(start), err)
	return runs, err
}

func (s *PgCronSource) LatestRun(ctx context.Context, project, externalID string) (*models.ExecutionRecord, error) {
	switch {
	case strings.HasPrefix(externalID, cronIDPrefix):
		return s.latestCronRun(ctx, project, strings.TrimPrefix(externalID, cronIDPrefix))
	case strings.HasPrefix(externalID, functionIDPrefix):
		return s.latestFunctionRun(ctx, project, strings.TrimPrefix(externalID, functionIDPrefix))
	default:
		return nil, fmt.Errorf("unrecognized external job ID %q", externalID)
	}
}

func (s *PgCronSource) latestCronRun(ctx context.Context, project, jobID string) (*models.ExecutionRecord, error) {
	return execute(ctx, s, project, func(ctx context.Context, db *pgxpool.Pool) (*models.ExecutionRecord, error) {
		rows, err := db.Query(ctx, `
			SELECT jobid::text,
			       COALESCE(status, ''),
			       COALESCE(start_time, 'epoch'::timestamptz),
			       COALESCE(return_message, '')
			FROM cron.job_run_details
			WHERE jobid = $1::bigint
			ORDER BY start_time DESC
			LIMIT 1`, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to query latest run: %w", err)
		}
		defer rows.Close()

		if !rows.Next() {
			return nil, rows.Err()
		}
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		rec.JobExternalID = cronIDPrefix + rec.JobExternalID
		return &rec, nil
	})
}

// latestFunctionRun reads the registry's own last-invocation columns; the
// deploy tooling maintains them on every invocation.
func (s *PgCronSource) latestFunctionRun(ctx context.Context, project, slug string) (*models.ExecutionRecord, error) {
	table := s.functionsTable(project)
	if table == "" {
		return nil, nil
	}

	return execute(ctx, s, project, func(ctx context.Context, db *pgxpool.Pool) (*models.ExecutionRecord, error) {
		query := fmt.Sprintf(`
			SELECT slug,
			       COALESCE(last_status, ''),
			       COALESCE(last_run_at, 'epoch'::timestamptz),
			       COALESCE(last_error, '')
			FROM %s
			WHERE slug = $1`, table)

		rows, err := db.Query(ctx, query, slug)
		if err != nil {
			return nil, fmt.Errorf("failed to query function run: %w", err)
		}
		defer rows.Close()

		if !rows.Next() {
			return nil, rows.Err()
		}
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		if rec.StartedAt.Unix() == 0 {
			// Registered but never invoked
			return nil, nil
		}
		rec.JobExternalID = functionIDPrefix + rec.JobExternalID
		return &rec, nil
	})
}

func (s *PgCronSource) Ping(ctx context.Context, project string) error {
	_, err := execute(ctx, s, project, func(ctx context.Context, db *pgxpool.Pool) (struct{}, error) {
		return struct{}{}, db.Ping(ctx)
	})
	return err
}

func scanRun(scan func(dest ...any) error) (models.ExecutionRecord, error) {
	var (
		rec    models.ExecutionRecord
		status string
	)
	if err := scan(&rec.JobExternalID, &status, &rec.StartedAt, &rec.Message); err != nil {
		return rec, fmt.Errorf("failed to scan run row: %w", err)
	}
	rec.Status = models.ParseRunStatus(status)
	return rec, nil
}

// functionsTable returns the project's quoted registry table name, or ""
// when function discovery is disabled for it.
func (s *PgCronSource) functionsTable(project string) string {
	cfg, ok := s.projects[project]
	if !ok || cfg.FunctionsTable == "" {
		return ""
	}
	return quoteRelation(cfg.FunctionsTable)
}

// quoteRelation quotes a possibly schema-qualified relation name so a
// configured table name can never inject SQL.
func quoteRelation(name string) string {
	parts := strings.SplitN(name, ".", 2)
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}
