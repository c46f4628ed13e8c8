// Package discovery builds the cross-project job inventory from each
// project's job source, enriching every job with its parsed schedule.
package discovery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetcron/core/pkg/logger"
	"github.com/fleetcron/core/pkg/models"
	"github.com/fleetcron/core/pkg/schedule"
	"github.com/fleetcron/core/pkg/sources"
)

const defaultConcurrency = 4

// Engine discovers scheduled work per project.
type Engine struct {
	source      sources.JobSource
	lookback    time.Duration
	concurrency int
	logger      *logger.Logger
}

// New creates a discovery engine. lookback bounds the run-history window
// fetched alongside the job list; concurrency caps parallel per-project
// discovery in DiscoverAll.
func New(source sources.JobSource, lookback time.Duration, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Engine{
		source:      source,
		lookback:    lookback,
		concurrency: concurrency,
		logger:      logger.New("discovery-engine"),
	}
}

// Discover returns the project's current jobs, schedules parsed. Inactive
// scheduler entries are skipped: they cannot produce runs, so monitoring
// them would only generate missed noise.
func (e *Engine) Discover(ctx context.Context, project string) ([]models.JobRecord, error) {
	log := e.logger.WithProject(project)
	now := time.Now().UTC()

	jobRows, err := e.source.ListScheduledJobs(ctx, project)
	if err != nil {
		return nil, err
	}

	records := make([]models.JobRecord, 0, len(jobRows))
	for _, row := range jobRows {
		if !row.Active {
			log.Debug().
				Str("job_name", row.Name).
				Msg("Skipping inactive scheduled job")
			continue
		}
		records = append(records, newRecord(project, models.JobTypeScheduledQuery, row.Name, row.ExternalID, row.Schedule, now))
	}

	// Functions ride along on the same source; a project without a
	// registry contributes none.
	fnRows, err := e.source.ListFunctions(ctx, project)
	if err != nil {
		log.Warn().Err(err).Msg("Function discovery failed, continuing with scheduled jobs only")
	}
	for _, row := range fnRows {
		records = append(records, newRecord(project, models.JobTypeServerlessFunction, row.Name, row.ExternalID, row.Schedule, now))
	}

	// Pull the recent history window too so discovery reports how much
	// activity the project shows, not just what is registered.
	runs, err := e.source.ListRecentRuns(ctx, project, e.lookback)
	if err != nil {
		log.Warn().Err(err).Msg("Run history fetch failed during discovery")
	}

	log.Info().
		Int("jobs", len(records)).
		Int("recent_runs", len(runs)).
		Dur("lookback", e.lookback).
		Msg("Project discovery completed")

	return records, nil
}

// DiscoverAll discovers every project with bounded concurrency. A project
// that fails contributes an empty list and an entry in the returned error
// map; it never aborts the others.
func (e *Engine) DiscoverAll(ctx context.Context, projects []string) (map[string][]models.JobRecord, map[string]error) {
	results := make(map[string][]models.JobRecord, len(projects))
	failures := make(map[string]error)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, project := range projects {
		project := project
		g.Go(func() error {
			jobs, err := e.Discover(gctx, project)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.WithProject(project).Warn().
					Err(err).
					Msg("Project discovery failed")
				results[project] = nil
				failures[project] = err
				return nil // per-project failures are non-fatal
			}
			results[project] = jobs
			return nil
		})
	}

	// Workers never return errors; Wait only orders completion.
	_ = g.Wait()

	return results, failures
}

func newRecord(project string, jobType models.JobType, name, externalID, expr string, now time.Time) models.JobRecord {
	spec := schedule.Parse(expr)
	return models.JobRecord{
		Project:      project,
		Type:         jobType,
		Name:         name,
		ExternalID:   externalID,
		Schedule:     &spec,
		Criticality:  models.DefaultCriticality,
		DiscoveredAt: now,
	}
}
