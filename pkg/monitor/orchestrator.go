// Package monitor is the public entry point of the pipeline: it runs audit
// passes (rebuild the inventory) and health-check passes (evaluate every
// job and decide whether to alert), and owns the only cross-pass mutable
// state, the previous-status map.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/fleetcron/core/pkg/discovery"
	"github.com/fleetcron/core/pkg/health"
	"github.com/fleetcron/core/pkg/logger"
	"github.com/fleetcron/core/pkg/models"
	"github.com/fleetcron/core/pkg/sources"
	"github.com/fleetcron/core/pkg/store"
)

var (
	// ErrPassInProgress is returned when a pass is requested while another
	// is still running. Passes never queue or interleave.
	ErrPassInProgress = errors.New("monitoring pass already in progress")

	// ErrNoProjects is returned when no projects are configured; no partial
	// result would be meaningful.
	ErrNoProjects = errors.New("no projects configured")
)

// Alerter delivers alert and recovery notifications.
type Alerter interface {
	SendAlert(ctx context.Context, ev models.AlertEvent) bool
	SendRecovery(ctx context.Context, ev models.AlertEvent) bool
}

// JobResult is one job's outcome within a health-check pass.
type JobResult struct {
	Job     models.JobRecord    `json:"job"`
	Status  models.HealthStatus `json:"status"`
	LastRun *time.Time          `json:"last_run,omitempty"`
	Error   string              `json:"error,omitempty"`
	Alerted bool                `json:"alerted"`
}

// ProjectResult aggregates one project's health-check results.
type ProjectResult struct {
	Project string      `json:"project"`
	Results []JobResult `json:"results"`
	Error   string      `json:"error,omitempty"`
}

// Summary is the aggregate outcome of one health-check pass.
type Summary struct {
	StartedAt time.Time                   `json:"started_at"`
	Duration  time.Duration               `json:"duration"`
	Total     int                         `json:"total"`
	ByStatus  map[models.HealthStatus]int `json:"by_status"`
	Alerts    int                         `json:"alerts"`
	Projects  []ProjectResult             `json:"projects"`
}

// Orchestrator wires discovery, evaluation, dispatch, and persistence into
// the two passes. Safe for concurrent use; overlapping passes are rejected.
type Orchestrator struct {
	projects      []string
	engine        *discovery.Engine
	source        sources.JobSource
	store         store.Store
	alerter       Alerter
	bufferPercent int
	logger        *logger.Logger

	// inFlight rejects overlapping passes; mu guards inventory + statuses.
	inFlight       sync.Mutex
	mu             sync.Mutex
	inventory      map[string][]models.JobRecord
	statuses       map[string]models.HealthStatus
	statusesLoaded bool
}

// New creates an orchestrator over the configured projects.
func New(projects []string, engine *discovery.Engine, source sources.JobSource, st store.Store, alerter Alerter, bufferPercent int) *Orchestrator {
	if bufferPercent < 0 {
		bufferPercent = health.DefaultBufferPercent
	}
	return &Orchestrator{
		projects:      projects,
		engine:        engine,
		source:        source,
		store:         st,
		alerter:       alerter,
		bufferPercent: bufferPercent,
		logger:        logger.New("monitoring-orchestrator"),
		inventory:     make(map[string][]models.JobRecord),
		statuses:      make(map[string]models.HealthStatus),
	}
}

// JobKey is the stable identity used for the status map and health log.
func JobKey(project, jobName string) string {
	return slug.Make(project + " " + jobName)
}

// tryAcquirePass takes the single-in-flight guard without blocking.
func (o *Orchestrator) tryAcquirePass() bool {
	return o.inFlight.TryLock()
}

// AuditAllProjects runs one audit pass: rediscover every project, replace
// the inventory, and persist the refreshed records. Idempotent; does not
// touch the previous-status map. Store write failures are surfaced in the
// returned error but never void the returned inventory.
func (o *Orchestrator) AuditAllProjects(ctx context.Context) (map[string][]models.JobRecord, error) {
	if !o.tryAcquirePass() {
		return nil, ErrPassInProgress
	}
	defer o.inFlight.Unlock()

	return o.auditLocked(ctx, o.projects)
}

// AuditProject audits a single project, merging its result into the
// inventory without disturbing the other projects.
func (o *Orchestrator) AuditProject(ctx context.Context, project string) ([]models.JobRecord, error) {
	if !o.tryAcquirePass() {
		return nil, ErrPassInProgress
	}
	defer o.inFlight.Unlock()

	if !o.knownProject(project) {
		return nil, fmt.Errorf("unknown project %q", project)
	}

	results, err := o.auditLocked(ctx, []string{project})
	if err != nil {
		return results[project], err
	}
	return results[project], nil
}

func (o *Orchestrator) auditLocked(ctx context.Context, projects []string) (map[string][]models.JobRecord, error) {
	if len(o.projects) == 0 {
		return nil, ErrNoProjects
	}

	requestID := uuid.New().String()
	log := o.logger.WithRequestID(requestID)
	log.LogPassStart("audit", len(projects))
	start := time.Now()

	results, failures := o.engine.DiscoverAll(ctx, projects)

	var writeErrs []error
	total := 0
	for project, jobs := range results {
		total += len(jobs)
		for _, job := range jobs {
			key := JobKey(project, job.Name)
			if err := o.store.UpsertJob(ctx, key, job); err != nil {
				// Persistence trouble must not hide the discovery result
				writeErrs = append(writeErrs, err)
			}
		}
	}

	o.mu.Lock()
	for project, jobs := range results {
		o.inventory[project] = jobs
	}
	o.mu.Unlock()

	log.LogPassComplete("audit", time.Since(start), total, 0, len(failures)+len(writeErrs))

	if len(writeErrs) > 0 {
		return results, fmt.Errorf("audit completed with %d inventory write failures: %w", len(writeErrs), errors.Join(writeErrs...))
	}
	return results, nil
}

// CheckHealth runs one health-check pass over the whole fleet.
func (o *Orchestrator) CheckHealth(ctx context.Context) (*Summary, error) {
	return o.checkHealth(ctx, "")
}

// CheckProjectHealth runs one health-check pass over a single project.
func (o *Orchestrator) CheckProjectHealth(ctx context.Context, project string) (*Summary, error) {
	if !o.knownProject(project) {
		return nil, fmt.Errorf("unknown project %q", project)
	}
	return o.checkHealth(ctx, project)
}

func (o *Orchestrator) checkHealth(ctx context.Context, onlyProject string) (*Summary, error) {
	if !o.tryAcquirePass() {
		return nil, ErrPassInProgress
	}
	defer o.inFlight.Unlock()

	if len(o.projects) == 0 {
		return nil, ErrNoProjects
	}

	// Health checks need an inventory; bootstrap one on a cold start.
	o.mu.Lock()
	empty := len(o.inventory) == 0
	o.mu.Unlock()
	if empty {
		if _, err := o.auditLocked(ctx, o.projects); err != nil && !errors.Is(err, ErrNoProjects) {
			o.logger.Warn().Err(err).Msg("Bootstrap audit reported errors, continuing health check")
		}
	}

	o.loadStatusesOnce(ctx)

	requestID := uuid.New().String()
	log := o.logger.WithRequestID(requestID)

	summary := &Summary{
		StartedAt: time.Now().UTC(),
		ByStatus:  make(map[models.HealthStatus]int),
	}

	projects := o.projects
	if onlyProject != "" {
		projects = []string{onlyProject}
	}
	log.LogPassStart("health_check", len(projects))

	var storeErrs []error
	for _, project := range projects {
		o.mu.Lock()
		jobs := append([]models.JobRecord(nil), o.inventory[project]...)
		o.mu.Unlock()

		pr := ProjectResult{Project: project}
		for _, job := range jobs {
			result, errs := o.checkJob(ctx, log, job)
			storeErrs = append(storeErrs, errs...)

			pr.Results = append(pr.Results, result)
			summary.Total++
			summary.ByStatus[result.Status]++
			if result.Alerted {
				summary.Alerts++
			}
		}
		summary.Projects = append(summary.Projects, pr)
	}

	sort.Slice(summary.Projects, func(i, j int) bool {
		return summary.Projects[i].Project < summary.Projects[j].Project
	})

	summary.Duration = time.Since(summary.StartedAt)
	log.LogPassComplete("health_check", summary.Duration, summary.Total, summary.Alerts, len(storeErrs))

	if len(storeErrs) > 0 {
		// Alerts already went out; the caller still needs to know the
		// history has gaps.
		return summary, fmt.Errorf("health check completed with %d store failures: %w", len(storeErrs), errors.Join(storeErrs...))
	}
	return summary, nil
}

// checkJob evaluates one job and performs the read-decide-write cycle on
// the status map. Store failures are collected, not fatal.
func (o *Orchestrator) checkJob(ctx context.Context, log *logger.Logger, job models.JobRecord) (JobResult, []error) {
	result := JobResult{Job: job}
	key := JobKey(job.Project, job.Name)

	var (
		lastStatus models.RunStatus = models.RunOther
		lastRunAt  time.Time
		lastError  string
	)

	run, err := o.source.LatestRun(ctx, job.Project, job.ExternalID)
	if err != nil {
		// Source trouble for one job degrades it to unknown rather than
		// killing the pass.
		log.WithJob(job.Project, job.Name).Warn().
			Err(err).
			Msg("Failed to fetch latest run")
		result.Error = err.Error()
	} else if run != nil {
		lastStatus = run.Status
		lastRunAt = run.StartedAt
		lastError = run.Message
		result.LastRun = &run.StartedAt
	}

	newStatus := health.Evaluate(job.Schedule, lastStatus, lastRunAt, time.Now(), o.bufferPercent)
	result.Status = newStatus

	o.mu.Lock()
	prev, seen := o.statuses[key]
	o.mu.Unlock()

	ev := models.AlertEvent{
		JobName:     job.Name,
		Project:     job.Project,
		Status:      newStatus,
		Criticality: job.Criticality,
		Error:       lastError,
		LastRun:     result.LastRun,
		Previous:    prev,
	}

	switch {
	case newStatus.IsAlertable() && (!seen || prev != newStatus):
		result.Alerted = o.alerter.SendAlert(ctx, ev)
	case newStatus.IsAlertable():
		// Unchanged failure: already notified, stay quiet
		log.WithJob(job.Project, job.Name).Debug().
			Str("status", string(newStatus)).
			Msg("Suppressing duplicate alert for unchanged status")
	case newStatus == models.HealthSuccess && prev.IsAlertable():
		o.alerter.SendRecovery(ctx, ev)
	}

	var errs []error

	// The map always tracks the latest verdict, alert or not.
	o.mu.Lock()
	o.statuses[key] = newStatus
	o.mu.Unlock()
	if err := o.store.SaveStatus(ctx, key, newStatus); err != nil {
		errs = append(errs, err)
	}

	if err := o.store.AppendHealthLog(ctx, store.HealthLogEntry{
		Key:        key,
		Project:    job.Project,
		JobName:    job.Name,
		Status:     newStatus,
		Error:      lastError,
		ObservedAt: time.Now().UTC(),
	}); err != nil {
		errs = append(errs, err)
	}

	return result, errs
}

// loadStatusesOnce seeds the in-memory dedup map from the persisted
// last-known statuses the first time a health pass runs.
func (o *Orchestrator) loadStatusesOnce(ctx context.Context) {
	o.mu.Lock()
	loaded := o.statusesLoaded
	o.mu.Unlock()
	if loaded {
		return
	}

	persisted, err := o.store.LoadStatusMap(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Could not load persisted status map, starting empty")
		persisted = map[string]models.HealthStatus{}
	}

	o.mu.Lock()
	for key, status := range persisted {
		if _, ok := o.statuses[key]; !ok {
			o.statuses[key] = status
		}
	}
	o.statusesLoaded = true
	o.mu.Unlock()
}

// ListJobs returns the persisted inventory, optionally filtered by project.
func (o *Orchestrator) ListJobs(ctx context.Context, project string) ([]models.JobRecord, error) {
	return o.store.ListJobs(ctx, project)
}

// GetJobHistory returns recent health observations for a project, or for a
// single job when jobName is non-empty.
func (o *Orchestrator) GetJobHistory(ctx context.Context, project, jobName string, limit int) ([]store.HealthLogEntry, error) {
	return o.store.ListHealthLog(ctx, project, jobName, limit)
}

// TestConnection verifies the central store and every project source.
func (o *Orchestrator) TestConnection(ctx context.Context) error {
	if len(o.projects) == 0 {
		return ErrNoProjects
	}

	errs := []error{}
	if err := o.store.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("central store: %w", err))
	}
	for _, project := range o.projects {
		if err := o.source.Ping(ctx, project); err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", project, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) knownProject(project string) bool {
	for _, p := range o.projects {
		if p == project {
			return true
		}
	}
	return false
}
