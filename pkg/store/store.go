// Package store persists the job inventory, per-pass health log, and the
// last-known-status column that lets alert deduplication survive restarts.
package store

import (
	"context"
	"time"

	"github.com/fleetcron/core/pkg/models"
)

// HealthLogEntry is one appended health observation for one job.
type HealthLogEntry struct {
	Key        string              `json:"key"`
	Project    string              `json:"project"`
	JobName    string              `json:"job_name"`
	Status     models.HealthStatus `json:"status"`
	Error      string              `json:"error,omitempty"`
	ObservedAt time.Time           `json:"observed_at"`
}

// Store is the central inventory and health-log persistence.
type Store interface {
	// UpsertJob inserts or refreshes a job, keyed by (project, type, name).
	// Criticality is operator-owned and left untouched on refresh.
	UpsertJob(ctx context.Context, key string, job models.JobRecord) error

	// SetCriticality annotates a job's criticality tier.
	SetCriticality(ctx context.Context, project string, jobType models.JobType, name string, criticality models.Criticality) error

	// ListJobs returns jobs, optionally filtered by project ("" = all).
	ListJobs(ctx context.Context, project string) ([]models.JobRecord, error)

	// AppendHealthLog records one health observation.
	AppendHealthLog(ctx context.Context, entry HealthLogEntry) error

	// ListHealthLog returns recent observations, newest first, optionally
	// filtered by job name ("" = whole project), capped at limit.
	ListHealthLog(ctx context.Context, project, jobName string, limit int) ([]HealthLogEntry, error)

	// LoadStatusMap returns the persisted last-known statuses keyed by job
	// key, seeding the in-memory dedup map after a restart.
	LoadStatusMap(ctx context.Context) (map[string]models.HealthStatus, error)

	// SaveStatus writes a job's last-known status through to the inventory.
	SaveStatus(ctx context.Context, key string, status models.HealthStatus) error

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error
}
