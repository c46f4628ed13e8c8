// Package sources reads scheduler metadata and run history out of the
// monitored projects. Reads are side-effect-free; every row crossing this
// boundary is typed immediately.
package sources

import (
	"context"
	"time"

	"github.com/fleetcron/core/pkg/models"
)

// ScheduledJobRow is one row of a project's scheduler job table.
type ScheduledJobRow struct {
	ExternalID string
	Name       string
	Schedule   string
	Active     bool
}

// FunctionRow is one row of a project's serverless function registry.
type FunctionRow struct {
	ExternalID string
	Name       string
	Schedule   string
}

// JobSource exposes per-project reads over scheduler metadata and recent
// run history. Implementations must bound every call with the caller's
// context deadline.
type JobSource interface {
	// ListScheduledJobs returns the project's current scheduled jobs.
	ListScheduledJobs(ctx context.Context, project string) ([]ScheduledJobRow, error)

	// ListFunctions returns the project's serverless functions, if the
	// project exposes a function registry. Projects without one return an
	// empty list.
	ListFunctions(ctx context.Context, project string) ([]FunctionRow, error)

	// ListRecentRuns returns run history within the lookback window,
	// newest first.
	ListRecentRuns(ctx context.Context, project string, lookback time.Duration) ([]models.ExecutionRecord, error)

	// LatestRun returns the most recent run for the given external job ID,
	// or nil when the job has never run.
	LatestRun(ctx context.Context, project, externalID string) (*models.ExecutionRecord, error)

	// Ping verifies connectivity to the project.
	Ping(ctx context.Context, project string) error
}
