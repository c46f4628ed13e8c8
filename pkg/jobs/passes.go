package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetcron/core/pkg/monitor"
)

// Locker guards a pass against concurrent execution on other instances.
// Nil-safe via the jobs' checks; single-instance deployments can pass nil.
type Locker interface {
	WithLock(ctx context.Context, passName string, fn func(ctx context.Context) error) error
}

// AuditJob runs the fleet-wide audit pass on a schedule.
type AuditJob struct {
	orch     *monitor.Orchestrator
	locker   Locker
	schedule string
}

// NewAuditJob creates the recurring audit pass job.
func NewAuditJob(orch *monitor.Orchestrator, locker Locker, schedule string) Job {
	return &AuditJob{orch: orch, locker: locker, schedule: schedule}
}

func (j *AuditJob) Name() string {
	return "fleet_audit"
}

func (j *AuditJob) Schedule() string {
	return j.schedule
}

func (j *AuditJob) Execute(ctx context.Context) error {
	run := func(ctx context.Context) error {
		_, err := j.orch.AuditAllProjects(ctx)
		if errors.Is(err, monitor.ErrPassInProgress) {
			// Previous pass still running; the next trigger will catch up
			return nil
		}
		if err != nil {
			return fmt.Errorf("audit pass: %w", err)
		}
		return nil
	}

	if j.locker == nil {
		return run(ctx)
	}
	return j.locker.WithLock(ctx, j.Name(), run)
}

// HealthCheckJob runs the fleet-wide health-check pass on a schedule.
type HealthCheckJob struct {
	orch     *monitor.Orchestrator
	locker   Locker
	schedule string
}

// NewHealthCheckJob creates the recurring health-check pass job.
func NewHealthCheckJob(orch *monitor.Orchestrator, locker Locker, schedule string) Job {
	return &HealthCheckJob{orch: orch, locker: locker, schedule: schedule}
}

func (j *HealthCheckJob) Name() string {
	return "fleet_health_check"
}

func (j *HealthCheckJob) Schedule() string {
	return j.schedule
}

func (j *HealthCheckJob) Execute(ctx context.Context) error {
	run := func(ctx context.Context) error {
		_, err := j.orch.CheckHealth(ctx)
		if errors.Is(err, monitor.ErrPassInProgress) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("health-check pass: %w", err)
		}
		return nil
	}

	if j.locker == nil {
		return run(ctx)
	}
	return j.locker.WithLock(ctx, j.Name(), run)
}
