package models

import (
	"strings"
	"time"
)

// FrequencyClass buckets a schedule expression by how often it is expected
// to produce a run.
type FrequencyClass string

const (
	FrequencyEveryNMinutes FrequencyClass = "every_n_minutes"
	FrequencyHourly        FrequencyClass = "hourly"
	FrequencyDaily         FrequencyClass = "daily"
	FrequencyWeekly        FrequencyClass = "weekly"
	FrequencyMonthly       FrequencyClass = "monthly"
	FrequencyCustom        FrequencyClass = "custom"
	FrequencyUnknown       FrequencyClass = "unknown"
)

// ScheduleSpec is the parsed form of a schedule expression. IntervalMinutes
// is the nominal number of minutes between runs and is nil when the
// expression carries no reliable period (custom or unknown). Immutable once
// created.
type ScheduleSpec struct {
	Raw             string         `json:"raw_expression"`
	Class           FrequencyClass `json:"frequency_class"`
	IntervalMinutes *int           `json:"expected_interval_minutes,omitempty"`
}

// HasInterval reports whether the spec carries an expected run interval.
func (s *ScheduleSpec) HasInterval() bool {
	return s != nil && s.IntervalMinutes != nil
}

// JobType identifies what kind of scheduled work a job is.
type JobType string

const (
	JobTypeScheduledQuery     JobType = "scheduled_query"
	JobTypeServerlessFunction JobType = "serverless_function"
)

// Criticality is the operator-assigned severity tier controlling which
// notification channel receives a job's alerts.
type Criticality string

const (
	CriticalityCritical  Criticality = "critical"
	CriticalityImportant Criticality = "important"
	CriticalityLow       Criticality = "low"
)

// DefaultCriticality applies until a job is manually annotated.
const DefaultCriticality = CriticalityImportant

// JobRecord is one monitored unit of scheduled work. Identity is
// (Project, Type, Name).
type JobRecord struct {
	Project      string        `json:"project"`
	Type         JobType       `json:"job_type"`
	Name         string        `json:"name"`
	ExternalID   string        `json:"external_id,omitempty"`
	Schedule     *ScheduleSpec `json:"schedule,omitempty"`
	Criticality  Criticality   `json:"criticality"`
	DiscoveredAt time.Time     `json:"discovered_at"`
}

// RunStatus is the raw outcome a job source reports for one run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunOther     RunStatus = "other"
)

// ParseRunStatus normalizes a source status string into a RunStatus.
// pg_cron reports succeeded/failed plus transient states like running and
// starting; anything that is not a terminal success or failure maps to
// RunOther.
func ParseRunStatus(s string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "success", "ok":
		return RunSucceeded
	case "failed", "fail", "error":
		return RunFailed
	default:
		return RunOther
	}
}

// ExecutionRecord is one observed run of a job. Read-only snapshot sourced
// from the job source's history query.
type ExecutionRecord struct {
	JobExternalID string    `json:"job_external_id"`
	Status        RunStatus `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	Message       string    `json:"message,omitempty"`
}

// HealthStatus is the evaluator's verdict for one job at one point in time.
// Derived state, recomputed every health-check pass.
type HealthStatus string

const (
	HealthSuccess HealthStatus = "success"
	HealthFailed  HealthStatus = "failed"
	HealthMissed  HealthStatus = "missed"
	HealthUnknown HealthStatus = "unknown"
)

// IsAlertable reports whether the status should produce a notification when
// it differs from the previously recorded one.
func (h HealthStatus) IsAlertable() bool {
	return h == HealthFailed || h == HealthMissed
}

// AlertEvent is one decision to notify. Constructed transiently per pass;
// persisted only as a health-log row and/or a dispatched message.
type AlertEvent struct {
	JobName     string       `json:"job_name"`
	Project     string       `json:"project"`
	Status      HealthStatus `json:"status"`
	Criticality Criticality  `json:"criticality"`
	Error       string       `json:"error,omitempty"`
	LastRun     *time.Time   `json:"last_run,omitempty"`
	// Previous is the status recorded before this pass, set on recovery
	// transitions so the formatter can say what the job recovered from.
	Previous HealthStatus `json:"previous,omitempty"`
}
