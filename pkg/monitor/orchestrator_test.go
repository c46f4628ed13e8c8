package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetcron/core/pkg/discovery"
	"github.com/fleetcron/core/pkg/models"
	"github.com/fleetcron/core/pkg/sources"
	"github.com/fleetcron/core/pkg/store"
)

type fakeSource struct {
	mu      sync.Mutex
	jobs    map[string][]sources.ScheduledJobRow
	runs    map[string]*models.ExecutionRecord // keyed by externalID
	failing map[string]error
}

func (f *fakeSource) ListScheduledJobs(_ context.Context, project string) ([]sources.ScheduledJobRow, error) {
	if err := f.failing[project]; err != nil {
		return nil, err
	}
	return f.jobs[project], nil
}

func (f *fakeSource) ListFunctions(_ context.Context, _ string) ([]sources.FunctionRow, error) {
	return nil, nil
}

func (f *fakeSource) ListRecentRuns(_ context.Context, _ string, _ time.Duration) ([]models.ExecutionRecord, error) {
	return nil, nil
}

func (f *fakeSource) LatestRun(_ context.Context, project, externalID string) (*models.ExecutionRecord, error) {
	if err := f.failing[project]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[externalID], nil
}

func (f *fakeSource) Ping(_ context.Context, project string) error {
	return f.failing[project]
}

func (f *fakeSource) setRun(externalID string, run *models.ExecutionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[externalID] = run
}

type memoryStore struct {
	mu        sync.Mutex
	jobs      map[string]models.JobRecord
	log       []store.HealthLogEntry
	statuses  map[string]models.HealthStatus
	failWrite bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		jobs:     make(map[string]models.JobRecord),
		statuses: make(map[string]models.HealthStatus),
	}
}

func (m *memoryStore) UpsertJob(_ context.Context, key string, job models.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("store unavailable")
	}
	m.jobs[key] = job
	return nil
}

func (m *memoryStore) SetCriticality(_ context.Context, _ string, _ models.JobType, _ string, _ models.Criticality) error {
	return nil
}

func (m *memoryStore) ListJobs(_ context.Context, project string) ([]models.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JobRecord
	for _, job := range m.jobs {
		if project == "" || job.Project == project {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *memoryStore) AppendHealthLog(_ context.Context, entry store.HealthLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("store unavailable")
	}
	m.log = append(m.log, entry)
	return nil
}

func (m *memoryStore) ListHealthLog(_ context.Context, project, jobName string, _ int) ([]store.HealthLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.HealthLogEntry
	for _, entry := range m.log {
		if entry.Project == project && (jobName == "" || entry.JobName == jobName) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memoryStore) LoadStatusMap(_ context.Context) (map[string]models.HealthStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.HealthStatus, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) SaveStatus(_ context.Context, key string, status models.HealthStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("store unavailable")
	}
	m.statuses[key] = status
	return nil
}

func (m *memoryStore) Ping(_ context.Context) error {
	return nil
}

type fakeAlerter struct {
	mu         sync.Mutex
	alerts     []models.AlertEvent
	recoveries []models.AlertEvent
}

func (f *fakeAlerter) SendAlert(_ context.Context, ev models.AlertEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, ev)
	return true
}

func (f *fakeAlerter) SendRecovery(_ context.Context, ev models.AlertEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries = append(f.recoveries, ev)
	return true
}

func (f *fakeAlerter) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func newFixture(projects []string, src *fakeSource, st store.Store, al Alerter) *Orchestrator {
	engine := discovery.New(src, 7*24*time.Hour, 2)
	return New(projects, engine, src, st, al, 50)
}

func hourlyRun(status models.RunStatus, age time.Duration) *models.ExecutionRecord {
	return &models.ExecutionRecord{
		JobExternalID: "cron:1",
		Status:        status,
		StartedAt:     time.Now().Add(-age),
	}
}

func TestOrchestrator_AuditAllProjects(t *testing.T) {
	src := &fakeSource{
		jobs: map[string][]sources.ScheduledJobRow{
			"prod":    {{ExternalID: "cron:1", Name: "rollup", Schedule: "0 * * * *", Active: true}},
			"staging": {{ExternalID: "cron:1", Name: "cleanup", Schedule: "0 2 * * *", Active: true}},
		},
		runs: map[string]*models.ExecutionRecord{},
	}
	st := newMemoryStore()
	orch := newFixture([]string{"prod", "staging"}, src, st, &fakeAlerter{})

	results, err := orch.AuditAllProjects(context.Background())
	if err != nil {
		t.Fatalf("AuditAllProjects() error = %v", err)
	}
	if len(results["prod"]) != 1 || len(results["staging"]) != 1 {
		t.Errorf("unexpected audit results: %+v", results)
	}

	// Inventory persisted
	jobs, err := orch.ListJobs(context.Background(), "")
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("store holds %d jobs after audit, want 2", len(jobs))
	}
}

func TestOrchestrator_AuditPartialFailure(t *testing.T) {
	src := &fakeSource{
		jobs: map[string][]sources.ScheduledJobRow{
			"prod": {{ExternalID: "cron:1", Name: "rollup", Schedule: "0 * * * *", Active: true}},
		},
		runs:    map[string]*models.ExecutionRecord{},
		failing: map[string]error{"broken": errors.New("connection refused")},
	}
	orch := newFixture([]string{"prod", "broken"}, src, newMemoryStore(), &fakeAlerter{})

	results, err := orch.AuditAllProjects(context.Background())
	if err != nil {
		t.Fatalf("AuditAllProjects() error = %v, partial failure must not be fatal", err)
	}
	if len(results["prod"]) != 1 {
		t.Error("healthy project missing from audit results")
	}
	if len(results["broken"]) != 0 {
		t.Error("failed project contributed jobs")
	}
}

func TestOrchestrator_NoProjects(t *testing.T) {
	src := &fakeSource{runs: map[string]*models.ExecutionRecord{}}
	orch := newFixture(nil, src, newMemoryStore(), &fakeAlerter{})

	if _, err := orch.AuditAllProjects(context.Background()); !errors.Is(err, ErrNoProjects) {
		t.Errorf("AuditAllProjects() error = %v, want ErrNoProjects", err)
	}
	if _, err := orch.CheckHealth(context.Background()); !errors.Is(err, ErrNoProjects) {
		t.Errorf("CheckHealth() error = %v, want ErrNoProjects", err)
	}
	if err := orch.TestConnection(context.Background()); !errors.Is(err, ErrNoProjects) {
		t.Errorf("TestConnection() error = %v, want ErrNoProjects", err)
	}
}

func TestOrchestrator_CheckHealthAlertsAndDedups(t *testing.T) {
	src := &fakeSource{
		jobs: map[string][]sources.ScheduledJobRow{
			"prod": {{ExternalID: "cron:1", Name: "rollup", Schedule: "0 * * * *", Active: true}},
		},
		runs: map[string]*models.ExecutionRecord{
			"cron:1": hourlyRun(models.RunFailed, 10*time.Minute),
		},
	}
	alerter := &fakeAlerter{}
	orch := newFixture([]string{"prod"}, src, newMemoryStore(), alerter)

	summary, err := orch.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}

	if summary.Total != 1 {
		t.Errorf("Total = %d, want 1", summary.Total)
	}
	if summary.ByStatus[models.HealthFailed] != 1 {
		t.Errorf("failed count = %d, want 1", summary.ByStatus[models.HealthFailed])
	}
	if alerter.alertCount() != 1 {
		t.Fatalf("alert count = %d, want 1", alerter.alertCount())
	}

	// Second pass with unchanged state: dedup suppresses the repeat
	if _, err := orch.CheckHealth(context.Background()); err != nil {
		t.Fatalf("second CheckHealth() error = %v", err)
	}
	if alerter.alertCount() != 1 {
		t.Errorf("alert count after unchanged second pass = %d, want 1", alerter.alertCount())
	}
}

func TestOrchestrator_RecoveryTransition(t *testing.T) {
	src := &fakeSource{
		jobs: map[string][]sources.ScheduledJobRow{
			"prod": {{ExternalID: "cron:1", Name: "rollup", Schedule: "0 * * * *", Active: true}},
		},
		runs: map[string]*models.ExecutionRecord{
			"cron:1": hourlyRun(models.RunFailed, 10*time.Minute),
		},
	}
	alerter := &fakeAlerter{}
	orch := newFixture([]string{"prod"}, src, newMemoryStore(), alerter)

	if _, err := orch.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	if alerter.alertCount() != 1 {
		t.Fatalf("alert count = %d, want 1", alerter.alertCount())
	}

	// Job recovers
	src.setRun("cron:1", hourlyRun(models.RunSucceeded, 5*time.Minute))

	if _, err := orch.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth() after recovery error = %v", err)
	}
	if len(alerter.recoveries) != 1 {
		t.Errorf("recovery count = %d, want 1", len(alerter.recoveries))
	}
	if alerter.recoveries[0].Previous != models.HealthFailed {
		t.Errorf("recovery Previous = %v, want failed", alerter.recoveries[0].Previous)
	}

	// Third pass, still healthy: no new alerts, no new recoveries
	if _, err := orch.CheckHealth(context.Background()); err != nil {
		t.Fatalf("third CheckHealth() error = %v", err)
	}
	if alerter.alertCount() != 1 || len(alerter.recoveries) != 1 {
		t.Errorf("steady success re-notified: alerts=%d recoveries=%d", alerter.alertCount(), len(alerter.recoveries))
	}
}

func TestOrchestrator_MissedDetection(t *testing.T) {
	src := &fakeSource{
		jobs: map[string][]sources.ScheduledJobRow{
			"prod": {{ExternalID: "cron:1", Name: "rollup", Schedule: "0 * * * *", Active: true}},
		},
		runs: map[string]*models.ExecutionRecord{
			// Succeeded, but 100 minutes ago against a 90-minute window
			"cron:1": hourlyRun(models.RunSucceeded, 100*time.Minute),
		},
	}
	alerter := &fakeAlerter{}
	orch := newFixture([]string{"prod"}, src, newMemoryStore(), alerter)

	summary, err := orch.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	if summary.ByStatus[models.HealthMissed] != 1 {
		t.Errorf("missed count = %d, want 1", summary.ByStatus[models.HealthMissed])
	}
	if alerter.alertCount() != 1 {
		t.Errorf("alert count = %d, want 1", alerter.alertCount())
	}
	if alerter.alerts[0].Status != models.HealthMissed {
		t.Errorf("alert status = %v, want missed", alerter.alerts[0].Status)
	}
}

func TestOrchestrator_StatusMapSurvivesRestart(t *testing.T) {
	src := &fakeSource{
		jobs: map[string][]sources.ScheduledJobRow{
			"prod": {{ExternalID: "cron:1", Name: "rollup", Schedule: "0 * * * *", Active: true}},
		},
		runs: map[string]*models.ExecutionRecord{
			"cron:1": hourlyRun(models.RunFailed, 10*time.Minute),
		},
	}
	st := newMemoryStore()

	first := newFixture([]string{"prod"}, src, st, &fakeAlerter{})
	if _, err := first.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}

	// New orchestrator over the same store simulates a process restart.
	// The persisted status map must suppress the repeat alert.
	alerter := &fakeAlerter{}
	second := newFixture([]string{"prod"}, src, st, alerter)
	if _, err := second.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth() after restart error = %v", err)
	}
	if alerter.alertCount() != 0 {
		t.Errorf("restart re-alerted %d times for unchanged failure", alerter.alertCount())
	}
}

func TestOrchestrator_StoreFailureKeepsAlerts(t *testing.T) {
	src := &fakeSource{
		jobs: map[string][]sources.ScheduledJobRow{
			"prod": {{ExternalID: "cron:1", Name: "rollup", Schedule: "0 * * * *", Active: true}},
		},
		runs: map[string]*models.ExecutionRecord{
			"cron:1": hourlyRun(models.RunFailed, 10*time.Minute),
		},
	}
	st := newMemoryStore()
	alerter := &fakeAlerter{}
	orch := newFixture([]string{"prod"}, src, st, alerter)

	// Audit first so the inventory exists, then break writes
	if _, err := orch.AuditAllProjects(context.Background()); err != nil {
		t.Fatalf("AuditAllProjects() error = %v", err)
	}
	st.mu.Lock()
	st.failWrite = true
	st.mu.Unlock()

	summary, err := orch.CheckHealth(context.Background())
	if err == nil {
		t.Error("CheckHealth() error = nil, want store failure surfaced")
	}
	if summary == nil {
		t.Fatal("CheckHealth() summary = nil despite evaluated jobs")
	}
	if alerter.alertCount() != 1 {
		t.Errorf("alert count = %d, alerting must survive store failure", alerter.alertCount())
	}
}

func TestOrchestrator_SourceErrorIsolatedPerJob(t *testing.T) {
	src := &fakeSource{
		jobs: map[string][]sources.ScheduledJobRow{
			"prod": {{ExternalID: "cron:1", Name: "rollup", Schedule: "0 * * * *", Active: true}},
		},
		runs: map[string]*models.ExecutionRecord{},
	}
	orch := newFixture([]string{"prod"}, src, newMemoryStore(), &fakeAlerter{})

	// Audit while healthy, then make the source fail for health checks
	if _, err := orch.AuditAllProjects(context.Background()); err != nil {
		t.Fatalf("AuditAllProjects() error = %v", err)
	}
	src.failing = map[string]error{"prod": errors.New("timeout")}

	summary, err := orch.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	if summary.ByStatus[models.HealthUnknown] != 1 {
		t.Errorf("unknown count = %d, want 1 (unreachable job degrades to unknown)", summary.ByStatus[models.HealthUnknown])
	}
}

func TestOrchestrator_GetJobHistory(t *testing.T) {
	src := &fakeSource{
		jobs: map[string][]sources.ScheduledJobRow{
			"prod": {{ExternalID: "cron:1", Name: "rollup", Schedule: "0 * * * *", Active: true}},
		},
		runs: map[string]*models.ExecutionRecord{
			"cron:1": hourlyRun(models.RunSucceeded, 5*time.Minute),
		},
	}
	orch := newFixture([]string{"prod"}, src, newMemoryStore(), &fakeAlerter{})

	if _, err := orch.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}

	entries, err := orch.GetJobHistory(context.Background(), "prod", "rollup", 10)
	if err != nil {
		t.Fatalf("GetJobHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("GetJobHistory() returned %d entries, want 1", len(entries))
	}
	if entries[0].Status != models.HealthSuccess {
		t.Errorf("history status = %v, want success", entries[0].Status)
	}
}

func TestJobKey_Stable(t *testing.T) {
	a := JobKey("prod", "Nightly Vacuum")
	b := JobKey("prod", "Nightly Vacuum")
	if a != b {
		t.Errorf("JobKey not stable: %q vs %q", a, b)
	}
	if a == JobKey("staging", "Nightly Vacuum") {
		t.Error("JobKey collides across projects")
	}
}
