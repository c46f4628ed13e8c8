package health

import (
	"testing"
	"time"

	"github.com/fleetcron/core/pkg/models"
)

func hourlySpec() *models.ScheduleSpec {
	interval := 60
	return &models.ScheduleSpec{
		Raw:             "0 * * * *",
		Class:           models.FrequencyHourly,
		IntervalMinutes: &interval,
	}
}

func customSpec() *models.ScheduleSpec {
	return &models.ScheduleSpec{Raw: "0 9-17 * * *", Class: models.FrequencyCustom}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		spec       *models.ScheduleSpec
		lastStatus models.RunStatus
		lastRunAt  time.Time
		buffer     int
		expected   models.HealthStatus
	}{
		{
			name:       "overdue job is missed",
			spec:       hourlySpec(),
			lastStatus: models.RunSucceeded,
			lastRunAt:  now.Add(-100 * time.Minute), // threshold is 90
			buffer:     50,
			expected:   models.HealthMissed,
		},
		{
			name:       "recent success within window",
			spec:       hourlySpec(),
			lastStatus: models.RunSucceeded,
			lastRunAt:  now.Add(-50 * time.Minute),
			buffer:     50,
			expected:   models.HealthSuccess,
		},
		{
			name:       "failure overrides timeliness",
			spec:       hourlySpec(),
			lastStatus: models.RunFailed,
			lastRunAt:  now.Add(-5 * time.Minute),
			buffer:     50,
			expected:   models.HealthFailed,
		},
		{
			name:       "failure on overdue job is still failed",
			spec:       hourlySpec(),
			lastStatus: models.RunFailed,
			lastRunAt:  now.Add(-300 * time.Minute),
			buffer:     50,
			expected:   models.HealthFailed,
		},
		{
			name:       "exactly at threshold is not missed",
			spec:       hourlySpec(),
			lastStatus: models.RunSucceeded,
			lastRunAt:  now.Add(-90 * time.Minute),
			buffer:     50,
			expected:   models.HealthSuccess,
		},
		{
			name:       "zero buffer tightens the window",
			spec:       hourlySpec(),
			lastStatus: models.RunSucceeded,
			lastRunAt:  now.Add(-61 * time.Minute),
			buffer:     0,
			expected:   models.HealthMissed,
		},
		{
			name:       "custom schedule cannot be missed",
			spec:       customSpec(),
			lastStatus: models.RunSucceeded,
			lastRunAt:  now.Add(-10000 * time.Minute),
			buffer:     50,
			expected:   models.HealthSuccess,
		},
		{
			name:       "custom schedule with failure",
			spec:       customSpec(),
			lastStatus: models.RunFailed,
			lastRunAt:  now.Add(-5 * time.Minute),
			buffer:     50,
			expected:   models.HealthFailed,
		},
		{
			name:       "no history is unknown",
			spec:       hourlySpec(),
			lastStatus: models.RunOther,
			lastRunAt:  time.Time{},
			buffer:     50,
			expected:   models.HealthUnknown,
		},
		{
			name:       "unrecognized status in window is unknown",
			spec:       hourlySpec(),
			lastStatus: models.RunOther,
			lastRunAt:  now.Add(-10 * time.Minute),
			buffer:     50,
			expected:   models.HealthUnknown,
		},
		{
			name:       "unrecognized status past window is missed",
			spec:       hourlySpec(),
			lastStatus: models.RunOther,
			lastRunAt:  now.Add(-200 * time.Minute),
			buffer:     50,
			expected:   models.HealthMissed,
		},
		{
			name:       "nil spec with success",
			spec:       nil,
			lastStatus: models.RunSucceeded,
			lastRunAt:  now.Add(-10 * time.Minute),
			buffer:     50,
			expected:   models.HealthSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.spec, tt.lastStatus, tt.lastRunAt, now, tt.buffer)
			if got != tt.expected {
				t.Errorf("Evaluate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lastRun := now.Add(-95 * time.Minute)

	first := Evaluate(hourlySpec(), models.RunSucceeded, lastRun, now, 50)
	for i := 0; i < 10; i++ {
		if got := Evaluate(hourlySpec(), models.RunSucceeded, lastRun, now, 50); got != first {
			t.Fatalf("Evaluate() not deterministic: got %v then %v", first, got)
		}
	}
}

func TestEvaluate_NoIntervalNeverMissed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ages := []time.Duration{time.Minute, time.Hour, 24 * time.Hour, 365 * 24 * time.Hour}

	for _, age := range ages {
		got := Evaluate(customSpec(), models.RunOther, now.Add(-age), now, 50)
		if got == models.HealthMissed {
			t.Errorf("job with no interval classified missed at age %v", age)
		}
	}
}

func TestEvaluate_NegativeBufferUsesDefault(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 80 minutes elapsed: inside the default 90-minute window, outside a
	// zero-buffer window.
	got := Evaluate(hourlySpec(), models.RunSucceeded, now.Add(-80*time.Minute), now, -1)
	if got != models.HealthSuccess {
		t.Errorf("Evaluate() with negative buffer = %v, want %v", got, models.HealthSuccess)
	}
}
