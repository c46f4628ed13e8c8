// Package health computes a job's health verdict from its parsed schedule
// and its most recent observed run. Pure functions only; no I/O.
package health

import (
	"time"

	"github.com/fleetcron/core/pkg/models"
)

// DefaultBufferPercent is the slack added on top of a schedule's expected
// interval before a silent job is considered missed. It absorbs scheduler
// jitter and the approximate nature of the parser's nominal intervals.
const DefaultBufferPercent = 50

// Evaluate computes a health status from the job's schedule and last run.
//
// An explicit failure always wins over timeliness. A job whose schedule has
// no expected interval can never be missed: there is no reliable
// expectation to violate. A zero lastRunAt means no history, which is
// unknown unless the schedule says the job should have run by now.
func Evaluate(spec *models.ScheduleSpec, lastStatus models.RunStatus, lastRunAt, now time.Time, bufferPercent int) models.HealthStatus {
	if bufferPercent < 0 {
		bufferPercent = DefaultBufferPercent
	}

	if lastStatus == models.RunFailed {
		return models.HealthFailed
	}

	if spec.HasInterval() && !lastRunAt.IsZero() {
		elapsed := now.Sub(lastRunAt).Minutes()
		threshold := float64(*spec.IntervalMinutes) * (1 + float64(bufferPercent)/100)
		if elapsed > threshold {
			return models.HealthMissed
		}
	}

	if lastStatus == models.RunSucceeded && !lastRunAt.IsZero() {
		return models.HealthSuccess
	}

	return models.HealthUnknown
}
