package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/fleetcron/core/pkg/models"
)

// FormatContextual renders the verbose message for the lower-urgency
// channel. Framing differs per status and absent fields are omitted rather
// than printed as placeholders.
func FormatContextual(ev models.AlertEvent) string {
	var b strings.Builder

	switch ev.Status {
	case models.HealthFailed:
		fmt.Fprintf(&b, ":x: Scheduled job *%s* in project *%s* reported a failure on its last run.", ev.JobName, ev.Project)
	case models.HealthMissed:
		fmt.Fprintf(&b, ":hourglass: Scheduled job *%s* in project *%s* has gone silent: no run arrived within its expected window.", ev.JobName, ev.Project)
	case models.HealthUnknown:
		fmt.Fprintf(&b, ":grey_question: Scheduled job *%s* in project *%s* has no recent run history to judge.", ev.JobName, ev.Project)
	default:
		fmt.Fprintf(&b, "Scheduled job *%s* in project *%s* is %s.", ev.JobName, ev.Project, ev.Status)
	}

	if ev.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", ev.Error)
	}
	if ev.LastRun != nil {
		fmt.Fprintf(&b, "\nLast run: %s", ev.LastRun.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\nCriticality: %s", ev.Criticality)

	return b.String()
}

// FormatUrgent renders the terse message for the high-urgency channel. It
// always makes clear the event needs immediate attention.
func FormatUrgent(ev models.AlertEvent) string {
	var b strings.Builder

	verb := "needs attention"
	switch ev.Status {
	case models.HealthFailed:
		verb = "FAILED"
	case models.HealthMissed:
		verb = "STOPPED RUNNING"
	}

	fmt.Fprintf(&b, "🚨 URGENT: %s/%s %s - immediate attention required.", ev.Project, ev.JobName, verb)

	if ev.Error != "" {
		fmt.Fprintf(&b, "\n%s", ev.Error)
	}
	if ev.LastRun != nil {
		fmt.Fprintf(&b, "\nLast run: %s", ev.LastRun.UTC().Format(time.RFC3339))
	}

	return b.String()
}

// FormatRecovery renders the notice for a job coming back from failed or
// missed to success.
func FormatRecovery(ev models.AlertEvent) string {
	var b strings.Builder

	fmt.Fprintf(&b, ":white_check_mark: Scheduled job *%s* in project *%s* recovered", ev.JobName, ev.Project)
	if ev.Previous != "" {
		fmt.Fprintf(&b, " (was %s)", ev.Previous)
	}
	b.WriteString(".")

	if ev.LastRun != nil {
		fmt.Fprintf(&b, "\nLast run: %s", ev.LastRun.UTC().Format(time.RFC3339))
	}

	return b.String()
}
