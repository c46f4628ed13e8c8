// Package alerts renders health events into channel messages and delivers
// them. Routing is a static, total mapping: critical jobs go to the urgent
// channel, everything else to the contextual one. The dispatcher always
// sends when asked; deduplication lives with the orchestrator's
// previous-status map.
package alerts

import (
	"context"
	"time"

	"github.com/fleetcron/core/pkg/logger"
	"github.com/fleetcron/core/pkg/models"
)

// Dispatcher routes alert events to the configured channels.
type Dispatcher struct {
	urgent     Channel
	contextual Channel
	timeout    time.Duration
	logger     *logger.Logger
}

// NewDispatcher creates a dispatcher. Either channel may be nil when not
// configured; sends to a missing channel are logged and report failure.
func NewDispatcher(urgent, contextual Channel, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		urgent:     urgent,
		contextual: contextual,
		timeout:    timeout,
		logger:     logger.New("alert-dispatcher"),
	}
}

// SendAlert formats and delivers one alert, returning whether the send
// succeeded. A channel failure is caught and logged; it never propagates,
// so one dead webhook cannot block the rest of a pass.
func (d *Dispatcher) SendAlert(ctx context.Context, ev models.AlertEvent) bool {
	var (
		ch   Channel
		text string
	)
	if ev.Criticality == models.CriticalityCritical {
		ch = d.urgent
		text = FormatUrgent(ev)
	} else {
		ch = d.contextual
		text = FormatContextual(ev)
	}

	return d.deliver(ctx, ch, ev, text)
}

// SendRecovery notifies that a previously failed or missed job is healthy
// again. Recoveries are informational and always go through the contextual
// channel.
func (d *Dispatcher) SendRecovery(ctx context.Context, ev models.AlertEvent) bool {
	return d.deliver(ctx, d.contextual, ev, FormatRecovery(ev))
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, ev models.AlertEvent, text string) bool {
	if ch == nil {
		d.logger.Warn().
			Str("project", ev.Project).
			Str("job_name", ev.JobName).
			Str("status", string(ev.Status)).
			Msg("No channel configured for alert, dropping")
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := ch.Notify(sendCtx, text)
	sent := err == nil
	if err != nil {
		d.logger.Error().
			Err(err).
			Str("project", ev.Project).
			Str("job_name", ev.JobName).
			Str("channel", ch.Name()).
			Msg("Alert delivery failed")
	}

	d.logger.LogAlert(ev.Project, ev.JobName, string(ev.Status), ch.Name(), sent)
	return sent
}
