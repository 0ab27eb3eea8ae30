package suspect

import (
	"context"
	"fmt"

	"github.com/nvandessel/tracegraph/internal/events"
	"github.com/nvandessel/tracegraph/internal/models"
)

// Handler returns the model:changed consumer that propagates suspect flags
// after a requirement write has committed. Propagation is advisory: errors
// and panics are logged and swallowed so the triggering write is never
// reported as failed. Sweep reconstructs anything missed here.
//
// The engine publishes model:changed only for writes that recorded
// history, so re-saving an unchanged requirement never reaches this
// handler and cannot repair a lost flag.
func (p *Propagator) Handler(reason string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) (err error) {
		if event.NodeKind != models.NodeKindRequirement {
			return nil
		}

		defer func() {
			if r := recover(); r != nil {
				p.reportFailure(event, fmt.Errorf("propagation panicked: %v", r))
			}
			err = nil
		}()

		if _, ferr := p.FlagDownstream(ctx, event.ProjectID, event.NodeID, reason); ferr != nil {
			p.reportFailure(event, ferr)
		}
		return nil
	}
}

func (p *Propagator) reportFailure(event events.Event, err error) {
	p.logger.Warn("suspect propagation failed",
		"project_id", event.ProjectID,
		"node_id", event.NodeID,
		"event_id", event.ID,
		"error", err,
	)
	p.decisions.Log(map[string]any{
		"event":      "propagation_failed",
		"project_id": event.ProjectID,
		"node_id":    event.NodeID,
		"error":      err.Error(),
	})
}
