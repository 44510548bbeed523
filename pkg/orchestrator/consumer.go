package orchestrator

import (
	"context"
	"errors"

	"github.com/vapter/vapter/pkg/broker"
	"github.com/vapter/vapter/pkg/log"
	"github.com/vapter/vapter/pkg/metrics"
	"github.com/vapter/vapter/pkg/storage"
	"github.com/vapter/vapter/pkg/types"
)

// Consumer drains the status-update queue and feeds each event to the
// state machine. Acknowledgement discipline: malformed bodies and
// events for unknown scans are rejected, store failures are requeued,
// everything else is acknowledged whatever the state machine decided.
type Consumer struct {
	fsm      *FSM
	broker   broker.Broker
	queue    string
	prefetch int
}

// NewConsumer creates a consumer for the named status-update queue
func NewConsumer(fsm *FSM, b broker.Broker, queue string, prefetch int) *Consumer {
	return &Consumer{
		fsm:      fsm,
		broker:   b,
		queue:    queue,
		prefetch: prefetch,
	}
}

// Run consumes status events until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	log.Logger.Info().
		Str("queue", c.queue).
		Int("prefetch", c.prefetch).
		Msg("status consumer starting")
	return c.broker.Consume(ctx, c.queue, c.prefetch, c.handle)
}

// handle maps one delivery to an acknowledgement outcome
func (c *Consumer) handle(ctx context.Context, body []byte) broker.Outcome {
	event, err := types.ParseStatusEvent(body)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("discarding malformed status event")
		return broker.Reject
	}

	result, err := c.fsm.Apply(ctx, event)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Logger.Warn().
				Str("scan_id", event.ScanID).
				Msg("discarding status event for unknown scan")
			return broker.Reject
		}
		log.Logger.Error().Err(err).
			Str("scan_id", event.ScanID).
			Msg("status event failed, requeueing")
		return broker.Requeue
	}

	metrics.StatusEventsTotal.WithLabelValues(string(event.Module), result.String()).Inc()
	log.Logger.Debug().
		Str("scan_id", event.ScanID).
		Str("module", string(event.Module)).
		Str("status", string(event.Status)).
		Str("result", result.String()).
		Msg("status event handled")
	return broker.Ack
}
