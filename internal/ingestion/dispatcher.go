package ingestion

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/event"
	"InsureLedger/internal/observability"
	"context"

	"github.com/rs/zerolog"
)

// Submitter applies a command; *core.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (*core.Result, error)
}

// Dispatcher feeds inbound messages to the engine and settles each one.
// Deterministic rejections are acked since redelivery would be rejected
// again; only internal failures and store conflicts are redelivered.
type Dispatcher struct {
	submitter Submitter
	in        <-chan RawEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewDispatcher(submitter Submitter, in <-chan RawEvent, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{submitter: submitter, in: in, metrics: metrics, logger: logger}
}

// Run processes messages until ctx is done or the channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.in:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		d.count("malformed")
		settle(raw.TermFunc)
		return
	}

	res, err := d.submitter.Submit(ctx, evt)
	switch {
	case err == nil && res.Duplicate:
		d.count("duplicate")
		settle(raw.AckFunc)
	case err == nil:
		d.count("applied")
		settle(raw.AckFunc)
	case ctx.Err() != nil:
		settle(raw.NakFunc)
	default:
		reason := core.RejectReason(err)
		if reason == "internal" || reason == "conflict" {
			d.logger.Error().Err(err).
				Str("event_type", evt.EventType().String()).
				Str("idempotency_key", evt.IdempotencyKey()).
				Msg("command failed, requesting redelivery")
			d.count("retry")
			settle(raw.NakFunc)
			return
		}
		d.logger.Debug().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("reason", reason).
			Msg("command rejected")
		d.count("rejected")
		settle(raw.AckFunc)
	}
}

func (d *Dispatcher) count(outcome string) {
	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues("nats", outcome).Inc()
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
