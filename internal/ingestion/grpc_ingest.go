package ingestion

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/event"
	"InsureLedger/internal/observability"
	"context"

	"github.com/rs/zerolog"
)

// CommandService is the request/response ingest path used by the gRPC and
// HTTP surfaces. Unlike NATS it returns the command result to the caller.
type CommandService struct {
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewCommandService(submitter Submitter, metrics *observability.Metrics, logger zerolog.Logger) *CommandService {
	return &CommandService{submitter: submitter, metrics: metrics, logger: logger}
}

// Execute decodes a JSON command body for op and applies it.
func (s *CommandService) Execute(ctx context.Context, op string, body []byte) (*core.Result, error) {
	evt, err := ParseCommand(op, body)
	if err != nil {
		s.count("malformed")
		return nil, err
	}
	return s.Submit(ctx, evt)
}

// Submit applies an already-typed command.
func (s *CommandService) Submit(ctx context.Context, evt event.Event) (*core.Result, error) {
	res, err := s.submitter.Submit(ctx, evt)
	switch {
	case err != nil:
		s.count("rejected")
		s.logger.Debug().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("command rejected")
	case res.Duplicate:
		s.count("duplicate")
	default:
		s.count("applied")
	}
	return res, err
}

func (s *CommandService) count(outcome string) {
	if s.metrics != nil {
		s.metrics.IngestMessages.WithLabelValues("grpc", outcome).Inc()
	}
}
