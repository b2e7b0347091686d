package ingestion

import (
	"InsureLedger/internal/event"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher is the slice of jetstream.JetStream the outbound path needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes durably persisted events for downstream
// consumers on insure.ledger.events.<EventType>.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan *event.EventEnvelope
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of an envelope.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	PoolKey        string          `json:"pool_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      int64           `json:"timestamp"`
}

func NewOutboundPublisher(js Publisher, inputChan <-chan *event.EventEnvelope, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run publishes until ctx is done or the channel closes. Publish failures
// are logged and skipped; the event log remains the source of truth.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// EventSubject returns the outbound subject for an envelope.
func EventSubject(env *event.EventEnvelope) string {
	return EventSubjectPrefix + env.EventType.String()
}

// NewPublishableEvent converts an envelope into its wire form.
func NewPublishableEvent(env *event.EventEnvelope) PublishableEvent {
	payload := json.RawMessage(env.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("{}")
	}
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PoolKey:        env.PoolKey,
		Payload:        payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.EventEnvelope) error {
	data, err := json.Marshal(NewPublishableEvent(env))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The sequence as message ID lets the stream drop republished events.
	_, err = op.js.Publish(ctx, EventSubject(env), data, jetstream.WithMsgID(strconv.FormatInt(env.Sequence, 10)))
	return err
}
