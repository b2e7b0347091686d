package persistence

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/event"
	"InsureLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// BatchWriter persists one batch of events with their journals atomically.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []EventRow, journals []JournalRow) error
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends on the persist channel with a blocking send, so if this
// worker falls behind, the engine stalls and no event is lost.
type PersistenceWorker struct {
	writer       BatchWriter
	inputChan    <-chan core.CoreOutput
	publishChan  chan<- *event.EventEnvelope
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewPersistenceWorker builds a worker. Envelopes of flushed events are
// forwarded to publishChan (when non-nil) without blocking, so outbound
// consumers only ever see durable events.
func NewPersistenceWorker(
	writer BatchWriter,
	inputChan <-chan core.CoreOutput,
	publishChan chan<- *event.EventEnvelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       writer,
		inputChan:    inputChan,
		publishChan:  publishChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run starts the persistence worker loop. It batches incoming outputs
// and flushes either when the batch is full or the flush timeout expires.
// Blocks until ctx is cancelled or the input channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	pending := make([]core.CoreOutput, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(pending) > 0 {
				if err := pw.flush(context.Background(), pending); err != nil {
					pw.logger.Error().Err(err).Int("events", len(pending)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(pending) > 0 {
					if err := pw.flush(context.Background(), pending); err != nil {
						pw.logger.Error().Err(err).Int("events", len(pending)).Msg("final flush failed")
					}
				}
				return nil
			}

			pending = append(pending, output)
			if len(pending) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, pending); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				pending = pending[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(pending) > 0 {
				if err := pw.flushWithRetry(ctx, pending); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				pending = pending[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled. On cancellation one final flush is attempted.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch []core.CoreOutput) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pw.maxBackoff {
				backoff = pw.maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch []core.CoreOutput) error {
	start := time.Now()

	events := make([]EventRow, 0, len(batch))
	var journals []JournalRow
	for _, output := range batch {
		ev, js := RowsFromOutput(output)
		events = append(events, ev)
		journals = append(journals, js...)
	}

	if err := pw.writer.WriteBatch(ctx, events, journals); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_batch").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}

	pw.publish(batch)
	return nil
}

func (pw *PersistenceWorker) publish(batch []core.CoreOutput) {
	if pw.publishChan == nil {
		return
	}
	for _, output := range batch {
		select {
		case pw.publishChan <- output.Envelope:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}
}
