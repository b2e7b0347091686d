package projection

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/observability"
	"InsureLedger/internal/store"
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ProjectionWorker applies core outputs to the views. The projection channel
// drops on full, so a gap in sequences (or a failed apply) is repaired by
// rebuilding from the record store, which is always at or ahead of the
// outputs seen here.
type ProjectionWorker struct {
	views         *Store
	source        store.Store
	governanceKey string
	inputChan     <-chan core.CoreOutput
	lastSeq       atomic.Int64
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

func NewProjectionWorker(
	views *Store,
	source store.Store,
	governanceKey string,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		views:         views,
		source:        source,
		governanceKey: governanceKey,
		inputChan:     inputChan,
		metrics:       metrics,
		logger:        logger,
	}
}

// Run consumes outputs until ctx is done or the channel closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	wm, err := pw.views.Watermark(ctx)
	if err != nil {
		return err
	}
	pw.lastSeq.Store(wm)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			pw.process(ctx, output)
		}
	}
}

// LastSequence is the last sequence reflected in the views.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq.Load()
}

func (pw *ProjectionWorker) process(ctx context.Context, output core.CoreOutput) {
	seq := output.Envelope.Sequence
	last := pw.lastSeq.Load()
	if seq <= last {
		return
	}

	if seq > last+1 {
		pw.logger.Warn().
			Int64("last_sequence", last).
			Int64("sequence", seq).
			Msg("projection gap, rebuilding from record store")
		pw.rebuild(ctx, seq)
		return
	}

	start := time.Now()
	if err := pw.views.Apply(ctx, seq, output.Records); err != nil {
		// Leaving lastSeq behind turns the next output into a gap.
		pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
		return
	}
	pw.advance(seq, "records", start)
}

func (pw *ProjectionWorker) rebuild(ctx context.Context, seq int64) {
	start := time.Now()
	if err := pw.views.Rebuild(ctx, pw.source, pw.governanceKey, seq); err != nil {
		pw.logger.Error().Err(err).Int64("sequence", seq).Msg("projection rebuild failed")
		return
	}
	pw.advance(seq, "rebuild", start)
}

func (pw *ProjectionWorker) advance(seq int64, kind string, start time.Time) {
	pw.lastSeq.Store(seq)
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		pw.metrics.ProjectionSequence.Set(float64(seq))
	}
}
