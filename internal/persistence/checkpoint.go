package persistence

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/observability"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CheckpointManager records chain positions so a restart resumes sequence
// numbering and the state hash chain where it left off. Records and
// balances live in the record store; only the chain tip is kept here.
type CheckpointManager struct {
	db *sql.DB
}

func NewCheckpointManager(db *sql.DB) *CheckpointManager {
	return &CheckpointManager{db: db}
}

// Save stores a checkpoint. Saving the same sequence twice is a no-op.
func (cm *CheckpointManager) Save(ctx context.Context, cp core.Checkpoint) error {
	if cp.Sequence <= 0 {
		return nil // Nothing applied yet
	}
	_, err := cm.db.ExecContext(ctx, `
		INSERT INTO event_log.checkpoints (sequence, state_hash)
		VALUES ($1, $2)
		ON CONFLICT (sequence) DO NOTHING
	`, cp.Sequence, cp.StateHash[:])
	return err
}

// LoadLatest returns the newest checkpoint, or nil on a cold start.
func (cm *CheckpointManager) LoadLatest(ctx context.Context) (*core.Checkpoint, error) {
	return cm.scanCheckpoint(cm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM event_log.checkpoints
		ORDER BY sequence DESC
		LIMIT 1
	`))
}

// LatestEvent returns the chain position of the newest persisted event,
// or nil when the log is empty.
func (cm *CheckpointManager) LatestEvent(ctx context.Context) (*core.Checkpoint, error) {
	return cm.scanCheckpoint(cm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM event_log.events
		ORDER BY sequence DESC
		LIMIT 1
	`))
}

// Resume picks the furthest known chain position: the event log may run
// ahead of the last checkpoint after an unclean shutdown.
func (cm *CheckpointManager) Resume(ctx context.Context) (*core.Checkpoint, error) {
	cp, err := cm.LoadLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	tip, err := cm.LatestEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("load event log tip: %w", err)
	}
	if tip != nil && (cp == nil || tip.Sequence > cp.Sequence) {
		return tip, nil
	}
	return cp, nil
}

func (cm *CheckpointManager) scanCheckpoint(row *sql.Row) (*core.Checkpoint, error) {
	var (
		cp   core.Checkpoint
		hash []byte
	)
	if err := row.Scan(&cp.Sequence, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Cold start
		}
		return nil, err
	}
	if len(hash) != len(cp.StateHash) {
		return nil, fmt.Errorf("state hash at sequence %d has %d bytes", cp.Sequence, len(hash))
	}
	copy(cp.StateHash[:], hash)
	return &cp, nil
}

// VerifyChain walks the event log from fromSequence and checks that each
// event's prev_hash equals its predecessor's state_hash and that sequences
// are contiguous. It returns the number of events checked.
func (cm *CheckpointManager) VerifyChain(ctx context.Context, fromSequence int64) (int64, error) {
	rows, err := cm.db.QueryContext(ctx, `
		SELECT sequence, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
	`, fromSequence)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var (
		checked  int64
		lastSeq  int64
		lastHash []byte
	)
	for rows.Next() {
		var (
			seq             int64
			state, previous []byte
		)
		if err := rows.Scan(&seq, &state, &previous); err != nil {
			return checked, err
		}
		if checked > 0 {
			if seq != lastSeq+1 {
				return checked, fmt.Errorf("sequence gap: %d follows %d", seq, lastSeq)
			}
			if string(previous) != string(lastHash) {
				return checked, fmt.Errorf("chain broken at sequence %d", seq)
			}
		}
		lastSeq, lastHash = seq, state
		checked++
	}
	return checked, rows.Err()
}

// ChainSource exposes the engine's current chain position.
type ChainSource interface {
	Checkpoint() core.Checkpoint
}

// RunCheckpoints saves a checkpoint whenever the engine has advanced by at
// least interval events. Blocks until ctx is cancelled.
func RunCheckpoints(
	ctx context.Context,
	source ChainSource,
	cm *CheckpointManager,
	interval int64,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	if interval <= 0 {
		interval = 100_000
	}

	last := source.Checkpoint().Sequence
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp := source.Checkpoint()
			if cp.Sequence-last < interval {
				continue
			}
			if err := cm.Save(ctx, cp); err != nil {
				logger.Warn().Err(err).Int64("sequence", cp.Sequence).Msg("periodic checkpoint failed")
				continue
			}
			last = cp.Sequence
			if metrics != nil {
				metrics.CheckpointLastSeq.Set(float64(cp.Sequence))
			}
			logger.Info().Int64("sequence", cp.Sequence).Msg("checkpoint saved")
		}
	}
}
