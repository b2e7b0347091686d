package persistence

import (
	"InsureLedger/internal/core"
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	PoolKey        string
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	Timestamp      int64
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     [16]byte
	BatchID       [16]byte
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        uint64
	JournalType   int32
	Timestamp     int64
}

// RowsFromOutput flattens a core output into event log rows.
func RowsFromOutput(output core.CoreOutput) (EventRow, []JournalRow) {
	env := output.Envelope
	payload := env.Payload
	if !json.Valid(payload) {
		payload = []byte("{}")
	}

	ev := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PoolKey:        env.PoolKey,
		Payload:        payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
	}

	if output.Batch == nil {
		return ev, nil
	}
	journals := make([]JournalRow, 0, len(output.Batch.Journals))
	for _, j := range output.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID,
			BatchID:       j.BatchID,
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        j.Amount,
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}
	return ev, journals
}

// EventLogWriter writes events and journals to Postgres with the COPY
// protocol. Each batch is written in one transaction that first clears the
// batch's sequence range, so a retried batch overwrites a partial or
// already-committed attempt instead of tripping the primary key.
type EventLogWriter struct {
	pool *pgxpool.Pool
}

func NewEventLogWriter(pool *pgxpool.Pool) *EventLogWriter {
	return &EventLogWriter{pool: pool}
}

var (
	eventColumns = []string{
		"sequence", "event_type", "idempotency_key", "pool_key", "payload",
		"state_hash", "prev_hash", "timestamp",
	}
	journalColumns = []string{
		"journal_id", "batch_id", "event_ref", "sequence", "debit_account",
		"credit_account", "asset_id", "amount", "journal_type", "timestamp",
	}
)

// WriteBatch writes events and their journals atomically.
func (w *EventLogWriter) WriteBatch(ctx context.Context, events []EventRow, journals []JournalRow) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	lo, hi := events[0].Sequence, events[len(events)-1].Sequence
	if _, err := tx.Exec(ctx, `DELETE FROM event_log.journal WHERE sequence BETWEEN $1 AND $2`, lo, hi); err != nil {
		return fmt.Errorf("clear journals: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM event_log.events WHERE sequence BETWEEN $1 AND $2`, lo, hi); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"event_log", "events"},
		eventColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{
				e.Sequence, e.EventType, e.IdempotencyKey, e.PoolKey, e.Payload,
				e.StateHash, e.PrevHash, e.Timestamp,
			}, nil
		}),
	); err != nil {
		return fmt.Errorf("copy events: %w", err)
	}

	if len(journals) > 0 {
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"event_log", "journal"},
			journalColumns,
			pgx.CopyFromSlice(len(journals), func(i int) ([]any, error) {
				j := journals[i]
				return []any{
					pgtype.UUID{Bytes: j.JournalID, Valid: true},
					pgtype.UUID{Bytes: j.BatchID, Valid: true},
					j.EventRef,
					j.Sequence,
					j.DebitAccount,
					j.CreditAccount,
					int16(j.AssetID),
					pgtype.Numeric{Int: new(big.Int).SetUint64(j.Amount), Valid: true},
					int16(j.JournalType),
					j.Timestamp,
				}, nil
			}),
		); err != nil {
			return fmt.Errorf("copy journals: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
