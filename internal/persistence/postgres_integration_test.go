package persistence_test

import (
	"InsureLedger/internal/config"
	"InsureLedger/internal/core"
	"InsureLedger/internal/persistence"
	"InsureLedger/internal/testutil"
	"context"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Postgres integration (INTEGRATION_TEST=1)
// ============================================================================

func TestEventLog_WriteResumeVerify(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pool, err := persistence.NewPool(ctx, config.PostgresConfig{DSN: testutil.TestPostgresDSN()})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()
	writer := persistence.NewEventLogWriter(pool)

	var (
		events   []persistence.EventRow
		journals []persistence.JournalRow
		prev     [32]byte
	)
	for seq := int64(1); seq <= 3; seq++ {
		out := output(seq, true)
		out.Envelope.PrevHash = prev
		out.Envelope.StateHash = [32]byte{byte(seq)}
		prev = out.Envelope.StateHash

		ev, js := persistence.RowsFromOutput(out)
		events = append(events, ev)
		journals = append(journals, js...)
	}

	if err := writer.WriteBatch(ctx, events, journals); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	// A retried batch must not trip the primary key
	if err := writer.WriteBatch(ctx, events, journals); err != nil {
		t.Fatalf("retried WriteBatch failed: %v", err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("FundAccount", events[1].IdempotencyKey)
	if err != nil || !dup {
		t.Errorf("IsDuplicate: got %v/%v, want true", dup, err)
	}
	dup, err = checker.IsDuplicate("FundAccount", uuid.NewString())
	if err != nil || dup {
		t.Errorf("IsDuplicate on unknown key: got %v/%v, want false", dup, err)
	}

	cm := persistence.NewCheckpointManager(db)
	if err := cm.Save(ctx, core.Checkpoint{Sequence: 2, StateHash: [32]byte{2}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cp, err := cm.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if cp == nil || cp.Sequence != 3 || cp.StateHash != ([32]byte{3}) {
		t.Errorf("resume should prefer the log tip, got %+v", cp)
	}

	checked, err := cm.VerifyChain(ctx, 1)
	if err != nil {
		t.Fatalf("VerifyChain failed: %v", err)
	}
	if checked != 3 {
		t.Errorf("checked: got %d, want 3", checked)
	}
}
