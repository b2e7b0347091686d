package ingestion_test

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/event"
	"InsureLedger/internal/ingestion"
	"InsureLedger/internal/store"
	"InsureLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// NATS integration (INTEGRATION_TEST=1)
// ============================================================================

func TestNATS_CommandReachesEngine(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ingestion.EnsureStreams(ctx, js, zerolog.Nop()); err != nil {
		t.Fatalf("EnsureStreams: %v", err)
	}

	engine, err := core.NewEngine(core.Config{}, store.NewMemoryStore(), core.NewManualClock(0), nil, nil, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = engine.Run(ctx)
	}()

	// A per-run consumer so earlier runs' messages do not interfere
	consumer := "insure-ledger-test-" + uuid.NewString()[:8]
	rawCh := make(chan ingestion.RawEvent, 16)
	sub := ingestion.NewNATSSubscriber(js, rawCh, zerolog.Nop())
	defer sub.Stop()

	reqID := uuid.New()
	subject := ingestion.CommandSubject(event.EventTypeInitializePool)
	if err := sub.Subscribe(ctx, []ingestion.SubjectConfig{
		{Subject: subject, ConsumerName: consumer, StreamName: ingestion.CommandStream},
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() { _ = js.DeleteConsumer(context.Background(), ingestion.CommandStream, consumer) }()

	body := []byte(`{"request_id":"` + reqID.String() + `","pool_key":"nats` + reqID.String()[:8] + `","authority":"` + ownerHex + `"}`)
	if _, err := js.Publish(ctx, subject, body); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	dispatched := make(chan ingestion.RawEvent, 16)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		_ = ingestion.NewDispatcher(engine, dispatched, nil, zerolog.Nop()).Run(ctx)
	}()

	deadline := time.After(10 * time.Second)
	for engine.GetSequence() < 2 {
		select {
		case raw := <-rawCh:
			dispatched <- raw
		case <-deadline:
			t.Fatal("command was not applied within 10s")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	<-dispatchDone
	<-engineDone
}
