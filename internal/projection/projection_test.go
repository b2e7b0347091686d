package projection_test

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/event"
	"InsureLedger/internal/projection"
	"InsureLedger/internal/state"
	"InsureLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

var (
	authority = state.MustParseIdentity(strings.Repeat("a1", 32))
	owner     = state.MustParseIdentity(strings.Repeat("b2", 32))
)

type fixture struct {
	engine *core.Engine
	store  store.Store
	projCh chan core.CoreOutput
	views  *projection.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1024)
	e, err := core.NewEngine(core.Config{}, st, core.NewManualClock(100), persistCh, projCh, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	views, err := projection.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = views.Close() })

	return &fixture{engine: e, store: st, projCh: projCh, views: views}
}

func (f *fixture) apply(t *testing.T, evt event.Event) *core.Result {
	t.Helper()
	res, err := f.engine.ProcessEvent(evt)
	if err != nil {
		t.Fatalf("%s failed: %v", evt.EventType(), err)
	}
	return res
}

func (f *fixture) outputs() []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-f.projCh:
			out = append(out, o)
		default:
			return out
		}
	}
}

func (f *fixture) seed(t *testing.T) uuid.UUID {
	t.Helper()
	f.apply(t, &event.InitializePool{RequestID: uuid.New(), Authority: authority})
	res := f.apply(t, &event.PurchaseInsurance{
		RequestID:      uuid.New(),
		Owner:          owner,
		DepositAmount:  1_000,
		PremiumAmount:  100,
		CoverageAmount: 60,
	})
	return *res.PolicyID
}

// ============================================================================
// Test: Apply
// ============================================================================

func TestApply_UpsertsTouchedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	policyID := f.seed(t)
	f.apply(t, &event.ApproveClaim{RequestID: uuid.New(), PolicyID: policyID, Authority: authority})

	for _, o := range f.outputs() {
		if err := f.views.Apply(ctx, o.Envelope.Sequence, o.Records); err != nil {
			t.Fatalf("Apply seq=%d: %v", o.Envelope.Sequence, err)
		}
	}

	pool, err := f.views.GetPool(ctx, core.DefaultPoolKey)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if got := pool.PremiumCollected.String(); got != "100" {
		t.Errorf("premium collected: got %s, want 100", got)
	}
	if got := pool.ClaimsPaid.String(); got != "60" {
		t.Errorf("claims paid: got %s, want 60", got)
	}
	if got := pool.Surplus.String(); got != "40" {
		t.Errorf("surplus: got %s, want 40", got)
	}
	if pool.LastSequence != 3 {
		t.Errorf("pool last sequence: got %d, want 3", pool.LastSequence)
	}

	pol, err := f.views.GetPolicy(ctx, policyID.String())
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if pol.IsActive || pol.Status != "Terminated" {
		t.Errorf("claimed policy: active=%v status=%s", pol.IsActive, pol.Status)
	}
	if pol.Owner != owner.String() {
		t.Errorf("owner: got %s, want %s", pol.Owner, owner)
	}

	wm, err := f.views.Watermark(ctx)
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if wm != 3 {
		t.Errorf("watermark: got %d, want 3", wm)
	}
}

func TestApply_MissingRowIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.views.GetPolicy(context.Background(), uuid.NewString())
	if !errors.Is(err, projection.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestApply_GovernanceCountersKeepFullRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gov := &state.Governance{YesVotes: math.MaxUint64, NoVotes: math.MaxUint64 - 1, TotalProposals: math.MaxUint64}
	vote := &store.VoteEntry{
		ID:   uuid.New(),
		Vote: &state.VoteRecord{Voter: owner, ProposalID: math.MaxUint64, Vote: true, Timestamp: 5},
	}
	rs := &core.RecordSet{GovernanceKey: core.DefaultGovernanceKey, Governance: gov, Votes: []*store.VoteEntry{vote}}
	if err := f.views.Apply(ctx, 1, rs); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := f.views.GetGovernance(ctx, core.DefaultGovernanceKey)
	if err != nil {
		t.Fatalf("GetGovernance: %v", err)
	}
	if got.YesVotes.String() != "18446744073709551615" || got.NoVotes.String() != "18446744073709551614" {
		t.Errorf("tally: got yes=%s no=%s", got.YesVotes, got.NoVotes)
	}
	if got.TotalProposals.String() != "18446744073709551615" {
		t.Errorf("proposals: got %s", got.TotalProposals)
	}

	votes, err := f.views.ListVotes(ctx, math.MaxUint64)
	if err != nil {
		t.Fatalf("ListVotes: %v", err)
	}
	if len(votes) != 1 || votes[0].ID != vote.ID.String() {
		t.Errorf("votes for max proposal: got %+v", votes)
	}
	if other, _ := f.views.ListVotes(ctx, 1); len(other) != 0 {
		t.Errorf("proposal 1: got %d votes, want 0", len(other))
	}
}

func TestListPolicies_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.seed(t)
	f.apply(t, &event.PurchaseInsurance{RequestID: uuid.New(), Owner: authority, PremiumAmount: 5, CoverageAmount: 1})
	f.apply(t, &event.ApproveClaim{RequestID: uuid.New(), PolicyID: first, Authority: authority})
	for _, o := range f.outputs() {
		if err := f.views.Apply(ctx, o.Envelope.Sequence, o.Records); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter projection.PolicyFilter
		want   int
	}{
		{"all", projection.PolicyFilter{}, 2},
		{"by pool", projection.PolicyFilter{PoolKey: core.DefaultPoolKey}, 2},
		{"other pool", projection.PolicyFilter{PoolKey: "other"}, 0},
		{"by owner", projection.PolicyFilter{Owner: owner.String()}, 1},
		{"active only", projection.PolicyFilter{ActiveOnly: true}, 1},
		{"limit", projection.PolicyFilter{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := f.views.ListPolicies(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListPolicies: %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("got %d rows, want %d", len(rows), tt.want)
			}
		})
	}
}

// ============================================================================
// Test: Rebuild
// ============================================================================

func TestRebuild_MirrorsRecordStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	policyID := f.seed(t)
	f.apply(t, &event.LogPolicyAction{RequestID: uuid.New(), PolicyID: policyID, User: owner, Action: state.PolicyActionCreated})
	f.apply(t, &event.InitializeGovernance{RequestID: uuid.New()})
	f.apply(t, &event.RegisterProposal{RequestID: uuid.New(), Proposer: owner})
	for i := 0; i < 3; i++ {
		f.apply(t, &event.SubmitGovernanceVote{RequestID: uuid.New(), Voter: owner, ProposalID: 1, Vote: i != 1})
	}
	f.outputs()

	if err := f.views.Rebuild(ctx, f.store, core.DefaultGovernanceKey, f.engine.GetSequence()-1); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	hist, err := f.views.ListHistory(ctx, policyID.String())
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].Action != "Created" {
		t.Errorf("history: got %+v", hist)
	}

	votes, err := f.views.ListVotes(ctx, 1)
	if err != nil {
		t.Fatalf("ListVotes: %v", err)
	}
	if len(votes) != 3 {
		t.Errorf("votes: got %d, want 3", len(votes))
	}

	gov, err := f.views.GetGovernance(ctx, core.DefaultGovernanceKey)
	if err != nil {
		t.Fatalf("GetGovernance: %v", err)
	}
	if gov.YesVotes.String() != "2" || gov.NoVotes.String() != "1" || gov.TotalProposals.String() != "1" {
		t.Errorf("governance: got yes=%s no=%s proposals=%s, want 2/1/1", gov.YesVotes, gov.NoVotes, gov.TotalProposals)
	}

	wm, _ := f.views.Watermark(ctx)
	if wm != f.engine.GetSequence()-1 {
		t.Errorf("watermark: got %d, want %d", wm, f.engine.GetSequence()-1)
	}
}

// ============================================================================
// Test: Worker
// ============================================================================

func TestWorker_RebuildsOnGap(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	f := newFixture(t)
	policyID := f.seed(t)
	f.apply(t, &event.AdjustCoverage{RequestID: uuid.New(), PolicyID: policyID, Owner: owner, NewCoverageAmount: 80})
	outputs := f.outputs()
	if len(outputs) != 3 {
		t.Fatalf("outputs: got %d, want 3", len(outputs))
	}

	// Drop the purchase output; the adjust output alone cannot create the
	// policy row, so the worker must rebuild.
	in := make(chan core.CoreOutput, 2)
	in <- outputs[0]
	in <- outputs[2]
	close(in)

	w := projection.NewProjectionWorker(f.views, f.store, core.DefaultGovernanceKey, in, nil, zerolog.Nop())
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.LastSequence() != 3 {
		t.Errorf("last sequence: got %d, want 3", w.LastSequence())
	}

	pol, err := f.views.GetPolicy(context.Background(), policyID.String())
	if err != nil {
		t.Fatalf("GetPolicy after rebuild: %v", err)
	}
	if got := pol.Coverage.String(); got != "80" {
		t.Errorf("coverage: got %s, want 80", got)
	}
}

func TestWorker_SkipsAppliedSequences(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	f := newFixture(t)
	ctx := context.Background()
	f.seed(t)
	outputs := f.outputs()
	for _, o := range outputs {
		if err := f.views.Apply(ctx, o.Envelope.Sequence, o.Records); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	in := make(chan core.CoreOutput, len(outputs))
	for _, o := range outputs {
		in <- o
	}
	close(in)

	w := projection.NewProjectionWorker(f.views, f.store, core.DefaultGovernanceKey, in, nil, zerolog.Nop())
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.LastSequence() != 2 {
		t.Errorf("last sequence: got %d, want 2", w.LastSequence())
	}
}
