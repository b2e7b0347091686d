package query_test

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/event"
	"InsureLedger/internal/observability"
	"InsureLedger/internal/projection"
	"InsureLedger/internal/query"
	"InsureLedger/internal/state"
	"InsureLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

var (
	authority = state.MustParseIdentity(strings.Repeat("a1", 32))
	owner     = state.MustParseIdentity(strings.Repeat("b2", 32))
)

type fixture struct {
	engine  *core.Engine
	projCh  chan core.CoreOutput
	views   *projection.Store
	clock   *core.ManualClock
	metrics *observability.Metrics
	qs      *query.QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1024)
	e, err := core.NewEngine(core.Config{}, store.NewMemoryStore(), core.NewManualClock(0), persistCh, projCh, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	views, err := projection.Open(fmt.Sprintf("file:q_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = views.Close() })

	clock := core.NewManualClock(0)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return &fixture{
		engine:  e,
		projCh:  projCh,
		views:   views,
		clock:   clock,
		metrics: metrics,
		qs:      query.NewQueryService(views, nil, clock, metrics),
	}
}

// apply runs evt and projects its output.
func (f *fixture) apply(t *testing.T, evt event.Event) *core.Result {
	t.Helper()
	res, err := f.engine.ProcessEvent(evt)
	if err != nil {
		t.Fatalf("%s failed: %v", evt.EventType(), err)
	}
	o := <-f.projCh
	if err := f.views.Apply(context.Background(), o.Envelope.Sequence, o.Records); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return res
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
// Test: Pools and policies
// ============================================================================

func TestGetPool_Utilization(t *testing.T) {
	f := newFixture(t)
	policyID := f.seed(t)
	f.apply(t, &event.ApproveClaim{RequestID: uuid.New(), PolicyID: policyID, Authority: authority})

	resp, err := f.qs.GetPool(context.Background(), "")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if got := resp.Utilization.String(); got != "0.6" {
		t.Errorf("utilization: got %s, want 0.6", got)
	}
	if got := resp.Surplus.String(); got != "40" {
		t.Errorf("surplus: got %s, want 40", got)
	}
	if resp.AsOfSequence != 3 {
		t.Errorf("as_of_sequence: got %d, want 3", resp.AsOfSequence)
	}
	if got := testutil.ToFloat64(f.metrics.QueryRequests.WithLabelValues("get_pool", "ok")); got != 1 {
		t.Errorf("query requests: got %v, want 1", got)
	}
}

func TestGetPolicy_EstimatesProRataRefund(t *testing.T) {
	tests := []struct {
		now        int64
		wantRatio  string
		wantRefund string
	}{
		{0, "1", "100"},
		{1_296_000, "0.5", "50"},
		{2_591_999, "0", "0"},
		{2_592_000, "0", "0"},
	}

	f := newFixture(t)
	policyID := f.seed(t)
	for _, tt := range tests {
		f.clock.Set(tt.now)
		resp, err := f.qs.GetPolicy(context.Background(), policyID.String())
		if err != nil {
			t.Fatalf("GetPolicy: %v", err)
		}
		if got := resp.EstimatedRefund.String(); got != tt.wantRefund {
			t.Errorf("now=%d refund: got %s, want %s", tt.now, got, tt.wantRefund)
		}
		if got := resp.RemainingRatio.String(); got != tt.wantRatio {
			t.Errorf("now=%d ratio: got %s, want %s", tt.now, got, tt.wantRatio)
		}
	}
}

func TestGetPolicy_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.qs.GetPolicy(ctx, "not-a-uuid"); !errors.Is(err, state.ErrInvalidArgument) {
		t.Errorf("malformed id: got %v, want ErrInvalidArgument", err)
	}
	if _, err := f.qs.GetPolicy(ctx, uuid.NewString()); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
	if got := testutil.ToFloat64(f.metrics.QueryRequests.WithLabelValues("get_policy", "not_found")); got != 1 {
		t.Errorf("not_found requests: got %v, want 1", got)
	}
}

func TestListPolicies_ByOwner(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.apply(t, &event.PurchaseInsurance{RequestID: uuid.New(), Owner: authority, PremiumAmount: 10, CoverageAmount: 5})

	resp, err := f.qs.ListPolicies(context.Background(), "", owner.String(), false, 0, 0)
	if err != nil {
		t.Fatalf("ListPolicies: %v", err)
	}
	if len(resp.Policies) != 1 || resp.Policies[0].Owner != owner.String() {
		t.Errorf("policies: got %+v", resp.Policies)
	}
	if _, err := f.qs.ListPolicies(context.Background(), "", "zz", false, 0, 0); !errors.Is(err, state.ErrInvalidArgument) {
		t.Errorf("bad owner: got %v, want ErrInvalidArgument", err)
	}
}

func TestGetPolicyHistory(t *testing.T) {
	f := newFixture(t)
	policyID := f.seed(t)
	for _, a := range []state.PolicyAction{state.PolicyActionCreated, state.PolicyActionCanceled} {
		f.apply(t, &event.LogPolicyAction{RequestID: uuid.New(), PolicyID: policyID, User: owner, Action: a})
	}

	resp, err := f.qs.GetPolicyHistory(context.Background(), policyID.String())
	if err != nil {
		t.Fatalf("GetPolicyHistory: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(resp.Entries))
	}
	if resp.Entries[0].Action != "Created" || resp.Entries[1].Action != "Canceled" {
		t.Errorf("order: got %s, %s", resp.Entries[0].Action, resp.Entries[1].Action)
	}
}

// ============================================================================
// Test: Governance
// ============================================================================

func TestGovernanceAndVotes(t *testing.T) {
	f := newFixture(t)
	f.apply(t, &event.InitializeGovernance{RequestID: uuid.New()})
	f.apply(t, &event.RegisterProposal{RequestID: uuid.New(), Proposer: owner})
	for _, v := range []bool{true, true, true, false} {
		f.apply(t, &event.SubmitGovernanceVote{RequestID: uuid.New(), Voter: owner, ProposalID: 1, Vote: v})
	}

	gov, err := f.qs.GetGovernance(context.Background(), "")
	if err != nil {
		t.Fatalf("GetGovernance: %v", err)
	}
	if gov.YesVotes.String() != "3" || gov.NoVotes.String() != "1" {
		t.Errorf("tally: got %s/%s, want 3/1", gov.YesVotes, gov.NoVotes)
	}
	if got := gov.YesShare.String(); got != "0.75" {
		t.Errorf("yes share: got %s, want 0.75", got)
	}

	votes, err := f.qs.ListVotes(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListVotes: %v", err)
	}
	if len(votes.Votes) != 4 || votes.Yes != 3 || votes.No != 1 {
		t.Errorf("votes: got %d rows, %d yes, %d no", len(votes.Votes), votes.Yes, votes.No)
	}
}

// ============================================================================
// Test: Balances and admin
// ============================================================================

func TestGetBalance_UnknownAccountIsZero(t *testing.T) {
	f := newFixture(t)
	f.apply(t, &event.FundAccount{RequestID: uuid.New(), Account: "pool:main:vault:NATIVE", Amount: 500})

	resp, err := f.qs.GetBalance(context.Background(), "pool:main:vault:NATIVE")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if got := resp.Balance.String(); got != "500" {
		t.Errorf("vault: got %s, want 500", got)
	}

	resp, err = f.qs.GetBalance(context.Background(), "pool:other:vault:NATIVE")
	if err != nil {
		t.Fatalf("GetBalance unknown: %v", err)
	}
	if !resp.Balance.IsZero() {
		t.Errorf("unknown account: got %s, want 0", resp.Balance)
	}
}

func TestVerifyIntegrity_WithoutEventLog(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	report, err := f.qs.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("report: got %+v, want healthy", report)
	}

	if _, err := f.qs.GetJournalHistory(context.Background(), "pool:main:vault:NATIVE", 10, nil); !errors.Is(err, query.ErrEventLogDisabled) {
		t.Errorf("journal history: got %v, want ErrEventLogDisabled", err)
	}
}
