package state_test

import (
	"InsureLedger/internal/state"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestGovernance_VoteTally(t *testing.T) {
	gov := &state.Governance{YesVotes: 3, NoVotes: 2}
	votes := []bool{true, false, true, true, false, true}

	var records []*state.VoteRecord
	for i, v := range votes {
		if err := gov.RecordVote(v); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		rec, err := state.NewVoteRecord(owner, 7, v, int64(i))
		if err != nil {
			t.Fatalf("vote record %d: %v", i, err)
		}
		records = append(records, rec)
	}

	if gov.YesVotes != 3+4 {
		t.Errorf("yes votes: got %d, want 7", gov.YesVotes)
	}
	if gov.NoVotes != 2+2 {
		t.Errorf("no votes: got %d, want 4", gov.NoVotes)
	}
	if len(records) != len(votes) {
		t.Errorf("records: got %d, want %d", len(records), len(votes))
	}
}

func TestGovernance_Overflow(t *testing.T) {
	gov := &state.Governance{YesVotes: math.MaxUint64}
	if err := gov.RecordVote(true); !errors.Is(err, state.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if err := gov.RecordVote(false); err != nil {
		t.Errorf("no vote should still count: %v", err)
	}
}

func TestGovernance_RegisterProposal(t *testing.T) {
	gov := &state.Governance{}
	for want := uint64(1); want <= 3; want++ {
		id, err := gov.RegisterProposal()
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if id != want {
			t.Errorf("got %d, want %d", id, want)
		}
	}
}

func TestHistory_ParsePolicyAction(t *testing.T) {
	for _, a := range []state.PolicyAction{
		state.PolicyActionCreated, state.PolicyActionCanceled,
		state.PolicyActionClaimed, state.PolicyActionExpired,
	} {
		got, err := state.ParsePolicyAction(a.String())
		if err != nil || got != a {
			t.Errorf("%s: got (%v, %v)", a, got, err)
		}
	}
	if _, err := state.ParsePolicyAction("refunded"); !errors.Is(err, state.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestHistory_NewEntryRejectsUnknownAction(t *testing.T) {
	_, err := state.NewHistoryEntry(owner, uuid.New(), state.PolicyAction(9), 0)
	if !errors.Is(err, state.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
