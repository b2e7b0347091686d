package event

import (
	"InsureLedger/internal/state"

	"github.com/google/uuid"
)

type InitializeGovernance struct {
	RequestID uuid.UUID `json:"request_id"`
}

func (e *InitializeGovernance) IdempotencyKey() string { return e.RequestID.String() }
func (e *InitializeGovernance) EventType() EventType { return EventTypeInitializeGovernance }
func (e *InitializeGovernance) PoolKey() string { return "" }

type RegisterProposal struct {
	RequestID uuid.UUID      `json:"request_id"`
	Proposer  state.Identity `json:"proposer"`
}

func (e *RegisterProposal) IdempotencyKey() string { return e.RequestID.String() }
func (e *RegisterProposal) EventType() EventType { return EventTypeRegisterProposal }
func (e *RegisterProposal) PoolKey() string { return "" }

// SubmitGovernanceVote records one vote. Repeat votes are counted.
type SubmitGovernanceVote struct {
	RequestID  uuid.UUID      `json:"request_id"`
	Voter      state.Identity `json:"voter"`
	ProposalID uint64         `json:"proposal_id"`
	Vote       bool           `json:"vote"`
}

func (e *SubmitGovernanceVote) IdempotencyKey() string { return e.RequestID.String() }
func (e *SubmitGovernanceVote) EventType() EventType { return EventTypeSubmitGovernanceVote }
func (e *SubmitGovernanceVote) PoolKey() string { return "" }
