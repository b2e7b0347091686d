package state

import (
	fpmath "InsureLedger/internal/math"
	"fmt"
)

// Governance is the protocol-wide vote tally. All counters only grow.
type Governance struct {
	YesVotes       uint64 `json:"yes_votes"`
	NoVotes        uint64 `json:"no_votes"`
	TotalProposals uint64 `json:"total_proposals"`
}

// RecordVote bumps the yes or no counter. Repeat votes by the same voter
// on the same proposal are counted again.
func (g *Governance) RecordVote(vote bool) error {
	if vote {
		n, err := fpmath.CheckedAdd(g.YesVotes, 1)
		if err != nil {
			return fmt.Errorf("yes votes: %w", ErrOverflow)
		}
		g.YesVotes = n
		return nil
	}

	n, err := fpmath.CheckedAdd(g.NoVotes, 1)
	if err != nil {
		return fmt.Errorf("no votes: %w", ErrOverflow)
	}
	g.NoVotes = n
	return nil
}

// RegisterProposal allocates the next proposal ID (1-based).
func (g *Governance) RegisterProposal() (uint64, error) {
	n, err := fpmath.CheckedAdd(g.TotalProposals, 1)
	if err != nil {
		return 0, fmt.Errorf("total proposals: %w", ErrOverflow)
	}
	g.TotalProposals = n
	return n, nil
}

func (g *Governance) TotalVotes() uint64 {
	return g.YesVotes + g.NoVotes
}

func (g *Governance) Clone() *Governance {
	c := *g
	return &c
}

// VoteRecord is one submitted vote. Immutable once written.
type VoteRecord struct {
	Voter      Identity `json:"voter"`
	ProposalID uint64   `json:"proposal_id"`
	Vote       bool     `json:"vote"`
	Timestamp  int64    `json:"timestamp"`
}

func NewVoteRecord(voter Identity, proposalID uint64, vote bool, now int64) (*VoteRecord, error) {
	if voter.IsZero() {
		return nil, fmt.Errorf("%w: voter is empty", ErrInvalidArgument)
	}
	return &VoteRecord{
		Voter:      voter,
		ProposalID: proposalID,
		Vote:       vote,
		Timestamp:  now,
	}, nil
}
