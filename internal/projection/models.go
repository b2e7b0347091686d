package projection

import (
	"InsureLedger/internal/state"
	"InsureLedger/internal/store"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amounts and other uint64 counters are stored as decimal text; sqlite
// integers cannot hold the full uint64 range.

type PoolView struct {
	PoolKey          string          `gorm:"primaryKey"`
	Authority        string          `gorm:"index"`
	PremiumCollected decimal.Decimal `gorm:"type:text"`
	ClaimsPaid       decimal.Decimal `gorm:"type:text"`
	Surplus          decimal.Decimal `gorm:"type:text"`
	LastSequence     int64
}

func (PoolView) TableName() string { return "pool_views" }

type PolicyView struct {
	ID           string          `gorm:"primaryKey"`
	PoolKey      string          `gorm:"index"`
	Owner        string          `gorm:"index"`
	Deposit      decimal.Decimal `gorm:"type:text"`
	Premium      decimal.Decimal `gorm:"type:text"`
	Coverage     decimal.Decimal `gorm:"type:text"`
	StartTime    int64
	EndTime      int64
	IsActive     bool
	Status       string
	LastSequence int64
}

func (PolicyView) TableName() string { return "policy_views" }

type HistoryView struct {
	ID        string `gorm:"primaryKey"`
	PolicyID  string `gorm:"index"`
	User      string
	Action    string
	Timestamp int64
	Sequence  int64
}

func (HistoryView) TableName() string { return "history_views" }

type VoteView struct {
	ID         string          `gorm:"primaryKey"`
	ProposalID decimal.Decimal `gorm:"type:text;index"`
	Voter      string          `gorm:"index"`
	Vote       bool
	Timestamp  int64
	Sequence   int64
}

func (VoteView) TableName() string { return "vote_views" }

type GovernanceView struct {
	GovernanceKey  string          `gorm:"primaryKey"`
	YesVotes       decimal.Decimal `gorm:"type:text"`
	NoVotes        decimal.Decimal `gorm:"type:text"`
	TotalProposals decimal.Decimal `gorm:"type:text"`
	LastSequence   int64
}

func (GovernanceView) TableName() string { return "governance_views" }

type BalanceView struct {
	AccountPath  string          `gorm:"primaryKey"`
	Amount       decimal.Decimal `gorm:"type:text"`
	LastSequence int64
}

func (BalanceView) TableName() string { return "balance_views" }

// Watermark tracks the last sequence a worker applied.
type Watermark struct {
	WorkerID     string `gorm:"primaryKey"`
	LastSequence int64
	UpdatedAt    int64
}

func (Watermark) TableName() string { return "projection_watermarks" }

// MigrateModels lists every projection table.
var MigrateModels = []any{
	&PoolView{},
	&PolicyView{},
	&HistoryView{},
	&VoteView{},
	&GovernanceView{},
	&BalanceView{},
	&Watermark{},
}

func amount(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func poolView(key string, p *state.Pool, seq int64) PoolView {
	return PoolView{
		PoolKey:          key,
		Authority:        p.Authority.String(),
		PremiumCollected: amount(p.TotalPremiumCollected),
		ClaimsPaid:       amount(p.TotalClaimsPaid),
		Surplus:          amount(p.Surplus()),
		LastSequence:     seq,
	}
}

func policyView(e *store.PolicyEntry, seq int64) PolicyView {
	p := e.Policy
	return PolicyView{
		ID:           e.ID.String(),
		PoolKey:      e.PoolKey,
		Owner:        p.Owner.String(),
		Deposit:      amount(p.DepositAmount),
		Premium:      amount(p.PremiumAmount),
		Coverage:     amount(p.CoverageAmount),
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
		IsActive:     p.IsActive,
		Status:       p.Status().String(),
		LastSequence: seq,
	}
}

func historyView(h *store.HistoryRecord, seq int64) HistoryView {
	return HistoryView{
		ID:        h.ID.String(),
		PolicyID:  h.Entry.Policy.String(),
		User:      h.Entry.User.String(),
		Action:    h.Entry.Action.String(),
		Timestamp: h.Entry.Timestamp,
		Sequence:  seq,
	}
}

func voteView(v *store.VoteEntry, seq int64) VoteView {
	return VoteView{
		ID:         v.ID.String(),
		ProposalID: amount(v.Vote.ProposalID),
		Voter:      v.Vote.Voter.String(),
		Vote:       v.Vote.Vote,
		Timestamp:  v.Vote.Timestamp,
		Sequence:   seq,
	}
}

func governanceView(key string, g *state.Governance, seq int64) GovernanceView {
	return GovernanceView{
		GovernanceKey:  key,
		YesVotes:       amount(g.YesVotes),
		NoVotes:        amount(g.NoVotes),
		TotalProposals: amount(g.TotalProposals),
		LastSequence:   seq,
	}
}
