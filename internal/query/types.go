package query

import "github.com/shopspring/decimal"

// Amounts are decimals so the full uint64 range survives JSON.

// PoolResponse is a pool's counters plus derived ratios.
type PoolResponse struct {
	PoolKey               string          `json:"pool_key"`
	Authority             string          `json:"authority"`
	TotalPremiumCollected decimal.Decimal `json:"total_premium_collected"`
	TotalClaimsPaid       decimal.Decimal `json:"total_claims_paid"`
	Surplus               decimal.Decimal `json:"surplus"`
	Utilization           decimal.Decimal `json:"utilization"` // claims / premium, derived at query time
	LastSequence          int64           `json:"last_sequence"`
	AsOfSequence          int64           `json:"as_of_sequence"`
}

// PolicyResponse is a policy plus the refund it would earn if canceled now.
type PolicyResponse struct {
	ID              string          `json:"id"`
	PoolKey         string          `json:"pool_key"`
	Owner           string          `json:"owner"`
	DepositAmount   decimal.Decimal `json:"deposit_amount"`
	PremiumAmount   decimal.Decimal `json:"premium_amount"`
	CoverageAmount  decimal.Decimal `json:"coverage_amount"`
	StartTime       int64           `json:"start_time"`
	EndTime         int64           `json:"end_time"`
	IsActive        bool            `json:"is_active"`
	Status          string          `json:"status"`
	RemainingRatio  decimal.Decimal `json:"remaining_ratio"`
	EstimatedRefund decimal.Decimal `json:"estimated_refund"`
	LastSequence    int64           `json:"last_sequence"`
	AsOfSequence    int64           `json:"as_of_sequence"`
}

type PolicyListResponse struct {
	Policies     []PolicyResponse `json:"policies"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

type HistoryEntryResponse struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

type HistoryResponse struct {
	PolicyID     string                 `json:"policy_id"`
	Entries      []HistoryEntryResponse `json:"entries"`
	AsOfSequence int64                  `json:"as_of_sequence"`
}

type GovernanceResponse struct {
	GovernanceKey  string          `json:"governance_key"`
	YesVotes       decimal.Decimal `json:"yes_votes"`
	NoVotes        decimal.Decimal `json:"no_votes"`
	TotalProposals decimal.Decimal `json:"total_proposals"`
	YesShare       decimal.Decimal `json:"yes_share"`
	AsOfSequence   int64           `json:"as_of_sequence"`
}

type VoteResponse struct {
	ID        string `json:"id"`
	Voter     string `json:"voter"`
	Vote      bool   `json:"vote"`
	Timestamp int64  `json:"timestamp"`
}

// VotesResponse lists one proposal's votes with a per-proposal tally.
type VotesResponse struct {
	ProposalID   uint64         `json:"proposal_id"`
	Votes        []VoteResponse `json:"votes"`
	Yes          int64          `json:"yes"`
	No           int64          `json:"no"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type BalanceResponse struct {
	AccountPath  string          `json:"account_path"`
	Balance      decimal.Decimal `json:"balance"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// JournalHistoryEntry is one journal row from the Postgres event log.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool     `json:"is_healthy"`
	HashChainBreaks []int64  `json:"hash_chain_breaks,omitempty"`
	InsolventPools  []string `json:"insolvent_pools,omitempty"`
	AsOfSequence    int64    `json:"as_of_sequence"`
}
