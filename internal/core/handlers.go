package core

import (
	"InsureLedger/internal/event"
	"InsureLedger/internal/ledger"
	"InsureLedger/internal/state"
	"InsureLedger/internal/store"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Pool keys double as account path segments and must fit an entity ID.
const maxPoolKeyLen = 32

// cmdCtx carries one command through its store transaction.
type cmdCtx struct {
	tx      store.Txn
	now     int64
	posting ledger.Posting
	records *RecordSet
	batch   *ledger.Batch
}

func newRecordSet() *RecordSet {
	return &RecordSet{
		Pools:    make(map[string]*state.Pool),
		Balances: make(map[ledger.AccountKey]uint64),
	}
}

func (c *cmdCtx) putPool(key string, pool *state.Pool) error {
	if err := c.tx.PutPool(key, pool); err != nil {
		return err
	}
	c.records.Pools[key] = pool.Clone()
	return nil
}

func (c *cmdCtx) putPolicy(entry *store.PolicyEntry) error {
	if err := c.tx.PutPolicy(entry); err != nil {
		return err
	}
	c.records.Policies = append(c.records.Policies, &store.PolicyEntry{
		ID:      entry.ID,
		PoolKey: entry.PoolKey,
		Policy:  entry.Policy.Clone(),
	})
	return nil
}

// derivedID gives records created by a command a stable address, so a
// replayed command lands on the same keys.
func derivedID(requestID uuid.UUID, kind string) uuid.UUID {
	return uuid.NewSHA1(requestID, []byte(kind))
}

func (e *Engine) poolKey(key string) string {
	if key == "" {
		return e.cfg.DefaultPoolKey
	}
	return key
}

func (e *Engine) loadPool(c *cmdCtx, key string) (*state.Pool, error) {
	pool, err := c.tx.GetPool(key)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", key, err)
	}
	return pool, nil
}

func (e *Engine) loadPolicy(c *cmdCtx, id uuid.UUID) (*store.PolicyEntry, error) {
	entry, err := c.tx.GetPolicy(id)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", id, err)
	}
	return entry, nil
}

func (e *Engine) loadGovernance(c *cmdCtx) (*state.Governance, error) {
	gov, err := c.tx.GetGovernance(e.cfg.GovernanceKey)
	if err != nil {
		return nil, fmt.Errorf("governance %s: %w", e.cfg.GovernanceKey, err)
	}
	return gov, nil
}

// dispatch routes a command to its handler.
func (e *Engine) dispatch(c *cmdCtx, evt event.Event) (*Result, error) {
	switch v := evt.(type) {
	case *event.InitializePool:
		return e.handleInitializePool(c, v)
	case *event.PurchaseInsurance:
		return e.handlePurchaseInsurance(c, v)
	case *event.CancelPolicy:
		return e.handleCancelPolicy(c, v)
	case *event.ApproveClaim:
		return e.handleApproveClaim(c, v)
	case *event.WithdrawPremium:
		return e.handleWithdrawPremium(c, v)
	case *event.LogPolicyAction:
		return e.handleLogPolicyAction(c, v)
	case *event.ProcessPolicyExpiration:
		return e.handleProcessPolicyExpiration(c, v)
	case *event.AdjustCoverage:
		return e.handleAdjustCoverage(c, v)
	case *event.PayPremiumWithToken:
		return e.handlePayPremiumWithToken(c, v)
	case *event.StakeIntoPool:
		return e.handleStakeIntoPool(c, v)
	case *event.SubmitGovernanceVote:
		return e.handleSubmitGovernanceVote(c, v)
	case *event.InitializeGovernance:
		return e.handleInitializeGovernance(c, v)
	case *event.RegisterProposal:
		return e.handleRegisterProposal(c, v)
	case *event.FundAccount:
		return e.handleFundAccount(c, v)
	default:
		return nil, fmt.Errorf("%w: unknown command %T", state.ErrInvalidArgument, evt)
	}
}

// --- Pool ledger ---

func (e *Engine) handleInitializePool(c *cmdCtx, cmd *event.InitializePool) (*Result, error) {
	key := e.poolKey(cmd.Pool)
	if len(key) > maxPoolKeyLen || strings.ContainsAny(key, ":/") {
		return nil, fmt.Errorf("%w: pool key %q", state.ErrInvalidArgument, key)
	}
	if cmd.Authority.IsZero() {
		return nil, fmt.Errorf("%w: pool authority is empty", state.ErrInvalidArgument)
	}

	if _, err := c.tx.GetPool(key); err == nil {
		return nil, fmt.Errorf("pool %s: %w", key, state.ErrPoolExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	pool := state.NewPool(cmd.Authority)
	if err := c.putPool(key, pool); err != nil {
		return nil, err
	}
	return &Result{PoolKey: key, Pool: pool}, nil
}

func (e *Engine) handleWithdrawPremium(c *cmdCtx, cmd *event.WithdrawPremium) (*Result, error) {
	key := e.poolKey(cmd.Pool)
	if cmd.Recipient.IsZero() {
		return nil, fmt.Errorf("%w: withdrawal recipient is empty", state.ErrInvalidArgument)
	}

	pool, err := e.loadPool(c, key)
	if err != nil {
		return nil, err
	}
	if err := pool.Withdraw(cmd.Amount); err != nil {
		return nil, err
	}

	c.batch = e.journalGen.GenerateWithdrawal(c.posting, key, cmd.Recipient, cmd.Amount)
	if err := c.putPool(key, pool); err != nil {
		return nil, err
	}
	return &Result{PoolKey: key, Pool: pool}, nil
}

// --- Policy ledger ---

func (e *Engine) handlePurchaseInsurance(c *cmdCtx, cmd *event.PurchaseInsurance) (*Result, error) {
	key := e.poolKey(cmd.Pool)
	pool, err := e.loadPool(c, key)
	if err != nil {
		return nil, err
	}

	policy, err := state.NewPolicy(cmd.Owner, cmd.DepositAmount, cmd.PremiumAmount, cmd.CoverageAmount, c.now)
	if err != nil {
		return nil, err
	}
	if err := pool.CollectPremium(cmd.PremiumAmount); err != nil {
		return nil, err
	}

	id := derivedID(cmd.RequestID, "policy")
	if err := c.putPolicy(&store.PolicyEntry{ID: id, PoolKey: key, Policy: policy}); err != nil {
		return nil, err
	}
	if err := c.putPool(key, pool); err != nil {
		return nil, err
	}
	return &Result{PoolKey: key, PolicyID: &id, Pool: pool, Policy: policy}, nil
}

func (e *Engine) handleCancelPolicy(c *cmdCtx, cmd *event.CancelPolicy) (*Result, error) {
	entry, err := e.loadPolicy(c, cmd.PolicyID)
	if err != nil {
		return nil, err
	}

	refund, err := entry.Policy.Cancel(c.now)
	if err != nil {
		return nil, fmt.Errorf("cancel policy %s: %w", cmd.PolicyID, err)
	}

	c.batch = e.journalGen.GenerateRefund(c.posting, entry.PoolKey, entry.Policy.Owner, refund)
	if err := c.putPolicy(entry); err != nil {
		return nil, err
	}

	id := entry.ID
	return &Result{PoolKey: entry.PoolKey, PolicyID: &id, Refund: refund, Policy: entry.Policy}, nil
}

func (e *Engine) handleApproveClaim(c *cmdCtx, cmd *event.ApproveClaim) (*Result, error) {
	entry, err := e.loadPolicy(c, cmd.PolicyID)
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(c, entry.PoolKey)
	if err != nil {
		return nil, err
	}

	if err := pool.ApproveClaim(entry.Policy); err != nil {
		return nil, fmt.Errorf("approve claim on %s: %w", cmd.PolicyID, err)
	}

	if err := c.putPolicy(entry); err != nil {
		return nil, err
	}
	if err := c.putPool(entry.PoolKey, pool); err != nil {
		return nil, err
	}

	id := entry.ID
	return &Result{PoolKey: entry.PoolKey, PolicyID: &id, Pool: pool, Policy: entry.Policy}, nil
}

func (e *Engine) handleProcessPolicyExpiration(c *cmdCtx, cmd *event.ProcessPolicyExpiration) (*Result, error) {
	entry, err := e.loadPolicy(c, cmd.PolicyID)
	if err != nil {
		return nil, err
	}

	expired := entry.Policy.ProcessExpiration(c.now)
	if expired {
		if err := c.putPolicy(entry); err != nil {
			return nil, err
		}
	}

	id := entry.ID
	return &Result{PoolKey: entry.PoolKey, PolicyID: &id, Expired: expired, Policy: entry.Policy}, nil
}

func (e *Engine) handleAdjustCoverage(c *cmdCtx, cmd *event.AdjustCoverage) (*Result, error) {
	entry, err := e.loadPolicy(c, cmd.PolicyID)
	if err != nil {
		return nil, err
	}
	if err := entry.Policy.AdjustCoverage(cmd.NewCoverageAmount); err != nil {
		return nil, fmt.Errorf("adjust coverage on %s: %w", cmd.PolicyID, err)
	}
	if err := c.putPolicy(entry); err != nil {
		return nil, err
	}

	id := entry.ID
	return &Result{PoolKey: entry.PoolKey, PolicyID: &id, Policy: entry.Policy}, nil
}

// --- History log ---

func (e *Engine) handleLogPolicyAction(c *cmdCtx, cmd *event.LogPolicyAction) (*Result, error) {
	entry, err := e.loadPolicy(c, cmd.PolicyID)
	if err != nil {
		return nil, err
	}

	hist, err := state.NewHistoryEntry(cmd.User, entry.ID, cmd.Action, c.now)
	if err != nil {
		return nil, err
	}

	rec := &store.HistoryRecord{ID: derivedID(cmd.RequestID, "history"), Entry: hist}
	if err := c.tx.PutHistory(rec); err != nil {
		return nil, err
	}
	c.records.History = append(c.records.History, rec)

	policyID := entry.ID
	historyID := rec.ID
	return &Result{PoolKey: entry.PoolKey, PolicyID: &policyID, HistoryID: &historyID}, nil
}

// --- Funded premium / staking ---

func (e *Engine) handlePayPremiumWithToken(c *cmdCtx, cmd *event.PayPremiumWithToken) (*Result, error) {
	key := e.poolKey(cmd.Pool)
	pool, err := e.loadPool(c, key)
	if err != nil {
		return nil, err
	}
	if pool.TotalPremiumCollected == 0 {
		return nil, fmt.Errorf("pool %s has collected no premium: %w", key, state.ErrInsufficientFunds)
	}
	if err := pool.CollectPremium(cmd.Amount); err != nil {
		return nil, err
	}

	c.batch = e.journalGen.GenerateTokenPremium(c.posting, key, cmd.Payer, cmd.Amount)
	if err := c.putPool(key, pool); err != nil {
		return nil, err
	}
	return &Result{PoolKey: key, Pool: pool}, nil
}

func (e *Engine) handleStakeIntoPool(c *cmdCtx, cmd *event.StakeIntoPool) (*Result, error) {
	key := e.poolKey(cmd.Pool)
	pool, err := e.loadPool(c, key)
	if err != nil {
		return nil, err
	}
	if err := pool.CollectPremium(cmd.Amount); err != nil {
		return nil, err
	}

	c.batch = e.journalGen.GenerateStake(c.posting, key, cmd.Staker, cmd.Amount)
	if err := c.putPool(key, pool); err != nil {
		return nil, err
	}
	return &Result{PoolKey: key, Pool: pool}, nil
}

// handleFundAccount mints into an account from the external mint.
func (e *Engine) handleFundAccount(c *cmdCtx, cmd *event.FundAccount) (*Result, error) {
	account, err := ledger.ParseAccountPath(cmd.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrInvalidArgument, err)
	}
	if account.IsExternal() {
		return nil, fmt.Errorf("%w: cannot fund external account %s", state.ErrInvalidArgument, cmd.Account)
	}

	c.batch = e.journalGen.GenerateFunding(c.posting, account, cmd.Amount)
	return &Result{}, nil
}

// --- Governance ---

func (e *Engine) handleInitializeGovernance(c *cmdCtx, _ *event.InitializeGovernance) (*Result, error) {
	if _, err := c.tx.GetGovernance(e.cfg.GovernanceKey); err == nil {
		return nil, fmt.Errorf("governance %s: %w", e.cfg.GovernanceKey, state.ErrGovernanceExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	gov := &state.Governance{}
	if err := e.putGovernance(c, gov); err != nil {
		return nil, err
	}
	return &Result{Governance: gov}, nil
}

func (e *Engine) handleRegisterProposal(c *cmdCtx, _ *event.RegisterProposal) (*Result, error) {
	gov, err := e.loadGovernance(c)
	if err != nil {
		return nil, err
	}
	proposalID, err := gov.RegisterProposal()
	if err != nil {
		return nil, err
	}
	if err := e.putGovernance(c, gov); err != nil {
		return nil, err
	}
	return &Result{ProposalID: proposalID, Governance: gov}, nil
}

func (e *Engine) handleSubmitGovernanceVote(c *cmdCtx, cmd *event.SubmitGovernanceVote) (*Result, error) {
	gov, err := e.loadGovernance(c)
	if err != nil {
		return nil, err
	}

	vote, err := state.NewVoteRecord(cmd.Voter, cmd.ProposalID, cmd.Vote, c.now)
	if err != nil {
		return nil, err
	}
	if err := gov.RecordVote(cmd.Vote); err != nil {
		return nil, err
	}

	entry := &store.VoteEntry{ID: derivedID(cmd.RequestID, "vote"), Vote: vote}
	if err := c.tx.PutVote(entry); err != nil {
		return nil, err
	}
	c.records.Votes = append(c.records.Votes, entry)
	if err := e.putGovernance(c, gov); err != nil {
		return nil, err
	}

	voteID := entry.ID
	return &Result{VoteID: &voteID, ProposalID: cmd.ProposalID, Governance: gov}, nil
}

func (e *Engine) putGovernance(c *cmdCtx, gov *state.Governance) error {
	if err := c.tx.PutGovernance(e.cfg.GovernanceKey, gov); err != nil {
		return err
	}
	c.records.GovernanceKey = e.cfg.GovernanceKey
	c.records.Governance = gov.Clone()
	return nil
}
