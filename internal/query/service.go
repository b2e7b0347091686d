package query

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/observability"
	"InsureLedger/internal/projection"
	"InsureLedger/internal/state"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ratioPlaces     = 4
	defaultPageSize = 100
	maxPageSize     = 1000
)

// QueryService provides read-only access to the projection views.
// Responses carry as_of_sequence, the projection watermark at read time.
// Journal history and integrity checks read the Postgres event log and
// are unavailable when eventLog is nil.
type QueryService struct {
	views    *projection.Store
	eventLog *sql.DB
	clock    core.Clock
	metrics  *observability.Metrics
}

// ErrEventLogDisabled is returned by event-log queries when Postgres is off.
var ErrEventLogDisabled = errors.New("event log not configured")

func NewQueryService(views *projection.Store, eventLog *sql.DB, clock core.Clock, metrics *observability.Metrics) *QueryService {
	return &QueryService{views: views, eventLog: eventLog, clock: clock, metrics: metrics}
}

func (qs *QueryService) GetPool(ctx context.Context, poolKey string) (resp *PoolResponse, err error) {
	defer qs.observe("get_pool", time.Now(), &err)

	if poolKey == "" {
		poolKey = core.DefaultPoolKey
	}
	asOf, err := qs.views.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	v, err := qs.views.GetPool(ctx, poolKey)
	if err != nil {
		return nil, err
	}

	return &PoolResponse{
		PoolKey:               v.PoolKey,
		Authority:             v.Authority,
		TotalPremiumCollected: v.PremiumCollected,
		TotalClaimsPaid:       v.ClaimsPaid,
		Surplus:               v.Surplus,
		Utilization:           ratio(v.ClaimsPaid, v.PremiumCollected),
		LastSequence:          v.LastSequence,
		AsOfSequence:          asOf,
	}, nil
}

func (qs *QueryService) GetPolicy(ctx context.Context, policyID string) (resp *PolicyResponse, err error) {
	defer qs.observe("get_policy", time.Now(), &err)

	id, err := parsePolicyID(policyID)
	if err != nil {
		return nil, err
	}
	asOf, err := qs.views.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	v, err := qs.views.GetPolicy(ctx, id.String())
	if err != nil {
		return nil, err
	}

	p := qs.policyResponse(v)
	p.AsOfSequence = asOf
	return &p, nil
}

// ListPolicies pages through policies ordered by start time. An empty
// poolKey or owner matches every policy.
func (qs *QueryService) ListPolicies(
	ctx context.Context,
	poolKey string,
	owner string,
	activeOnly bool,
	limit int,
	offset int,
) (resp *PolicyListResponse, err error) {
	defer qs.observe("list_policies", time.Now(), &err)

	if owner != "" {
		if _, err := state.ParseIdentity(owner); err != nil {
			return nil, err
		}
	}
	asOf, err := qs.views.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	rows, err := qs.views.ListPolicies(ctx, projection.PolicyFilter{
		PoolKey:    poolKey,
		Owner:      owner,
		ActiveOnly: activeOnly,
		Limit:      pageSize(limit),
		Offset:     max(offset, 0),
	})
	if err != nil {
		return nil, err
	}

	resp = &PolicyListResponse{Policies: make([]PolicyResponse, 0, len(rows)), AsOfSequence: asOf}
	for i := range rows {
		p := qs.policyResponse(&rows[i])
		p.AsOfSequence = asOf
		resp.Policies = append(resp.Policies, p)
	}
	return resp, nil
}

func (qs *QueryService) GetPolicyHistory(ctx context.Context, policyID string) (resp *HistoryResponse, err error) {
	defer qs.observe("get_policy_history", time.Now(), &err)

	id, err := parsePolicyID(policyID)
	if err != nil {
		return nil, err
	}
	asOf, err := qs.views.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	rows, err := qs.views.ListHistory(ctx, id.String())
	if err != nil {
		return nil, err
	}

	resp = &HistoryResponse{PolicyID: id.String(), Entries: make([]HistoryEntryResponse, 0, len(rows)), AsOfSequence: asOf}
	for _, h := range rows {
		resp.Entries = append(resp.Entries, HistoryEntryResponse{
			ID:        h.ID,
			User:      h.User,
			Action:    h.Action,
			Timestamp: h.Timestamp,
			Sequence:  h.Sequence,
		})
	}
	return resp, nil
}

func (qs *QueryService) GetGovernance(ctx context.Context, key string) (resp *GovernanceResponse, err error) {
	defer qs.observe("get_governance", time.Now(), &err)

	if key == "" {
		key = core.DefaultGovernanceKey
	}
	asOf, err := qs.views.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	g, err := qs.views.GetGovernance(ctx, key)
	if err != nil {
		return nil, err
	}

	return &GovernanceResponse{
		GovernanceKey:  g.GovernanceKey,
		YesVotes:       g.YesVotes,
		NoVotes:        g.NoVotes,
		TotalProposals: g.TotalProposals,
		YesShare:       ratio(g.YesVotes, g.YesVotes.Add(g.NoVotes)),
		AsOfSequence:   asOf,
	}, nil
}

func (qs *QueryService) ListVotes(ctx context.Context, proposalID uint64) (resp *VotesResponse, err error) {
	defer qs.observe("list_votes", time.Now(), &err)

	asOf, err := qs.views.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	rows, err := qs.views.ListVotes(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	resp = &VotesResponse{ProposalID: proposalID, Votes: make([]VoteResponse, 0, len(rows)), AsOfSequence: asOf}
	for _, v := range rows {
		if v.Vote {
			resp.Yes++
		} else {
			resp.No++
		}
		resp.Votes = append(resp.Votes, VoteResponse{ID: v.ID, Voter: v.Voter, Vote: v.Vote, Timestamp: v.Timestamp})
	}
	return resp, nil
}

// GetBalance returns a ledger account's projected balance; accounts never
// posted to read as zero.
func (qs *QueryService) GetBalance(ctx context.Context, accountPath string) (resp *BalanceResponse, err error) {
	defer qs.observe("get_balance", time.Now(), &err)

	asOf, err := qs.views.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	resp = &BalanceResponse{AccountPath: accountPath, Balance: decimal.Zero, AsOfSequence: asOf}
	v, err := qs.views.GetBalance(ctx, accountPath)
	switch {
	case err == nil:
		resp.Balance = v.Amount
	case !errors.Is(err, projection.ErrNotFound):
		return nil, err
	}
	return resp, nil
}

// GetJournalHistory returns journal entries touching accountPath, newest
// first. afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	afterSequence *int64,
) (entries []JournalHistoryEntry, err error) {
	defer qs.observe("get_journal_history", time.Now(), &err)

	if qs.eventLog == nil {
		return nil, ErrEventLogDisabled
	}

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{accountPath}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize(limit))

	rows, err := qs.eventLog.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the event log hash chain (when Postgres is
// configured) and pool solvency in the views.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)

	report = &IntegrityReport{}
	if report.AsOfSequence, err = qs.views.Watermark(ctx); err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	if qs.eventLog != nil {
		rows, err := qs.eventLog.QueryContext(ctx, `
			SELECT e1.sequence
			FROM event_log.events e1
			JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
			WHERE e1.prev_hash != e2.state_hash
			ORDER BY e1.sequence
			LIMIT 10
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				return nil, err
			}
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	pools, err := qs.views.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pools {
		if p.ClaimsPaid.GreaterThan(p.PremiumCollected) {
			report.InsolventPools = append(report.InsolventPools, p.PoolKey)
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.InsolventPools) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) policyResponse(v *projection.PolicyView) PolicyResponse {
	p := PolicyResponse{
		ID:              v.ID,
		PoolKey:         v.PoolKey,
		Owner:           v.Owner,
		DepositAmount:   v.Deposit,
		PremiumAmount:   v.Premium,
		CoverageAmount:  v.Coverage,
		StartTime:       v.StartTime,
		EndTime:         v.EndTime,
		IsActive:        v.IsActive,
		Status:          v.Status,
		RemainingRatio:  decimal.Zero,
		EstimatedRefund: decimal.Zero,
		LastSequence:    v.LastSequence,
	}

	now := qs.clock.Now()
	if !v.IsActive || now >= v.EndTime || v.EndTime <= v.StartTime {
		return p
	}
	remaining := decimal.NewFromInt(v.EndTime - max(now, v.StartTime))
	duration := decimal.NewFromInt(v.EndTime - v.StartTime)
	p.RemainingRatio = remaining.DivRound(duration, ratioPlaces)
	// Same floor(premium * remaining / duration) the engine pays on cancel.
	p.EstimatedRefund = v.Premium.Mul(remaining).Div(duration).Floor()
	return p
}

// ratio returns num/den rounded, zero when den is zero.
func ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.DivRound(den, ratioPlaces)
}

func parsePolicyID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: policy id %q", state.ErrInvalidArgument, s)
	}
	return id, nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, state.ErrNotFound):
		status = "not_found"
	case errors.Is(*err, state.ErrInvalidArgument):
		status = "invalid_argument"
	default:
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
