package core

import (
	"InsureLedger/internal/event"
	"InsureLedger/internal/ledger"
	"InsureLedger/internal/observability"
	"InsureLedger/internal/state"
	"InsureLedger/internal/store"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultPoolKey       = "main"
	DefaultGovernanceKey = "main"
)

// ErrEngineStopped is returned by Submit once Run has exited.
var ErrEngineStopped = errors.New("engine stopped")

// errReplayed aborts a transaction whose command already committed.
var errReplayed = errors.New("command already applied")

// Config tunes an Engine. Zero values fall back to defaults.
type Config struct {
	DefaultPoolKey  string
	GovernanceKey   string
	LRUCapacity     int
	ConflictRetries int
	QueueSize       int
}

func (c Config) withDefaults() Config {
	if c.DefaultPoolKey == "" {
		c.DefaultPoolKey = DefaultPoolKey
	}
	if c.GovernanceKey == "" {
		c.GovernanceKey = DefaultGovernanceKey
	}
	if c.LRUCapacity <= 0 {
		c.LRUCapacity = 100_000
	}
	if c.ConflictRetries <= 0 {
		c.ConflictRetries = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Engine is the single-writer command processor. Every command runs under
// one lock: records are staged in a store transaction, transfers are
// validated before commit and applied after it.
type Engine struct {
	mu sync.Mutex

	cfg            Config
	store          store.Store
	clock          Clock
	clockGuard     clockGuard
	sequence       int64 // Next sequence to assign
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	idempotency    *IdempotencyChecker
	metrics        *observability.Metrics
	logger         zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	queue          chan submission
	stopped        chan struct{}
}

// CoreOutput is emitted once per applied command.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch // nil when no funds moved
	Records  *RecordSet
}

// RecordSet holds the post-command value of every record a command wrote.
type RecordSet struct {
	Pools         map[string]*state.Pool
	Policies      []*store.PolicyEntry
	History       []*store.HistoryRecord
	GovernanceKey string
	Governance    *state.Governance
	Votes         []*store.VoteEntry
	Balances      map[ledger.AccountKey]uint64
}

// Result describes the outcome of an applied command.
type Result struct {
	Sequence   int64             `json:"sequence"`
	EventType  string            `json:"event_type"`
	Duplicate  bool              `json:"duplicate,omitempty"`
	PoolKey    string            `json:"pool_key,omitempty"`
	PolicyID   *uuid.UUID        `json:"policy_id,omitempty"`
	HistoryID  *uuid.UUID        `json:"history_id,omitempty"`
	VoteID     *uuid.UUID        `json:"vote_id,omitempty"`
	ProposalID uint64            `json:"proposal_id,omitempty"`
	Refund     uint64            `json:"refund,omitempty"`
	Expired    bool              `json:"expired,omitempty"`
	Pool       *state.Pool       `json:"pool,omitempty"`
	Policy     *state.Policy     `json:"policy,omitempty"`
	Governance *state.Governance `json:"governance,omitempty"`
	StateHash  string            `json:"state_hash,omitempty"`
}

// Checkpoint is the chain position an engine resumes from.
type Checkpoint struct {
	Sequence  int64 // Last applied sequence
	StateHash [32]byte
}

func NewEngine(
	cfg Config,
	st store.Store,
	clock Clock,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Engine, error) {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = SystemClock{}
	}

	balanceTracker := ledger.NewBalanceTracker()
	e := &Engine{
		cfg:            cfg,
		store:          st,
		clock:          clock,
		sequence:       1,
		hasher:         NewStateHasher(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(balanceTracker),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		idempotency:    NewIdempotencyChecker(cfg.LRUCapacity, dbChecker, metrics),
		metrics:        metrics,
		logger:         logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		queue:          make(chan submission, cfg.QueueSize),
		stopped:        make(chan struct{}),
	}

	if err := e.loadBalances(); err != nil {
		return nil, err
	}
	return e, nil
}

// loadBalances restores the transfer ledger from the record store.
func (e *Engine) loadBalances() error {
	var persisted map[string]uint64
	err := e.store.View(func(tx store.Txn) error {
		var err error
		persisted, err = tx.ListBalances()
		return err
	})
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}

	balances := make(map[ledger.AccountKey]uint64, len(persisted))
	for path, amount := range persisted {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return fmt.Errorf("load balances: %w", err)
		}
		balances[key] = amount
	}
	return e.balanceTracker.Restore(balances)
}

// Restore resumes sequence numbering and the hash chain from a checkpoint.
func (e *Engine) Restore(cp Checkpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = cp.Sequence + 1
	e.hasher.Resume(cp.StateHash)
}

// WarmIdempotency preloads recently applied (event_type, key) pairs.
func (e *Engine) WarmIdempotency(keys [][2]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.Warm(keys)
}

// Checkpoint returns the current chain position.
func (e *Engine) Checkpoint() Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Checkpoint{Sequence: e.sequence - 1, StateHash: e.hasher.GetPrevHash()}
}

// Balance returns the current balance of an account.
func (e *Engine) Balance(key ledger.AccountKey) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balanceTracker.GetBalance(key)
}

// ProcessEvent is the main processing pipeline
func (e *Engine) ProcessEvent(evt event.Event) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (LRU, then Postgres). The record store
	// check runs inside the transaction below.
	if cached, tier, dup := e.idempotency.Lookup(eventType, idempotencyKey); dup {
		return e.duplicate(eventType, tier, cached), nil
	}

	// Step 2: Stage the command in a store transaction
	now := e.clockGuard.observe(e.clock.Now())
	posting := ledger.Posting{EventRef: idempotencyKey, Sequence: e.sequence, Timestamp: now}

	var (
		res      *Result
		records  *RecordSet
		batch    *ledger.Batch
		replayed *Result
		err      error
	)
	for attempt := 0; ; attempt++ {
		err = e.store.Update(func(tx store.Txn) error {
			// The applied marker commits with the command's records, so a
			// replay is caught after a restart or an LRU eviction.
			prior, lookupErr := tx.GetApplied(eventType, idempotencyKey)
			switch {
			case lookupErr == nil:
				replayed = &Result{}
				if err := json.Unmarshal(prior, replayed); err != nil {
					return fmt.Errorf("%w: applied result for %s: %v", state.ErrCorruptRecord, idempotencyKey, err)
				}
				return errReplayed
			case !errors.Is(lookupErr, store.ErrNotFound):
				return lookupErr
			}

			c := &cmdCtx{tx: tx, now: now, posting: posting, records: newRecordSet()}
			var stageErr error
			res, stageErr = e.dispatch(c, evt)
			if stageErr != nil {
				return stageErr
			}

			// Step 3: Validate transfers against balances before commit
			if c.batch != nil {
				post, err := e.balanceTracker.Preview(c.batch)
				if err != nil {
					return transferError(err)
				}
				for key, amount := range post {
					if err := tx.PutBalance(key.AccountPath(), amount); err != nil {
						return err
					}
					c.records.Balances[key] = amount
				}
			}

			res.Sequence = e.sequence
			res.EventType = eventType
			applied, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			if err := tx.PutApplied(eventType, idempotencyKey, applied); err != nil {
				return err
			}
			records, batch = c.records, c.batch
			return nil
		})
		if errors.Is(err, store.ErrConflict) && attempt < e.cfg.ConflictRetries {
			if e.metrics != nil {
				e.metrics.CoreConflictRetry.Inc()
			}
			continue
		}
		break
	}
	if errors.Is(err, errReplayed) {
		e.idempotency.MarkProcessed(eventType, idempotencyKey, replayed)
		return e.duplicate(eventType, "store", replayed), nil
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.CoreEventsRejected.WithLabelValues(eventType, RejectReason(err)).Inc()
		}
		e.logger.Debug().
			Str("event_type", eventType).
			Str("idempotency_key", idempotencyKey).
			Err(err).
			Msg("command rejected")
		return nil, err
	}

	// Step 4: Apply transfers (already validated under the same lock)
	if batch != nil {
		if err := e.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: validated batch failed to apply: %v", err))
		}
	}

	// Step 5: Post-checks
	if err := e.postCheckInvariants(records); err != nil {
		e.logger.Error().Err(err).Int64("sequence", e.sequence).Msg("invariant violated")
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: Advance the hash chain
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, e.computeStateDigest(records))

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: command %s not serializable: %v", eventType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		PoolKey:        res.PoolKey,
		Timestamp:      now,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	res.Sequence = e.sequence
	res.EventType = eventType
	res.StateHash = fmt.Sprintf("%x", stateHash)
	e.sequence++

	// Step 7: Emit outputs. Persistence blocks (backpressure); projections
	// drop on full and are rebuilt from the record store.
	output := CoreOutput{Envelope: envelope, Batch: batch, Records: records}
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("records").Inc()
			}
		}
	}

	// Step 8: Mark as processed
	e.idempotency.MarkProcessed(eventType, idempotencyKey, res)

	e.recordMetrics(evt, res, batch, records, start)
	return res, nil
}

// duplicate reports an already-applied command. A nil cached result (a
// Postgres hit) yields a bare duplicate marker.
func (e *Engine) duplicate(eventType, tier string, cached *Result) *Result {
	if e.metrics != nil {
		e.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		e.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
	if cached == nil {
		return &Result{EventType: eventType, Duplicate: true}
	}
	dup := *cached
	dup.Duplicate = true
	return &dup
}

// transferError maps a ledger failure onto the domain taxonomy.
func transferError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fmt.Errorf("%w: %w", state.ErrInsufficientFunds, err)
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return fmt.Errorf("%w: %w", state.ErrOverflow, err)
	default:
		return err
	}
}

// RejectReason labels a command failure; "internal" and "conflict" are
// the only reasons a retry can change.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return "not_found"
	case errors.Is(err, state.ErrPolicyNotActive):
		return "policy_not_active"
	case errors.Is(err, state.ErrPolicyExpired):
		return "policy_expired"
	case errors.Is(err, state.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, state.ErrOverflow):
		return "overflow"
	case errors.Is(err, state.ErrPoolExists), errors.Is(err, state.ErrGovernanceExists):
		return "exists"
	case errors.Is(err, state.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

// postCheckInvariants validates invariants after the command landed
func (e *Engine) postCheckInvariants(records *RecordSet) error {
	for key, pool := range records.Pools {
		if err := e.validator.ValidatePoolSolvency(key, pool.TotalPremiumCollected, pool.TotalClaimsPaid); err != nil {
			return err
		}
	}

	// Periodic conservation check across all balances
	if len(records.Balances) > 0 && e.sequence%1000 == 0 {
		if err := e.validator.ValidateSupplyConservation(); err != nil {
			return err
		}
	}
	return nil
}

// computeStateDigest creates canonical bytes for the state hash: every
// written record in key order followed by every touched balance.
func (e *Engine) computeStateDigest(records *RecordSet) []byte {
	digest := make([]byte, 0, 256)
	appendRecord := func(key string, rec interface{ MarshalBinary() ([]byte, error) }) {
		raw, err := rec.MarshalBinary()
		if err != nil {
			panic(fmt.Sprintf("FATAL: record %s not encodable: %v", key, err))
		}
		digest = append(digest, byte(len(key)))
		digest = append(digest, key...)
		digest = append(digest, raw...)
	}

	poolKeys := make([]string, 0, len(records.Pools))
	for k := range records.Pools {
		poolKeys = append(poolKeys, k)
	}
	sort.Strings(poolKeys)
	for _, k := range poolKeys {
		appendRecord("pool/"+k, records.Pools[k])
	}
	for _, p := range records.Policies {
		appendRecord("policy/"+p.ID.String(), p.Policy)
	}
	for _, h := range records.History {
		appendRecord("history/"+h.ID.String(), h.Entry)
	}
	if records.Governance != nil {
		appendRecord("governance/"+records.GovernanceKey, records.Governance)
	}
	for _, v := range records.Votes {
		appendRecord("vote/"+v.ID.String(), v.Vote)
	}

	accounts := make([]ledger.AccountKey, 0, len(records.Balances))
	for key := range records.Balances {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendUint64LE(digest, records.Balances[key])
	}

	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (e *Engine) recordMetrics(evt event.Event, res *Result, batch *ledger.Batch, records *RecordSet, start time.Time) {
	if e.metrics == nil {
		return
	}
	eventType := evt.EventType().String()
	e.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	e.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	e.metrics.CoreSequence.Set(float64(e.sequence - 1))
	e.metrics.DedupLRUSize.Set(float64(e.idempotency.Size()))

	if batch != nil {
		for _, j := range batch.Journals {
			e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	for key, pool := range records.Pools {
		e.metrics.PoolPremiumCollected.WithLabelValues(key).Set(float64(pool.TotalPremiumCollected))
		e.metrics.PoolClaimsPaid.WithLabelValues(key).Set(float64(pool.TotalClaimsPaid))
	}

	switch v := evt.(type) {
	case *event.PurchaseInsurance:
		e.metrics.PoliciesPurchased.WithLabelValues(res.PoolKey).Inc()
	case *event.CancelPolicy:
		e.metrics.PoliciesTerminated.WithLabelValues("canceled").Inc()
		e.metrics.RefundsPaid.WithLabelValues(res.PoolKey).Add(float64(res.Refund))
	case *event.ApproveClaim:
		e.metrics.PoliciesTerminated.WithLabelValues("claimed").Inc()
	case *event.ProcessPolicyExpiration:
		if res.Expired {
			e.metrics.PoliciesTerminated.WithLabelValues("expired").Inc()
		}
	case *event.SubmitGovernanceVote:
		side := "no"
		if v.Vote {
			side = "yes"
		}
		e.metrics.GovernanceVotes.WithLabelValues(side).Inc()
	}
}

// GetSequence returns the next sequence to assign.
func (e *Engine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// --- Single-writer queue ---

type submission struct {
	ctx  context.Context
	evt  event.Event
	resp chan submitResult
}

type submitResult struct {
	res *Result
	err error
}

// Run drains the submission queue until ctx is done. It must be called
// at most once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-e.queue:
			res, err := e.ProcessEvent(s.evt)
			s.resp <- submitResult{res: res, err: err}
		}
	}
}

// Submit enqueues a command for Run and waits for its result. ctx bounds
// only the wait for a queue slot; once accepted, the command is applied
// and its result returned.
func (e *Engine) Submit(ctx context.Context, evt event.Event) (*Result, error) {
	s := submission{ctx: ctx, evt: evt, resp: make(chan submitResult, 1)}
	select {
	case e.queue <- s:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopped:
		return nil, ErrEngineStopped
	}

	select {
	case r := <-s.resp:
		return r.res, r.err
	case <-e.stopped:
		// Run answers before it exits, so a result may already be waiting.
		select {
		case r := <-s.resp:
			return r.res, r.err
		default:
			return nil, ErrEngineStopped
		}
	}
}
