package store

import (
	"InsureLedger/internal/state"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for a missing record; it matches state.ErrNotFound.
	ErrNotFound = state.ErrNotFound

	// ErrConflict is returned by Update when a concurrent transaction
	// touched the same keys. The caller may retry.
	ErrConflict = errors.New("store transaction conflict")
)

// PolicyEntry is a policy together with its address and pool binding.
type PolicyEntry struct {
	ID      uuid.UUID
	PoolKey string
	Policy  *state.Policy
}

type HistoryRecord struct {
	ID    uuid.UUID
	Entry *state.PolicyHistoryEntry
}

type VoteEntry struct {
	ID   uuid.UUID
	Vote *state.VoteRecord
}

// Txn is a consistent view of the record substrate. Writes made through an
// Update transaction become visible only when the transaction commits.
type Txn interface {
	GetPool(key string) (*state.Pool, error)
	PutPool(key string, pool *state.Pool) error
	ListPools() (map[string]*state.Pool, error)

	GetPolicy(id uuid.UUID) (*PolicyEntry, error)
	PutPolicy(entry *PolicyEntry) error
	ListPolicies(poolKey string) ([]*PolicyEntry, error)

	PutHistory(rec *HistoryRecord) error
	ListHistory(policyID uuid.UUID) ([]*HistoryRecord, error)

	GetGovernance(key string) (*state.Governance, error)
	PutGovernance(key string, gov *state.Governance) error

	PutVote(v *VoteEntry) error
	ListVotes(proposalID uint64) ([]*VoteEntry, error)
	ListAllVotes() ([]*VoteEntry, error)

	PutBalance(account string, amount uint64) error
	ListBalances() (map[string]uint64, error)

	// GetApplied returns the result stored for an applied command, or
	// ErrNotFound when the command has never committed.
	GetApplied(eventType, requestID string) ([]byte, error)
	PutApplied(eventType, requestID string, result []byte) error
}

// Store runs closures inside transactions. Update commits only when fn
// returns nil.
type Store interface {
	Update(fn func(Txn) error) error
	View(fn func(Txn) error) error
	Close() error
}

// kv is the byte-level surface both backends provide.
type kv interface {
	get(key string) ([]byte, error)
	set(key string, val []byte) error
	// iterate visits keys with prefix in ascending key order.
	iterate(prefix string, fn func(key string, val []byte) error) error
}

const (
	prefixPool       = "pool/"
	prefixPolicy     = "policy/"
	prefixPolicyPool = "policy_pool/"
	prefixHistory    = "history/"
	prefixGovernance = "governance/"
	prefixVote       = "vote/"
	prefixBalance    = "balance/"
	prefixApplied    = "applied/"
)

func voteProposalPrefix(proposalID uint64) string {
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], proposalID)
	return prefixVote + string(be[:]) + "/"
}

// recordTxn implements Txn over any kv.
type recordTxn struct {
	kv kv
}

func (t *recordTxn) GetPool(key string) (*state.Pool, error) {
	raw, err := t.kv.get(prefixPool + key)
	if err != nil {
		return nil, fmt.Errorf("pool %q: %w", key, err)
	}
	var p state.Pool
	if err := p.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("pool %q: %w", key, err)
	}
	return &p, nil
}

func (t *recordTxn) PutPool(key string, pool *state.Pool) error {
	raw, err := pool.MarshalBinary()
	if err != nil {
		return err
	}
	return t.kv.set(prefixPool+key, raw)
}

func (t *recordTxn) ListPools() (map[string]*state.Pool, error) {
	pools := make(map[string]*state.Pool)
	err := t.kv.iterate(prefixPool, func(key string, val []byte) error {
		var p state.Pool
		if err := p.UnmarshalBinary(val); err != nil {
			return fmt.Errorf("pool %q: %w", key, err)
		}
		pools[strings.TrimPrefix(key, prefixPool)] = &p
		return nil
	})
	return pools, err
}

func (t *recordTxn) GetPolicy(id uuid.UUID) (*PolicyEntry, error) {
	raw, err := t.kv.get(prefixPolicy + id.String())
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", id, err)
	}
	poolKey, err := t.kv.get(prefixPolicyPool + id.String())
	if err != nil {
		return nil, fmt.Errorf("policy %s pool binding: %w", id, err)
	}
	var p state.Policy
	if err := p.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("policy %s: %w", id, err)
	}
	return &PolicyEntry{ID: id, PoolKey: string(poolKey), Policy: &p}, nil
}

func (t *recordTxn) PutPolicy(entry *PolicyEntry) error {
	raw, err := entry.Policy.MarshalBinary()
	if err != nil {
		return err
	}
	if err := t.kv.set(prefixPolicy+entry.ID.String(), raw); err != nil {
		return err
	}
	return t.kv.set(prefixPolicyPool+entry.ID.String(), []byte(entry.PoolKey))
}

// ListPolicies returns policies bound to poolKey ordered by ID; an empty
// poolKey lists every policy.
func (t *recordTxn) ListPolicies(poolKey string) ([]*PolicyEntry, error) {
	var ids []uuid.UUID
	err := t.kv.iterate(prefixPolicy, func(key string, _ []byte) error {
		id, err := uuid.Parse(strings.TrimPrefix(key, prefixPolicy))
		if err != nil {
			return fmt.Errorf("%w: policy key %q", state.ErrCorruptRecord, key)
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*PolicyEntry, 0, len(ids))
	for _, id := range ids {
		e, err := t.GetPolicy(id)
		if err != nil {
			return nil, err
		}
		if poolKey == "" || e.PoolKey == poolKey {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (t *recordTxn) PutHistory(rec *HistoryRecord) error {
	raw, err := rec.Entry.MarshalBinary()
	if err != nil {
		return err
	}
	return t.kv.set(prefixHistory+rec.Entry.Policy.String()+"/"+rec.ID.String(), raw)
}

// ListHistory returns a policy's entries ordered by timestamp, then ID.
func (t *recordTxn) ListHistory(policyID uuid.UUID) ([]*HistoryRecord, error) {
	prefix := prefixHistory + policyID.String() + "/"
	var recs []*HistoryRecord
	err := t.kv.iterate(prefix, func(key string, val []byte) error {
		id, err := uuid.Parse(strings.TrimPrefix(key, prefix))
		if err != nil {
			return fmt.Errorf("%w: history key %q", state.ErrCorruptRecord, key)
		}
		var h state.PolicyHistoryEntry
		if err := h.UnmarshalBinary(val); err != nil {
			return fmt.Errorf("history %s: %w", id, err)
		}
		recs = append(recs, &HistoryRecord{ID: id, Entry: &h})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Entry.Timestamp < recs[j].Entry.Timestamp
	})
	return recs, nil
}

func (t *recordTxn) GetGovernance(key string) (*state.Governance, error) {
	raw, err := t.kv.get(prefixGovernance + key)
	if err != nil {
		return nil, fmt.Errorf("governance %q: %w", key, err)
	}
	var g state.Governance
	if err := g.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("governance %q: %w", key, err)
	}
	return &g, nil
}

func (t *recordTxn) PutGovernance(key string, gov *state.Governance) error {
	raw, err := gov.MarshalBinary()
	if err != nil {
		return err
	}
	return t.kv.set(prefixGovernance+key, raw)
}

func (t *recordTxn) PutVote(v *VoteEntry) error {
	raw, err := v.Vote.MarshalBinary()
	if err != nil {
		return err
	}
	return t.kv.set(voteProposalPrefix(v.Vote.ProposalID)+v.ID.String(), raw)
}

// ListVotes returns a proposal's votes ordered by timestamp, then ID.
func (t *recordTxn) ListVotes(proposalID uint64) ([]*VoteEntry, error) {
	return t.listVotes(voteProposalPrefix(proposalID))
}

// ListAllVotes returns every vote grouped by proposal, each group ordered
// by timestamp.
func (t *recordTxn) ListAllVotes() ([]*VoteEntry, error) {
	votes, err := t.listVotes(prefixVote)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(votes, func(i, j int) bool {
		return votes[i].Vote.ProposalID < votes[j].Vote.ProposalID
	})
	return votes, nil
}

func (t *recordTxn) listVotes(prefix string) ([]*VoteEntry, error) {
	var votes []*VoteEntry
	err := t.kv.iterate(prefix, func(key string, val []byte) error {
		rest := strings.TrimPrefix(key, prefix)
		if i := strings.LastIndexByte(rest, '/'); i >= 0 {
			rest = rest[i+1:]
		}
		id, err := uuid.Parse(rest)
		if err != nil {
			return fmt.Errorf("%w: vote key", state.ErrCorruptRecord)
		}
		var v state.VoteRecord
		if err := v.UnmarshalBinary(val); err != nil {
			return fmt.Errorf("vote %s: %w", id, err)
		}
		votes = append(votes, &VoteEntry{ID: id, Vote: &v})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(votes, func(i, j int) bool {
		return votes[i].Vote.Timestamp < votes[j].Vote.Timestamp
	})
	return votes, nil
}

func (t *recordTxn) PutBalance(account string, amount uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], amount)
	return t.kv.set(prefixBalance+account, buf[:])
}

func (t *recordTxn) ListBalances() (map[string]uint64, error) {
	balances := make(map[string]uint64)
	err := t.kv.iterate(prefixBalance, func(key string, val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: balance %q has %d bytes", state.ErrCorruptRecord, key, len(val))
		}
		balances[strings.TrimPrefix(key, prefixBalance)] = binary.LittleEndian.Uint64(val)
		return nil
	})
	return balances, err
}

func appliedKey(eventType, requestID string) string {
	return prefixApplied + eventType + "/" + requestID
}

func (t *recordTxn) GetApplied(eventType, requestID string) ([]byte, error) {
	raw, err := t.kv.get(appliedKey(eventType, requestID))
	if err != nil {
		return nil, fmt.Errorf("applied %s %s: %w", eventType, requestID, err)
	}
	return raw, nil
}

func (t *recordTxn) PutApplied(eventType, requestID string, result []byte) error {
	return t.kv.set(appliedKey(eventType, requestID), result)
}
