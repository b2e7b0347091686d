package ledger

import (
	fpmath "InsureLedger/internal/math"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInsufficientBalance = errors.New("insufficient account balance")
	ErrBalanceOverflow     = errors.New("account balance overflow")
)

// BalanceTracker maintains in-memory account balances. External accounts
// carry no balance; what leaves them is tracked as issued supply.
type BalanceTracker struct {
	balances map[AccountKey]uint64
	issued   map[AssetID]uint64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]uint64),
		issued:   make(map[AssetID]uint64),
	}
}

// ValidateBatch simulates the batch in journal order and reports the first
// account that would go negative or overflow. Balances are not modified.
func (bt *BalanceTracker) ValidateBatch(batch *Batch) error {
	_, err := bt.Preview(batch)
	return err
}

// Preview returns the post-batch balance of every non-external account the
// batch touches, without applying it.
func (bt *BalanceTracker) Preview(batch *Batch) (map[AccountKey]uint64, error) {
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}

	staged := make(map[AccountKey]uint64)
	issued := make(map[AssetID]uint64)
	get := func(k AccountKey) uint64 {
		if v, ok := staged[k]; ok {
			return v
		}
		return bt.balances[k]
	}
	getIssued := func(a AssetID) uint64 {
		if v, ok := issued[a]; ok {
			return v
		}
		return bt.issued[a]
	}

	for _, j := range batch.Journals {
		if j.CreditAccount.IsExternal() {
			next, err := fpmath.CheckedAdd(getIssued(j.AssetID), j.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: issued supply of asset %d", ErrBalanceOverflow, j.AssetID)
			}
			issued[j.AssetID] = next
		} else {
			next, err := fpmath.CheckedSub(get(j.CreditAccount), j.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: %s has %d, needs %d",
					ErrInsufficientBalance, j.CreditAccount.AccountPath(), get(j.CreditAccount), j.Amount)
			}
			staged[j.CreditAccount] = next
		}

		if j.DebitAccount.IsExternal() {
			next, err := fpmath.CheckedSub(getIssued(j.AssetID), j.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: burn exceeds issued supply of asset %d", ErrInsufficientBalance, j.AssetID)
			}
			issued[j.AssetID] = next
		} else {
			next, err := fpmath.CheckedAdd(get(j.DebitAccount), j.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, j.DebitAccount.AccountPath())
			}
			staged[j.DebitAccount] = next
		}
	}

	return staged, nil
}

// ApplyJournal applies a single journal entry. Callers must have validated
// the owning batch.
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	if j.CreditAccount.IsExternal() {
		bt.issued[j.AssetID] += j.Amount
	} else {
		bt.balances[j.CreditAccount] -= j.Amount
	}
	if j.DebitAccount.IsExternal() {
		bt.issued[j.AssetID] -= j.Amount
	} else {
		bt.balances[j.DebitAccount] += j.Amount
	}
}

// ApplyBatch validates and then applies all journals in a batch. Either all
// journals land or none do.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := bt.ValidateBatch(batch); err != nil {
		return err
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) uint64 {
	return bt.balances[key]
}

// Issued returns the amount of an asset minted from external accounts.
func (bt *BalanceTracker) Issued(assetID AssetID) uint64 {
	return bt.issued[assetID]
}

// ComputeSupply sums all non-external balances per asset.
func (bt *BalanceTracker) ComputeSupply() (map[AssetID]uint64, error) {
	totals := make(map[AssetID]uint64)

	for key, balance := range bt.balances {
		next, err := fpmath.CheckedAdd(totals[key.AssetID], balance)
		if err != nil {
			return nil, fmt.Errorf("%w: supply of asset %d", ErrBalanceOverflow, key.AssetID)
		}
		totals[key.AssetID] = next
	}

	return totals, nil
}

// Snapshot returns a copy of all balances (for state hashing and persistence)
func (bt *BalanceTracker) Snapshot() map[AccountKey]uint64 {
	snapshot := make(map[AccountKey]uint64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SortedKeys returns the tracked accounts ordered by path.
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}

// Restore replaces the tracker contents with persisted balances. Issued
// supply is rebuilt as the sum of balances, which holds for a conserving ledger.
func (bt *BalanceTracker) Restore(balances map[AccountKey]uint64) error {
	bt.balances = make(map[AccountKey]uint64, len(balances))
	bt.issued = make(map[AssetID]uint64)

	for k, v := range balances {
		if k.IsExternal() {
			return fmt.Errorf("restore: external account %s carries no balance", k.AccountPath())
		}
		issued, err := fpmath.CheckedAdd(bt.issued[k.AssetID], v)
		if err != nil {
			return fmt.Errorf("restore: %w", ErrBalanceOverflow)
		}
		bt.balances[k] = v
		bt.issued[k.AssetID] = issued
	}
	return nil
}
