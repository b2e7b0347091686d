package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch can be applied to current balances
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return v.tracker.ValidateBatch(batch)
}

// ValidatePoolSolvency verifies claims paid never exceed premium collected.
func (v *InvariantValidator) ValidatePoolSolvency(poolKey string, premiumCollected, claimsPaid uint64) error {
	if claimsPaid > premiumCollected {
		return fmt.Errorf("pool %s insolvent: claims_paid=%d premium_collected=%d",
			poolKey, claimsPaid, premiumCollected)
	}
	return nil
}

// ValidateSupplyConservation verifies that, per asset, the sum of all
// non-external balances equals what was minted from external accounts.
func (v *InvariantValidator) ValidateSupplyConservation() error {
	supply, err := v.tracker.ComputeSupply()
	if err != nil {
		return err
	}

	assets := make(map[AssetID]struct{})
	for a := range supply {
		assets[a] = struct{}{}
	}
	for a := range v.tracker.issued {
		assets[a] = struct{}{}
	}

	for assetID := range assets {
		if supply[assetID] != v.tracker.Issued(assetID) {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("supply of %s not conserved: balances=%d issued=%d",
				assetName, supply[assetID], v.tracker.Issued(assetID))
		}
	}

	return nil
}
