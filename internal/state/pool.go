package state

import (
	fpmath "InsureLedger/internal/math"
	"fmt"
)

// Pool is the shared premium/claims record backing every policy.
// Invariant: TotalClaimsPaid <= TotalPremiumCollected after every successful operation.
// TotalPremiumCollected is also decremented by withdrawals, so it reads as
// "currently held" rather than "ever collected".
type Pool struct {
	TotalPremiumCollected uint64   `json:"total_premium_collected"`
	TotalClaimsPaid       uint64   `json:"total_claims_paid"`
	Authority             Identity `json:"authority"`
}

func NewPool(authority Identity) *Pool {
	return &Pool{Authority: authority}
}

// Surplus returns the uncommitted premium that may be withdrawn.
func (p *Pool) Surplus() uint64 {
	if p.TotalClaimsPaid > p.TotalPremiumCollected {
		return 0
	}
	return p.TotalPremiumCollected - p.TotalClaimsPaid
}

// CollectPremium credits premium (or stake, or token payment) to the pool.
func (p *Pool) CollectPremium(amount uint64) error {
	total, err := fpmath.CheckedAdd(p.TotalPremiumCollected, amount)
	if err != nil {
		return fmt.Errorf("collect premium %d: %w", amount, ErrOverflow)
	}
	p.TotalPremiumCollected = total
	return nil
}

// CanCoverClaim checks claims_paid + coverage <= premium_collected.
func (p *Pool) CanCoverClaim(coverage uint64) error {
	committed, err := fpmath.CheckedAdd(p.TotalClaimsPaid, coverage)
	if err != nil || committed > p.TotalPremiumCollected {
		return fmt.Errorf("claim of %d against surplus %d: %w", coverage, p.Surplus(), ErrInsufficientFunds)
	}
	return nil
}

// ApproveClaim pays out the policy's coverage and terminates the policy.
// On error neither record is modified.
func (p *Pool) ApproveClaim(policy *Policy) error {
	if !policy.IsActive {
		return ErrPolicyNotActive
	}
	if err := p.CanCoverClaim(policy.CoverageAmount); err != nil {
		return err
	}

	p.TotalClaimsPaid += policy.CoverageAmount
	policy.IsActive = false
	return nil
}

// Withdraw removes uncommitted surplus from the pool.
func (p *Pool) Withdraw(amount uint64) error {
	if p.Surplus() < amount {
		return fmt.Errorf("withdraw %d against surplus %d: %w", amount, p.Surplus(), ErrInsufficientFunds)
	}
	p.TotalPremiumCollected -= amount
	return nil
}

// CheckSolvency reports a violated solvency invariant.
func (p *Pool) CheckSolvency() error {
	if p.TotalClaimsPaid > p.TotalPremiumCollected {
		return fmt.Errorf("pool insolvent: claims_paid=%d premium_collected=%d",
			p.TotalClaimsPaid, p.TotalPremiumCollected)
	}
	return nil
}

func (p *Pool) Clone() *Pool {
	c := *p
	return &c
}
