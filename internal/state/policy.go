package state

import (
	fpmath "InsureLedger/internal/math"
	"fmt"
	"math"
)

// CoverageDuration is the fixed validity window of every policy (30 days, seconds).
const CoverageDuration int64 = 30 * 24 * 60 * 60

// PolicyStatus is the ledger-level state. The reason for termination
// (canceled, claimed, expired) lives only in the history log.
type PolicyStatus int32

const (
	PolicyStatusActive PolicyStatus = iota
	PolicyStatusTerminated
)

func (s PolicyStatus) String() string {
	switch s {
	case PolicyStatusActive:
		return "Active"
	case PolicyStatusTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Policy is a single coverage agreement.
type Policy struct {
	Owner          Identity `json:"owner"`
	DepositAmount  uint64   `json:"deposit_amount"` // Informational; custody is external
	PremiumAmount  uint64   `json:"premium_amount"`
	CoverageAmount uint64   `json:"coverage_amount"`
	StartTime      int64    `json:"start_time"`
	EndTime        int64    `json:"end_time"`
	IsActive       bool     `json:"is_active"`
}

// NewPolicy opens an active policy covering [now, now+CoverageDuration).
func NewPolicy(owner Identity, deposit, premium, coverage uint64, now int64) (*Policy, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("%w: policy owner is empty", ErrInvalidArgument)
	}
	if now > math.MaxInt64-CoverageDuration {
		return nil, fmt.Errorf("policy end time: %w", ErrOverflow)
	}

	return &Policy{
		Owner:          owner,
		DepositAmount:  deposit,
		PremiumAmount:  premium,
		CoverageAmount: coverage,
		StartTime:      now,
		EndTime:        now + CoverageDuration,
		IsActive:       true,
	}, nil
}

func (p *Policy) Status() PolicyStatus {
	if p.IsActive {
		return PolicyStatusActive
	}
	return PolicyStatusTerminated
}

func (p *Policy) Duration() int64 {
	return p.EndTime - p.StartTime
}

// ComputeRefund returns floor(premium * (end - now) / (end - start)).
func (p *Policy) ComputeRefund(now int64) (uint64, error) {
	if !p.IsActive {
		return 0, ErrPolicyNotActive
	}
	if now >= p.EndTime {
		return 0, ErrPolicyExpired
	}

	duration := p.Duration()
	if duration <= 0 {
		return 0, fmt.Errorf("%w: policy window [%d, %d]", ErrCorruptRecord, p.StartTime, p.EndTime)
	}

	refund, err := fpmath.ComputeProRata(p.PremiumAmount, p.EndTime-now, duration)
	if err != nil {
		return 0, fmt.Errorf("pro-rata refund: %w", err)
	}
	return refund, nil
}

// Cancel terminates an active, unexpired policy and returns the refund owed.
func (p *Policy) Cancel(now int64) (uint64, error) {
	refund, err := p.ComputeRefund(now)
	if err != nil {
		return 0, err
	}
	p.IsActive = false
	return refund, nil
}

// ProcessExpiration deactivates a policy whose window has passed.
// It reports true only on the call that performed the transition.
func (p *Policy) ProcessExpiration(now int64) bool {
	if now > p.EndTime && p.IsActive {
		p.IsActive = false
		return true
	}
	return false
}

// AdjustCoverage replaces the coverage amount. Pool solvency is not re-checked.
func (p *Policy) AdjustCoverage(newAmount uint64) error {
	if !p.IsActive {
		return ErrPolicyNotActive
	}
	p.CoverageAmount = newAmount
	return nil
}

func (p *Policy) Clone() *Policy {
	c := *p
	return &c
}
