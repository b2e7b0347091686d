package event

import (
	"InsureLedger/internal/state"

	"github.com/google/uuid"
)

// InitializePool creates a zeroed pool owned by Authority.
type InitializePool struct {
	RequestID uuid.UUID      `json:"request_id"`
	Pool      string         `json:"pool_key"`
	Authority state.Identity `json:"authority"`
}

func (e *InitializePool) IdempotencyKey() string { return e.RequestID.String() }
func (e *InitializePool) EventType() EventType { return EventTypeInitializePool }
func (e *InitializePool) PoolKey() string { return e.Pool }

// WithdrawPremium moves uncommitted surplus to Recipient.
type WithdrawPremium struct {
	RequestID uuid.UUID      `json:"request_id"`
	Pool      string         `json:"pool_key"`
	Authority state.Identity `json:"authority"`
	Recipient state.Identity `json:"recipient"`
	Amount    uint64         `json:"amount"`
}

func (e *WithdrawPremium) IdempotencyKey() string { return e.RequestID.String() }
func (e *WithdrawPremium) EventType() EventType { return EventTypeWithdrawPremium }
func (e *WithdrawPremium) PoolKey() string { return e.Pool }

// PayPremiumWithToken transfers tokens from Payer into the pool token vault.
type PayPremiumWithToken struct {
	RequestID uuid.UUID      `json:"request_id"`
	Pool      string         `json:"pool_key"`
	Payer     state.Identity `json:"payer"`
	Amount    uint64         `json:"amount"`
}

func (e *PayPremiumWithToken) IdempotencyKey() string { return e.RequestID.String() }
func (e *PayPremiumWithToken) EventType() EventType { return EventTypePayPremiumWithToken }
func (e *PayPremiumWithToken) PoolKey() string { return e.Pool }

// StakeIntoPool transfers tokens from Staker into the pool token vault.
type StakeIntoPool struct {
	RequestID uuid.UUID      `json:"request_id"`
	Pool      string         `json:"pool_key"`
	Staker    state.Identity `json:"staker"`
	Amount    uint64         `json:"amount"`
}

func (e *StakeIntoPool) IdempotencyKey() string { return e.RequestID.String() }
func (e *StakeIntoPool) EventType() EventType { return EventTypeStakeIntoPool }
func (e *StakeIntoPool) PoolKey() string { return e.Pool }

// FundAccount mints Amount into Account (an account path such as
// "pool:main:vault:NATIVE"). Operator tooling only.
type FundAccount struct {
	RequestID uuid.UUID `json:"request_id"`
	Account   string    `json:"account"`
	Amount    uint64    `json:"amount"`
}

func (e *FundAccount) IdempotencyKey() string { return e.RequestID.String() }
func (e *FundAccount) EventType() EventType { return EventTypeFundAccount }
func (e *FundAccount) PoolKey() string { return "" }
