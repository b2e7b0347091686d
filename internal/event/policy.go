package event

import (
	"InsureLedger/internal/state"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PurchaseInsurance opens a policy and collects its premium into the pool.
type PurchaseInsurance struct {
	RequestID      uuid.UUID      `json:"request_id"`
	Pool           string         `json:"pool_key"`
	Owner          state.Identity `json:"owner"`
	DepositAmount  uint64         `json:"deposit_amount"`
	PremiumAmount  uint64         `json:"premium_amount"`
	CoverageAmount uint64         `json:"coverage_amount"`
}

func (e *PurchaseInsurance) IdempotencyKey() string { return e.RequestID.String() }
func (e *PurchaseInsurance) EventType() EventType { return EventTypePurchaseInsurance }
func (e *PurchaseInsurance) PoolKey() string { return e.Pool }

type CancelPolicy struct {
	RequestID uuid.UUID      `json:"request_id"`
	PolicyID  uuid.UUID      `json:"policy_id"`
	Owner     state.Identity `json:"owner"`
}

func (e *CancelPolicy) IdempotencyKey() string { return e.RequestID.String() }
func (e *CancelPolicy) EventType() EventType { return EventTypeCancelPolicy }
func (e *CancelPolicy) PoolKey() string { return "" }

type ApproveClaim struct {
	RequestID uuid.UUID      `json:"request_id"`
	PolicyID  uuid.UUID      `json:"policy_id"`
	Authority state.Identity `json:"authority"`
}

func (e *ApproveClaim) IdempotencyKey() string { return e.RequestID.String() }
func (e *ApproveClaim) EventType() EventType { return EventTypeApproveClaim }
func (e *ApproveClaim) PoolKey() string { return "" }

type ProcessPolicyExpiration struct {
	RequestID uuid.UUID `json:"request_id"`
	PolicyID  uuid.UUID `json:"policy_id"`
}

func (e *ProcessPolicyExpiration) IdempotencyKey() string { return e.RequestID.String() }
func (e *ProcessPolicyExpiration) EventType() EventType { return EventTypeProcessPolicyExpiration }
func (e *ProcessPolicyExpiration) PoolKey() string { return "" }

type AdjustCoverage struct {
	RequestID         uuid.UUID      `json:"request_id"`
	PolicyID          uuid.UUID      `json:"policy_id"`
	Owner             state.Identity `json:"owner"`
	NewCoverageAmount uint64         `json:"new_coverage_amount"`
}

func (e *AdjustCoverage) IdempotencyKey() string { return e.RequestID.String() }
func (e *AdjustCoverage) EventType() EventType { return EventTypeAdjustCoverage }
func (e *AdjustCoverage) PoolKey() string { return "" }

// LogPolicyAction appends a history entry. It does not touch the policy.
type LogPolicyAction struct {
	RequestID uuid.UUID          `json:"request_id"`
	PolicyID  uuid.UUID          `json:"policy_id"`
	User      state.Identity     `json:"user"`
	Action    state.PolicyAction `json:"action"`
}

// UnmarshalJSON requires "action": its zero value is a valid action, so a
// missing field would otherwise log Created.
func (e *LogPolicyAction) UnmarshalJSON(data []byte) error {
	type plain LogPolicyAction
	aux := struct {
		*plain
		Action *state.PolicyAction `json:"action"`
	}{plain: (*plain)(e)}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	if aux.Action == nil {
		return fmt.Errorf("%w: action is required", state.ErrInvalidArgument)
	}
	e.Action = *aux.Action
	return nil
}

func (e *LogPolicyAction) IdempotencyKey() string { return e.RequestID.String() }
func (e *LogPolicyAction) EventType() EventType { return EventTypeLogPolicyAction }
func (e *LogPolicyAction) PoolKey() string { return "" }
