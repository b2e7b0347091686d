package event

import (
	"fmt"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitializePool
	EventTypePurchaseInsurance
	EventTypeCancelPolicy
	EventTypeApproveClaim
	EventTypeWithdrawPremium
	EventTypeLogPolicyAction
	EventTypeProcessPolicyExpiration
	EventTypeAdjustCoverage
	EventTypePayPremiumWithToken
	EventTypeStakeIntoPool
	EventTypeSubmitGovernanceVote
	EventTypeInitializeGovernance
	EventTypeRegisterProposal
	EventTypeFundAccount
)

var eventTypeNames = map[EventType]string{
	EventTypeInitializePool:          "InitializePool",
	EventTypePurchaseInsurance:       "PurchaseInsurance",
	EventTypeCancelPolicy:            "CancelPolicy",
	EventTypeApproveClaim:            "ApproveClaim",
	EventTypeWithdrawPremium:         "WithdrawPremium",
	EventTypeLogPolicyAction:         "LogPolicyAction",
	EventTypeProcessPolicyExpiration: "ProcessPolicyExpiration",
	EventTypeAdjustCoverage:          "AdjustCoverage",
	EventTypePayPremiumWithToken:     "PayPremiumWithToken",
	EventTypeStakeIntoPool:           "StakeIntoPool",
	EventTypeSubmitGovernanceVote:    "SubmitGovernanceVote",
	EventTypeInitializeGovernance:    "InitializeGovernance",
	EventTypeRegisterProposal:        "RegisterProposal",
	EventTypeFundAccount:             "FundAccount",
}

// Operation names double as NATS subject tokens and HTTP paths.
var operationNames = map[EventType]string{
	EventTypeInitializePool:          "initialize_pool",
	EventTypePurchaseInsurance:       "purchase_insurance",
	EventTypeCancelPolicy:            "cancel_policy",
	EventTypeApproveClaim:            "approve_claim",
	EventTypeWithdrawPremium:         "withdraw_premium",
	EventTypeLogPolicyAction:         "log_policy_action",
	EventTypeProcessPolicyExpiration: "process_policy_expiration",
	EventTypeAdjustCoverage:          "adjust_coverage",
	EventTypePayPremiumWithToken:     "pay_premium_with_token",
	EventTypeStakeIntoPool:           "stake_into_pool",
	EventTypeSubmitGovernanceVote:    "submit_governance_vote",
	EventTypeInitializeGovernance:    "initialize_governance",
	EventTypeRegisterProposal:        "register_proposal",
	EventTypeFundAccount:             "fund_account",
}

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Pool context (empty for governance commands)
	PoolKey string

	// Clock reading the command was applied at (unix seconds)
	Timestamp int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PoolKey returns the pool context ("" for governance commands)
	PoolKey() string
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// Operation returns the snake_case operation name.
func (et EventType) Operation() string {
	return operationNames[et]
}

// ParseOperation maps a snake_case operation name back to its type.
func ParseOperation(op string) (EventType, error) {
	for et, name := range operationNames {
		if name == op {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown operation %q", op)
}

// EventTypes lists every known type in declaration order.
func EventTypes() []EventType {
	types := make([]EventType, 0, len(eventTypeNames))
	for et := EventTypeInitializePool; et <= EventTypeFundAccount; et++ {
		types = append(types, et)
	}
	return types
}

// New returns an empty command for the type, ready to be decoded into.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeInitializePool:
		return &InitializePool{}, nil
	case EventTypePurchaseInsurance:
		return &PurchaseInsurance{}, nil
	case EventTypeCancelPolicy:
		return &CancelPolicy{}, nil
	case EventTypeApproveClaim:
		return &ApproveClaim{}, nil
	case EventTypeWithdrawPremium:
		return &WithdrawPremium{}, nil
	case EventTypeLogPolicyAction:
		return &LogPolicyAction{}, nil
	case EventTypeProcessPolicyExpiration:
		return &ProcessPolicyExpiration{}, nil
	case EventTypeAdjustCoverage:
		return &AdjustCoverage{}, nil
	case EventTypePayPremiumWithToken:
		return &PayPremiumWithToken{}, nil
	case EventTypeStakeIntoPool:
		return &StakeIntoPool{}, nil
	case EventTypeSubmitGovernanceVote:
		return &SubmitGovernanceVote{}, nil
	case EventTypeInitializeGovernance:
		return &InitializeGovernance{}, nil
	case EventTypeRegisterProposal:
		return &RegisterProposal{}, nil
	case EventTypeFundAccount:
		return &FundAccount{}, nil
	default:
		return nil, fmt.Errorf("no command for event type %d", et)
	}
}
