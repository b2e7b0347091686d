package state

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PolicyAction is the reason recorded in a history entry.
type PolicyAction uint8

const (
	PolicyActionCreated PolicyAction = iota
	PolicyActionCanceled
	PolicyActionClaimed
	PolicyActionExpired
)

func (a PolicyAction) String() string {
	switch a {
	case PolicyActionCreated:
		return "Created"
	case PolicyActionCanceled:
		return "Canceled"
	case PolicyActionClaimed:
		return "Claimed"
	case PolicyActionExpired:
		return "Expired"
	default:
		return fmt.Sprintf("PolicyAction(%d)", uint8(a))
	}
}

func (a PolicyAction) Valid() bool {
	return a <= PolicyActionExpired
}

// ParsePolicyAction accepts the action name, case-insensitively.
func ParsePolicyAction(s string) (PolicyAction, error) {
	switch strings.ToLower(s) {
	case "created":
		return PolicyActionCreated, nil
	case "canceled", "cancelled":
		return PolicyActionCanceled, nil
	case "claimed":
		return PolicyActionClaimed, nil
	case "expired":
		return PolicyActionExpired, nil
	}
	return 0, fmt.Errorf("%w: unknown policy action %q", ErrInvalidArgument, s)
}

func (a PolicyAction) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: policy action %d", ErrInvalidArgument, uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *PolicyAction) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicyAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// PolicyHistoryEntry is an append-only audit record. Entries are never
// mutated once written.
type PolicyHistoryEntry struct {
	User      Identity     `json:"user"`
	Policy    uuid.UUID    `json:"policy"`
	Action    PolicyAction `json:"action"`
	Timestamp int64        `json:"timestamp"`
}

func NewHistoryEntry(user Identity, policy uuid.UUID, action PolicyAction, now int64) (*PolicyHistoryEntry, error) {
	if user.IsZero() {
		return nil, fmt.Errorf("%w: history user is empty", ErrInvalidArgument)
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: policy action %d", ErrInvalidArgument, uint8(action))
	}
	return &PolicyHistoryEntry{
		User:      user,
		Policy:    policy,
		Action:    action,
		Timestamp: now,
	}, nil
}
