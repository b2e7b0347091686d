package state

import (
	fpmath "InsureLedger/internal/math"
	"errors"
)

var (
	ErrPolicyNotActive   = errors.New("policy is not active")
	ErrPolicyExpired     = errors.New("policy has expired")
	ErrInsufficientFunds = errors.New("insurance pool has insufficient funds")
	ErrOverflow          = fpmath.ErrOverflow

	ErrNotFound         = errors.New("record not found")
	ErrPoolExists       = errors.New("pool already exists")
	ErrGovernanceExists = errors.New("governance already exists")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrCorruptRecord    = errors.New("corrupt record")
)
