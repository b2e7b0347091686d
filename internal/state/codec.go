package state

import (
	"encoding/binary"
	"fmt"
)

// RecordKind tags the substrate header of a persisted record.
type RecordKind uint8

const (
	KindPool RecordKind = iota + 1
	KindPolicy
	KindHistory
	KindGovernance
	KindVote
)

const (
	LayoutVersion = 1
	HeaderSize    = 2

	PoolSize       = 8 + 8 + IdentityLen
	PolicySize     = IdentityLen + 8 + 8 + 8 + 8 + 8 + 1
	HistorySize    = IdentityLen + 16 + 1 + 8
	GovernanceSize = 8 + 8 + 8
	VoteSize       = IdentityLen + 8 + 1 + 8
)

var le = binary.LittleEndian

func (k RecordKind) bodySize() int {
	switch k {
	case KindPool:
		return PoolSize
	case KindPolicy:
		return PolicySize
	case KindHistory:
		return HistorySize
	case KindGovernance:
		return GovernanceSize
	case KindVote:
		return VoteSize
	default:
		return -1
	}
}

func newRecord(kind RecordKind) []byte {
	buf := make([]byte, HeaderSize+kind.bodySize())
	buf[0] = byte(kind)
	buf[1] = LayoutVersion
	return buf
}

// checkHeader validates the header and returns the record body.
func checkHeader(data []byte, kind RecordKind) ([]byte, error) {
	if len(data) != HeaderSize+kind.bodySize() {
		return nil, fmt.Errorf("%w: kind %d: got %d bytes, want %d",
			ErrCorruptRecord, kind, len(data), HeaderSize+kind.bodySize())
	}
	if RecordKind(data[0]) != kind {
		return nil, fmt.Errorf("%w: kind %d, want %d", ErrCorruptRecord, data[0], kind)
	}
	if data[1] != LayoutVersion {
		return nil, fmt.Errorf("%w: layout version %d", ErrCorruptRecord, data[1])
	}
	return data[HeaderSize:], nil
}

func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

func getBool(b []byte) (bool, error) {
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: bool byte %d", ErrCorruptRecord, b[0])
}

// ============================================================================
// Pool
// ============================================================================

func (p *Pool) MarshalBinary() ([]byte, error) {
	buf := newRecord(KindPool)
	b := buf[HeaderSize:]
	le.PutUint64(b[0:8], p.TotalPremiumCollected)
	le.PutUint64(b[8:16], p.TotalClaimsPaid)
	copy(b[16:48], p.Authority[:])
	return buf, nil
}

func (p *Pool) UnmarshalBinary(data []byte) error {
	b, err := checkHeader(data, KindPool)
	if err != nil {
		return err
	}
	p.TotalPremiumCollected = le.Uint64(b[0:8])
	p.TotalClaimsPaid = le.Uint64(b[8:16])
	copy(p.Authority[:], b[16:48])
	return nil
}

// ============================================================================
// Policy
// ============================================================================

func (p *Policy) MarshalBinary() ([]byte, error) {
	buf := newRecord(KindPolicy)
	b := buf[HeaderSize:]
	copy(b[0:32], p.Owner[:])
	le.PutUint64(b[32:40], p.DepositAmount)
	le.PutUint64(b[40:48], p.PremiumAmount)
	le.PutUint64(b[48:56], p.CoverageAmount)
	le.PutUint64(b[56:64], uint64(p.StartTime))
	le.PutUint64(b[64:72], uint64(p.EndTime))
	putBool(b[72:73], p.IsActive)
	return buf, nil
}

func (p *Policy) UnmarshalBinary(data []byte) error {
	b, err := checkHeader(data, KindPolicy)
	if err != nil {
		return err
	}
	active, err := getBool(b[72:73])
	if err != nil {
		return err
	}
	copy(p.Owner[:], b[0:32])
	p.DepositAmount = le.Uint64(b[32:40])
	p.PremiumAmount = le.Uint64(b[40:48])
	p.CoverageAmount = le.Uint64(b[48:56])
	p.StartTime = int64(le.Uint64(b[56:64]))
	p.EndTime = int64(le.Uint64(b[64:72]))
	p.IsActive = active
	return nil
}

// ============================================================================
// History
// ============================================================================

func (h *PolicyHistoryEntry) MarshalBinary() ([]byte, error) {
	if !h.Action.Valid() {
		return nil, fmt.Errorf("%w: policy action %d", ErrInvalidArgument, uint8(h.Action))
	}
	buf := newRecord(KindHistory)
	b := buf[HeaderSize:]
	copy(b[0:32], h.User[:])
	copy(b[32:48], h.Policy[:])
	b[48] = byte(h.Action)
	le.PutUint64(b[49:57], uint64(h.Timestamp))
	return buf, nil
}

func (h *PolicyHistoryEntry) UnmarshalBinary(data []byte) error {
	b, err := checkHeader(data, KindHistory)
	if err != nil {
		return err
	}
	action := PolicyAction(b[48])
	if !action.Valid() {
		return fmt.Errorf("%w: policy action %d", ErrCorruptRecord, b[48])
	}
	copy(h.User[:], b[0:32])
	copy(h.Policy[:], b[32:48])
	h.Action = action
	h.Timestamp = int64(le.Uint64(b[49:57]))
	return nil
}

// ============================================================================
// Governance
// ============================================================================

func (g *Governance) MarshalBinary() ([]byte, error) {
	buf := newRecord(KindGovernance)
	b := buf[HeaderSize:]
	le.PutUint64(b[0:8], g.YesVotes)
	le.PutUint64(b[8:16], g.NoVotes)
	le.PutUint64(b[16:24], g.TotalProposals)
	return buf, nil
}

func (g *Governance) UnmarshalBinary(data []byte) error {
	b, err := checkHeader(data, KindGovernance)
	if err != nil {
		return err
	}
	g.YesVotes = le.Uint64(b[0:8])
	g.NoVotes = le.Uint64(b[8:16])
	g.TotalProposals = le.Uint64(b[16:24])
	return nil
}

// ============================================================================
// Vote
// ============================================================================

func (v *VoteRecord) MarshalBinary() ([]byte, error) {
	buf := newRecord(KindVote)
	b := buf[HeaderSize:]
	copy(b[0:32], v.Voter[:])
	le.PutUint64(b[32:40], v.ProposalID)
	putBool(b[40:41], v.Vote)
	le.PutUint64(b[41:49], uint64(v.Timestamp))
	return buf, nil
}

func (v *VoteRecord) UnmarshalBinary(data []byte) error {
	b, err := checkHeader(data, KindVote)
	if err != nil {
		return err
	}
	vote, err := getBool(b[40:41])
	if err != nil {
		return err
	}
	copy(v.Voter[:], b[0:32])
	v.ProposalID = le.Uint64(b[32:40])
	v.Vote = vote
	v.Timestamp = int64(le.Uint64(b[41:49]))
	return nil
}
