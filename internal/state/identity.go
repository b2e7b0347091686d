package state

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const IdentityLen = 32

// Identity is a fixed-width account reference supplied by the signer layer.
type Identity [IdentityLen]byte

// ParseIdentity decodes a 64-character hex string.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if len(s) != hex.EncodedLen(IdentityLen) {
		return id, fmt.Errorf("%w: identity must be %d hex chars, got %d",
			ErrInvalidArgument, hex.EncodedLen(IdentityLen), len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: identity: %v", ErrInvalidArgument, err)
	}
	return id, nil
}

// MustParseIdentity is ParseIdentity for constants and tests.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NewIdentity returns a random identity.
func NewIdentity() Identity {
	var id Identity
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("read random identity: %v", err))
	}
	return id
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
