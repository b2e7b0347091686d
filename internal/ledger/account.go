package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopePool
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota
	SubTypeTokenAccount

	// Pool sub-types
	SubTypePoolVault
	SubTypePoolTokenVault

	// External sub-types
	SubTypeExternalMint
)

var subTypeNames = map[AccountSubType]string{
	SubTypeWallet:         "wallet",
	SubTypeTokenAccount:   "token",
	SubTypePoolVault:      "vault",
	SubTypePoolTokenVault: "token_vault",
	SubTypeExternalMint:   "mint",
}

// AssetID maps asset strings to numeric IDs
type AssetID uint16

const (
	AssetNative AssetID = 1 // Refunds and withdrawals
	AssetUSDC   AssetID = 2 // Token premium and staking
)

var (
	assetToID = map[string]AssetID{
		"NATIVE": AssetNative,
		"USDC":   AssetUSDC,
	}
	idToAsset = map[AssetID]string{
		AssetNative: "NATIVE",
		AssetUSDC:   "USDC",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [32]byte // Identity for users, pool key bytes for pools
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for a user-owned balance
func NewUserAccountKey(owner [32]byte, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: owner,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewPoolAccountKey creates a key for a pool vault. Pool keys longer than
// 32 bytes are truncated.
func NewPoolAccountKey(poolKey string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [32]byte
	copy(entityID[:], poolKey)
	return AccountKey{
		Scope:    AccountScopePool,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", hex.EncodeToString(k.EntityID[:]), k.subTypeName(), assetName)
	case AccountScopePool:
		return fmt.Sprintf("pool:%s:%s:%s", strings.TrimRight(string(k.EntityID[:]), "\x00"), k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) String() string {
	return k.AccountPath()
}

func (k AccountKey) subTypeName() string {
	if name, ok := subTypeNames[k.SubType]; ok {
		return name
	}
	return "unknown"
}

func parseSubType(name string) (AccountSubType, bool) {
	for st, n := range subTypeNames {
		if n == name {
			return st, true
		}
	}
	return 0, false
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	var (
		key   AccountKey
		sub   string
		asset string
	)
	switch {
	case len(parts) == 4 && parts[0] == "user":
		raw, err := hex.DecodeString(parts[1])
		if err != nil || len(raw) != len(key.EntityID) {
			return key, fmt.Errorf("account path %q: bad user identity", path)
		}
		key.Scope = AccountScopeUser
		copy(key.EntityID[:], raw)
		sub, asset = parts[2], parts[3]
	case len(parts) == 4 && parts[0] == "pool":
		if parts[1] == "" || len(parts[1]) > len(key.EntityID) {
			return key, fmt.Errorf("account path %q: bad pool key", path)
		}
		key.Scope = AccountScopePool
		copy(key.EntityID[:], parts[1])
		sub, asset = parts[2], parts[3]
	case len(parts) == 3 && parts[0] == "external":
		key.Scope = AccountScopeExternal
		sub, asset = parts[1], parts[2]
	default:
		return key, fmt.Errorf("account path %q: unrecognised layout", path)
	}

	st, ok := parseSubType(sub)
	if !ok {
		return key, fmt.Errorf("account path %q: unknown sub-type %q", path, sub)
	}
	assetID, ok := GetAssetID(asset)
	if !ok {
		return key, fmt.Errorf("account path %q: unknown asset %q", path, asset)
	}
	key.SubType = st
	key.AssetID = assetID
	return key, nil
}
