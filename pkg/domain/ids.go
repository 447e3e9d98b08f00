// Package domain defines the typed identifiers shared across components.
//
// IDs are distinct types so the compiler rejects cross-entity mix-ups
// (passing a ProfileID where a PoolID is expected). Profile ids and anchors
// are deterministic hashes, never random: the same (owner, nonce, name)
// triple always derives the same ProfileID, and an anchor is a pure function
// of its ProfileID.
package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	dErrors "grantflow/pkg/domain-errors"
)

// Address identifies an external account: a caller, an owner, a payout
// destination, or a token asset. Rendered as 0x-prefixed lowercase hex,
// 20 bytes.
type Address string

const addressHexLen = 40

// ZeroAddress is the absence of an account. Never a valid owner or payout
// destination.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// ParseAddress validates an address at a trust boundary.
func ParseAddress(raw string) (Address, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(s, "0x") || len(s) != 2+addressHexLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address must be 0x-prefixed 20-byte hex")
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address contains non-hex characters")
	}
	if Address(s) == ZeroAddress {
		return "", dErrors.New(dErrors.CodeInvalidInput, "zero address is not a valid account")
	}
	return Address(s), nil
}

func (a Address) String() string { return string(a) }

// IsZero reports whether the address is empty or the zero account.
func (a Address) IsZero() bool { return a == "" || a == ZeroAddress }

// ProfileID is the deterministic identity of a profile.
type ProfileID [32]byte

// DeriveProfileID computes the profile id from its creation triple. Two
// different owners can never collide, and one owner can never regenerate an
// already-used id because the nonce is consumed on creation.
func DeriveProfileID(owner Address, nonce uint64, name string) ProfileID {
	h := sha256.New()
	h.Write([]byte("profile/v1"))
	h.Write([]byte(owner))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	h.Write([]byte(name))
	var id ProfileID
	copy(id[:], h.Sum(nil))
	return id
}

// DeriveAnchor computes the profile's anchor: a deterministic secondary
// address usable as an opaque recipient handle. Anchors are never reused
// across profiles because the profile id is collision-resistant.
func DeriveAnchor(id ProfileID) Address {
	h := sha256.Sum256(append([]byte("anchor/v1"), id[:]...))
	return Address("0x" + hex.EncodeToString(h[:20]))
}

func (p ProfileID) String() string { return "0x" + hex.EncodeToString(p[:]) }

// MarshalJSON renders the id as 0x-hex so events and cached records stay
// human-readable.
func (p ProfileID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *ProfileID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	id, err := ParseProfileID(s)
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// IsZero reports whether the id is unset.
func (p ProfileID) IsZero() bool { return p == ProfileID{} }

// ParseProfileID validates a profile id at a trust boundary.
func ParseProfileID(raw string) (ProfileID, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(s, "0x") || len(s) != 2+64 {
		return ProfileID{}, dErrors.New(dErrors.CodeInvalidInput, "profile id must be 0x-prefixed 32-byte hex")
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return ProfileID{}, dErrors.New(dErrors.CodeInvalidInput, "profile id contains non-hex characters")
	}
	var id ProfileID
	copy(id[:], b)
	if id.IsZero() {
		return ProfileID{}, dErrors.New(dErrors.CodeInvalidInput, "zero profile id")
	}
	return id, nil
}

// PoolID is the sequential identity of a pool. Assigned by the ledger store,
// starting at 1.
type PoolID uint64

func (p PoolID) String() string { return fmt.Sprintf("%d", uint64(p)) }

// ParsePoolID validates a pool id at a trust boundary.
func ParsePoolID(raw string) (PoolID, error) {
	var n uint64
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d", &n); err != nil || n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "pool id must be a positive integer")
	}
	return PoolID(n), nil
}

// StrategyID identifies one allocation strategy instance. Strategies bind to
// exactly one pool; the id is what the ledger checks before authorizing a
// debit.
type StrategyID string

// BindStrategyID derives the id for a strategy instance bound to a pool.
// The kind prefix is how the orchestrator routes calls back to the right
// strategy implementation.
func BindStrategyID(kind string, poolID PoolID) StrategyID {
	return StrategyID(kind + "/" + poolID.String())
}

func (s StrategyID) String() string { return string(s) }

// Kind extracts the strategy implementation name from the instance id.
func (s StrategyID) Kind() string {
	kind, _, _ := strings.Cut(string(s), "/")
	return kind
}

// Metadata is an opaque pointer to off-engine content plus a protocol
// discriminator (e.g. protocol 1 = ipfs).
type Metadata struct {
	Protocol uint64 `json:"protocol"`
	Pointer  string `json:"pointer"`
}

// IsZero reports whether no metadata was supplied.
func (m Metadata) IsZero() bool { return m.Protocol == 0 && m.Pointer == "" }
