package models

import (
	"time"

	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/platform/addrs"
)

// Profile is the aggregate root for a registered identity.
//
// Invariants:
//   - ID is derived from (owner, nonce, name) and immutable after creation
//   - Anchor is a pure function of ID and never reused across profiles
//   - Owner equals the creator; membership changes require owner or member
//   - Profiles are never deleted (identity is permanent)
type Profile struct {
	ID        domain.ProfileID `json:"id"`
	Nonce     uint64           `json:"nonce"`
	Name      string           `json:"name"`
	Metadata  domain.Metadata  `json:"metadata"`
	Owner     domain.Address   `json:"owner"`
	Anchor    domain.Address   `json:"anchor"`
	Members   []domain.Address `json:"members"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewProfile validates the creation triple and derives the id and anchor.
func NewProfile(owner domain.Address, nonce uint64, name string, metadata domain.Metadata, members []domain.Address, now time.Time) (*Profile, error) {
	if owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "profile owner is required")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "profile name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "profile name must be 128 characters or less")
	}

	id := domain.DeriveProfileID(owner, nonce, name)
	return &Profile{
		ID:        id,
		Nonce:     nonce,
		Name:      name,
		Metadata:  metadata,
		Owner:     owner,
		Anchor:    domain.DeriveAnchor(id),
		Members:   addrs.Dedupe(members),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsOwnerOrMember is the sole authorization primitive other components may
// rely on; nobody outside the registry inspects Members directly.
func (p *Profile) IsOwnerOrMember(identity domain.Address) bool {
	if identity.IsZero() {
		return false
	}
	return identity == p.Owner || addrs.Contains(p.Members, identity)
}

// CanUpdateMembers checks the caller may mutate the member set.
func (p *Profile) CanUpdateMembers(caller domain.Address) error {
	if !p.IsOwnerOrMember(caller) {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is neither owner nor member of the profile")
	}
	return nil
}

// ApplyMemberUpdate adds then removes members. Call CanUpdateMembers first.
func (p *Profile) ApplyMemberUpdate(add, remove []domain.Address, now time.Time) {
	p.Members = addrs.Remove(addrs.Dedupe(append(p.Members, add...)), remove)
	p.UpdatedAt = now
}
