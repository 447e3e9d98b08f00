// Package strategy defines the pluggable allocation-strategy capability set.
// A strategy governs recipient registration, review, and payout for the pools
// it is bound to; it never touches profiles or balances directly, only
// through the registry and ledger ports it is constructed with.
package strategy

import (
	"context"
	"encoding/json"

	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
)

// Status is the recipient lifecycle state. None is implicit: the absence of
// a record. Accepted and Rejected are terminal.
type Status string

const (
	StatusNone     Status = "none"
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool { return s == StatusAccepted || s == StatusRejected }

// MilestoneStatus is a milestone's independent lifecycle. Distributed is
// terminal; Rejected milestones can never be paid.
type MilestoneStatus string

const (
	MilestonePending     MilestoneStatus = "pending"
	MilestoneAccepted    MilestoneStatus = "accepted"
	MilestoneRejected    MilestoneStatus = "rejected"
	MilestoneDistributed MilestoneStatus = "distributed"
)

// Recipient is one payout target's registration record within a pool.
type Recipient struct {
	ID             domain.Address  `json:"id"`
	Address        domain.Address  `json:"address"`
	Metadata       domain.Metadata `json:"metadata"`
	Status         Status          `json:"status"`
	TotalAllocated int64           `json:"total_allocated"`
	Milestones     []Milestone     `json:"milestones,omitempty"`
}

// Milestone is a percentage-weighted sub-unit of a recipient's allocation.
// Percentages are basis points; 10000 is the whole allocation.
type Milestone struct {
	PercentageBps uint32          `json:"percentage_bps"`
	Metadata      domain.Metadata `json:"metadata"`
	Status        MilestoneStatus `json:"status"`
}

// MilestoneDraft is the caller-supplied part of a milestone plan.
type MilestoneDraft struct {
	PercentageBps uint32          `json:"percentage_bps"`
	Metadata      domain.Metadata `json:"metadata"`
}

// RegistrationData is the registerRecipient payload. Anchor is consulted only
// by strategies configured for registry-anchored identity.
type RegistrationData struct {
	Anchor           domain.Address  `json:"anchor,omitempty"`
	RecipientAddress domain.Address  `json:"recipient_address"`
	Metadata         domain.Metadata `json:"metadata"`
}

// StatusUpdate addresses one recipient in a review batch.
type StatusUpdate struct {
	RecipientID domain.Address `json:"recipient_id"`
	Status      Status         `json:"status"`
}

// ReviewResult reports the per-entry outcome of a review batch. The batch
// commits partially: failed entries carry their error, successful entries a
// nil one.
type ReviewResult struct {
	RecipientID domain.Address `json:"recipient_id"`
	Status      Status         `json:"status"`
	Err         error          `json:"-"`
}

// Allocation instructs one debit to an accepted recipient.
type Allocation struct {
	RecipientID domain.Address `json:"recipient_id"`
	Amount      int64          `json:"amount"`
}

// Strategy is the capability set every allocation strategy implements. One
// implementation serves every pool bound to its kind; per-pool state lives in
// the strategy's own store, keyed by pool id.
type Strategy interface {
	// Kind names the implementation; it prefixes every bound instance id.
	Kind() string
	// Initialize creates the per-pool instance from its opaque config blob.
	Initialize(ctx context.Context, poolID domain.PoolID, id domain.StrategyID, config json.RawMessage) error

	RegisterRecipient(ctx context.Context, poolID domain.PoolID, data RegistrationData) (domain.Address, error)
	ReviewRecipients(ctx context.Context, poolID domain.PoolID, updates []StatusUpdate, expectedCounter uint64) ([]ReviewResult, error)
	GetRecipient(ctx context.Context, poolID domain.PoolID, recipientID domain.Address) (*Recipient, error)
	Allocate(ctx context.Context, poolID domain.PoolID, allocations []Allocation) error

	SetMilestones(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, plan []MilestoneDraft) error
	ReviewMilestone(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, index int, status MilestoneStatus) error
	DistributeMilestone(ctx context.Context, poolID domain.PoolID, recipientID domain.Address, index int) error
}

// Catalog maps strategy kinds to their implementations. The orchestrator
// resolves a pool's bound strategy through it.
type Catalog struct {
	kinds map[string]Strategy
}

func NewCatalog(strategies ...Strategy) *Catalog {
	c := &Catalog{kinds: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		c.kinds[s.Kind()] = s
	}
	return c
}

// Resolve returns the implementation behind a bound instance id.
func (c *Catalog) Resolve(id domain.StrategyID) (Strategy, error) {
	s, ok := c.kinds[id.Kind()]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown strategy kind %q", id.Kind())
	}
	return s, nil
}
