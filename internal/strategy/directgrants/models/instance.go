package models

import (
	"time"

	"grantflow/internal/strategy"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
)

// Instance is the per-pool aggregate of a direct-grants strategy: its config,
// its recipients, and the registration counter that guards review batches.
//
// Invariants:
//   - A recipient in a terminal status never transitions again
//   - Counter advances on every committed registration, so a review batch
//     built against an older counter is rejected as stale
//   - A distributed milestone is terminal and the plan is frozen once any
//     milestone distributes
type Instance struct {
	PoolID     domain.PoolID                          `json:"pool_id"`
	ID         domain.StrategyID                      `json:"id"`
	Config     Config                                 `json:"config"`
	Counter    uint64                                 `json:"counter"`
	Recipients map[domain.Address]*strategy.Recipient `json:"recipients"`
	CreatedAt  time.Time                              `json:"created_at"`
	UpdatedAt  time.Time                              `json:"updated_at"`
}

func NewInstance(poolID domain.PoolID, id domain.StrategyID, cfg Config, now time.Time) *Instance {
	return &Instance{
		PoolID:     poolID,
		ID:         id,
		Config:     cfg,
		Recipients: make(map[domain.Address]*strategy.Recipient),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CanRegister checks the registration window. Both bounds are inclusive.
func (i *Instance) CanRegister(now time.Time) error {
	if !i.Config.RegistrationOpen(now) {
		return dErrors.New(dErrors.CodeRegistrationClosed, "registration window is closed")
	}
	return nil
}

// ApplyRegistration upserts a recipient record. An Accepted recipient keeps
// its status across re-registration; anything else lands back in Pending.
// Every registration advances the counter.
func (i *Instance) ApplyRegistration(recipientID, address domain.Address, metadata domain.Metadata, now time.Time) *strategy.Recipient {
	r, exists := i.Recipients[recipientID]
	if !exists {
		r = &strategy.Recipient{ID: recipientID}
		i.Recipients[recipientID] = r
	}
	r.Address = address
	r.Metadata = metadata
	if r.Status != strategy.StatusAccepted {
		r.Status = strategy.StatusPending
	}
	i.Counter++
	i.UpdatedAt = now
	return r
}

// CheckCounter guards review batches against racing registrations.
func (i *Instance) CheckCounter(expected uint64) error {
	if expected != i.Counter {
		return dErrors.Newf(dErrors.CodeStaleReview, "review counter %d does not match current %d", expected, i.Counter)
	}
	return nil
}

// ApplyReview transitions one recipient from Pending to a terminal status.
func (i *Instance) ApplyReview(update strategy.StatusUpdate, now time.Time) error {
	if !update.Status.Terminal() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "review status must be accepted or rejected, got %q", update.Status)
	}
	r, ok := i.Recipients[update.RecipientID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "recipient not registered")
	}
	if r.Status != strategy.StatusPending {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "recipient is %s and cannot be reviewed again", r.Status)
	}
	r.Status = update.Status
	i.UpdatedAt = now
	return nil
}

// Recipient returns a registered recipient or NotFound.
func (i *Instance) Recipient(id domain.Address) (*strategy.Recipient, error) {
	r, ok := i.Recipients[id]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "recipient not registered")
	}
	return r, nil
}

// CanAllocate validates one allocation entry without applying it.
func (i *Instance) CanAllocate(recipientID domain.Address, amount int64, now time.Time) error {
	if !i.Config.AllocationOpen(now) {
		return dErrors.New(dErrors.CodeAllocationClosed, "allocation window is closed")
	}
	if amount <= 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "allocation amount must be positive")
	}
	r, ok := i.Recipients[recipientID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "recipient not registered")
	}
	if r.Status != strategy.StatusAccepted {
		return dErrors.Newf(dErrors.CodeRecipientNotAccepted, "recipient is %s", r.Status)
	}
	return nil
}

// ApplyAllocation records a committed debit against the recipient.
func (i *Instance) ApplyAllocation(recipientID domain.Address, amount int64, now time.Time) {
	i.Recipients[recipientID].TotalAllocated += amount
	i.UpdatedAt = now
}

// RevertAllocation backs out an allocation whose ledger debit was rejected.
func (i *Instance) RevertAllocation(recipientID domain.Address, amount int64, now time.Time) {
	i.Recipients[recipientID].TotalAllocated -= amount
	i.UpdatedAt = now
}

// ApplyMilestonePlan replaces the recipient's milestone plan. The recipient
// must be Accepted, the plan frozen once any milestone has distributed, and
// the percentages must be positive and sum to at most the whole allocation.
func (i *Instance) ApplyMilestonePlan(recipientID domain.Address, plan []strategy.MilestoneDraft, now time.Time) error {
	r, err := i.Recipient(recipientID)
	if err != nil {
		return err
	}
	if r.Status != strategy.StatusAccepted {
		return dErrors.Newf(dErrors.CodeRecipientNotAccepted, "recipient is %s", r.Status)
	}
	for _, m := range r.Milestones {
		if m.Status == strategy.MilestoneDistributed {
			return dErrors.New(dErrors.CodeInvalidMilestonePlan, "plan is frozen once a milestone has distributed")
		}
	}
	if len(plan) == 0 {
		return dErrors.New(dErrors.CodeInvalidMilestonePlan, "milestone plan is empty")
	}
	var total uint64
	for _, d := range plan {
		if d.PercentageBps == 0 {
			return dErrors.New(dErrors.CodeInvalidMilestonePlan, "milestone percentage must be positive")
		}
		total += uint64(d.PercentageBps)
	}
	if total > 10000 {
		return dErrors.Newf(dErrors.CodeInvalidMilestonePlan, "milestone percentages sum to %d bps, above the whole allocation", total)
	}

	r.Milestones = make([]strategy.Milestone, len(plan))
	for idx, d := range plan {
		r.Milestones[idx] = strategy.Milestone{
			PercentageBps: d.PercentageBps,
			Metadata:      d.Metadata,
			Status:        strategy.MilestonePending,
		}
	}
	i.UpdatedAt = now
	return nil
}

func (i *Instance) milestone(recipientID domain.Address, index int) (*strategy.Recipient, *strategy.Milestone, error) {
	r, err := i.Recipient(recipientID)
	if err != nil {
		return nil, nil, err
	}
	if index < 0 || index >= len(r.Milestones) {
		return nil, nil, dErrors.Newf(dErrors.CodeNotFound, "recipient has no milestone %d", index)
	}
	return r, &r.Milestones[index], nil
}

// ApplyMilestoneReview transitions one milestone from Pending to a decision.
func (i *Instance) ApplyMilestoneReview(recipientID domain.Address, index int, status strategy.MilestoneStatus, now time.Time) error {
	if status != strategy.MilestoneAccepted && status != strategy.MilestoneRejected {
		return dErrors.Newf(dErrors.CodeInvalidInput, "milestone review status must be accepted or rejected, got %q", status)
	}
	_, m, err := i.milestone(recipientID, index)
	if err != nil {
		return err
	}
	if m.Status != strategy.MilestonePending {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "milestone is %s and cannot be reviewed again", m.Status)
	}
	m.Status = status
	i.UpdatedAt = now
	return nil
}

// CanDistribute computes the payout for an accepted milestone.
func (i *Instance) CanDistribute(recipientID domain.Address, index int) (int64, error) {
	r, m, err := i.milestone(recipientID, index)
	if err != nil {
		return 0, err
	}
	if m.Status != strategy.MilestoneAccepted {
		return 0, dErrors.Newf(dErrors.CodeMilestoneNotAccepted, "milestone is %s", m.Status)
	}
	// Split the multiplication so large allocations cannot overflow int64.
	// The sum still equals TotalAllocated*bps/10000 rounded down.
	amount := r.TotalAllocated/10000*int64(m.PercentageBps) +
		r.TotalAllocated%10000*int64(m.PercentageBps)/10000
	if amount <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidAmount, "milestone payout rounds to zero")
	}
	return amount, nil
}

// ApplyDistributed marks a milestone paid. Call CanDistribute first.
func (i *Instance) ApplyDistributed(recipientID domain.Address, index int, now time.Time) {
	i.Recipients[recipientID].Milestones[index].Status = strategy.MilestoneDistributed
	i.UpdatedAt = now
}

// RevertDistributed returns a milestone to Accepted after its payout was
// rejected. Only the distribution reversal path may call it.
func (i *Instance) RevertDistributed(recipientID domain.Address, index int, now time.Time) {
	i.Recipients[recipientID].Milestones[index].Status = strategy.MilestoneAccepted
	i.UpdatedAt = now
}
