// Package events records the engine's domain events: the durable audit trail
// and the mechanism by which collaborators discover generated ids. Every
// mutating operation emits exactly one event.
package events

import (
	"time"

	"github.com/google/uuid"

	"grantflow/pkg/domain"
)

// Type names a domain event.
type Type string

const (
	TypeProfileCreated         Type = "profile_created"
	TypeProfileMembersUpdated  Type = "profile_members_updated"
	TypePoolCreated            Type = "pool_created"
	TypePoolFunded             Type = "pool_funded"
	TypeRegistered             Type = "registered"
	TypeRecipientStatusUpdated Type = "recipient_status_updated"
	TypeAllocated              Type = "allocated"
	TypeMilestonesSet          Type = "milestones_set"
	TypeMilestoneStatusUpdated Type = "milestone_status_updated"
	TypeMilestoneDistributed   Type = "milestone_distributed"
)

// Event is emitted from domain logic to capture one committed transition.
// Kept transport-agnostic so stores and sinks can fan out. Only the fields
// relevant to the event type are populated.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       Type           `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Actor      domain.Address `json:"actor,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`

	ProfileID   string         `json:"profile_id,omitempty"`
	PoolID      domain.PoolID  `json:"pool_id,omitempty"`
	RecipientID domain.Address `json:"recipient_id,omitempty"`
	Milestone   int            `json:"milestone,omitempty"`
	Amount      int64          `json:"amount,omitempty"`
	Status      string         `json:"status,omitempty"`
}
