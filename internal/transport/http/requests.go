package httptransport

import (
	"encoding/json"

	"grantflow/internal/strategy"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
)

type createProfileRequest struct {
	Nonce    uint64          `json:"nonce"`
	Name     string          `json:"name"`
	Metadata domain.Metadata `json:"metadata"`
	Owner    string          `json:"owner,omitempty"`
	Members  []string        `json:"members,omitempty"`
}

type updateMembersRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

type createPoolRequest struct {
	ProfileID      string          `json:"profile_id"`
	StrategyKind   string          `json:"strategy_kind"`
	StrategyConfig json.RawMessage `json:"strategy_config,omitempty"`
	Token          string          `json:"token"`
	InitAmount     int64           `json:"init_amount,omitempty"`
	Metadata       domain.Metadata `json:"metadata"`
	Managers       []string        `json:"managers,omitempty"`
}

type fundPoolRequest struct {
	Amount int64 `json:"amount"`
}

type registerRecipientRequest struct {
	Anchor           string          `json:"anchor,omitempty"`
	RecipientAddress string          `json:"recipient_address"`
	Metadata         domain.Metadata `json:"metadata"`
}

type reviewRecipientsRequest struct {
	Updates []struct {
		RecipientID string `json:"recipient_id"`
		Status      string `json:"status"`
	} `json:"updates"`
	ExpectedCounter uint64 `json:"expected_counter"`
}

type allocateRequest struct {
	Allocations []struct {
		RecipientID string `json:"recipient_id"`
		Amount      int64  `json:"amount"`
	} `json:"allocations"`
}

type setMilestonesRequest struct {
	Milestones []strategy.MilestoneDraft `json:"milestones"`
}

type reviewMilestoneRequest struct {
	Status string `json:"status"`
}

// parseAddresses validates a list of addresses from a request body.
func parseAddresses(raw []string) ([]domain.Address, error) {
	out := make([]domain.Address, 0, len(raw))
	for _, s := range raw {
		a, err := domain.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r reviewRecipientsRequest) toUpdates() ([]strategy.StatusUpdate, error) {
	updates := make([]strategy.StatusUpdate, 0, len(r.Updates))
	for _, u := range r.Updates {
		id, err := domain.ParseAddress(u.RecipientID)
		if err != nil {
			return nil, err
		}
		updates = append(updates, strategy.StatusUpdate{
			RecipientID: id,
			Status:      strategy.Status(u.Status),
		})
	}
	return updates, nil
}

func (r allocateRequest) toAllocations() ([]strategy.Allocation, error) {
	if len(r.Allocations) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "allocations list is empty")
	}
	allocations := make([]strategy.Allocation, 0, len(r.Allocations))
	for _, a := range r.Allocations {
		id, err := domain.ParseAddress(a.RecipientID)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, strategy.Allocation{RecipientID: id, Amount: a.Amount})
	}
	return allocations, nil
}
