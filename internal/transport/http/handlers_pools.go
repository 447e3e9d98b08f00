package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"grantflow/internal/strategy"
	"grantflow/internal/transport/http/shared"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/requestcontext"
)

func (h *Handler) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	profileID, err := domain.ParseProfileID(req.ProfileID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	tokenAddr, err := domain.ParseAddress(req.Token)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	managers, err := parseAddresses(req.Managers)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	pool, err := h.engine.CreatePoolWithCustomStrategy(ctx, profileID, req.StrategyKind, req.StrategyConfig, tokenAddr, req.InitAmount, req.Metadata, managers)
	if err != nil {
		h.logger.WarnContext(ctx, "create pool failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, pool)
}

func (h *Handler) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID, err := domain.ParsePoolID(chi.URLParam(r, "poolID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	pool, err := h.engine.GetPool(r.Context(), poolID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, pool)
}

func (h *Handler) handleFundPool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	poolID, err := domain.ParsePoolID(chi.URLParam(r, "poolID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req fundPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	net, err := h.engine.FundPool(ctx, poolID, req.Amount)
	if err != nil {
		h.logger.WarnContext(ctx, "fund pool failed",
			"pool_id", poolID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]int64{"net_amount": net})
}

func (h *Handler) handleRegisterRecipient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	poolID, err := domain.ParsePoolID(chi.URLParam(r, "poolID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req registerRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	data := strategy.RegistrationData{Metadata: req.Metadata}
	if data.RecipientAddress, err = domain.ParseAddress(req.RecipientAddress); err != nil {
		shared.WriteError(w, err)
		return
	}
	if req.Anchor != "" {
		if data.Anchor, err = domain.ParseAddress(req.Anchor); err != nil {
			shared.WriteError(w, err)
			return
		}
	}

	recipientID, err := h.engine.RegisterRecipient(ctx, poolID, data)
	if err != nil {
		h.logger.WarnContext(ctx, "register recipient failed",
			"pool_id", poolID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]string{"recipient_id": recipientID.String()})
}

func (h *Handler) handleReviewRecipients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	poolID, err := domain.ParsePoolID(chi.URLParam(r, "poolID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req reviewRecipientsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	updates, err := req.toUpdates()
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	results, err := h.engine.ReviewRecipients(ctx, poolID, updates, req.ExpectedCounter)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	// The batch commits per entry; surface each outcome.
	type entry struct {
		RecipientID string `json:"recipient_id"`
		Status      string `json:"status"`
		Error       string `json:"error,omitempty"`
	}
	out := make([]entry, len(results))
	for i, res := range results {
		out[i] = entry{RecipientID: res.RecipientID.String(), Status: string(res.Status)}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (h *Handler) handleGetRecipient(w http.ResponseWriter, r *http.Request) {
	poolID, err := domain.ParsePoolID(chi.URLParam(r, "poolID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	recipientID, err := domain.ParseAddress(chi.URLParam(r, "recipientID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	recipient, err := h.engine.GetRecipient(r.Context(), poolID, recipientID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, recipient)
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	poolID, err := domain.ParsePoolID(chi.URLParam(r, "poolID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	allocations, err := req.toAllocations()
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if err := h.engine.Allocate(ctx, poolID, allocations); err != nil {
		h.logger.WarnContext(ctx, "allocate failed",
			"pool_id", poolID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetMilestones(w http.ResponseWriter, r *http.Request) {
	poolID, recipientID, ok := h.poolRecipientParams(w, r)
	if !ok {
		return
	}
	var req setMilestonesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.engine.SetMilestones(r.Context(), poolID, recipientID, req.Milestones); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReviewMilestone(w http.ResponseWriter, r *http.Request) {
	poolID, recipientID, ok := h.poolRecipientParams(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "milestone index must be an integer"))
		return
	}
	var req reviewMilestoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.engine.ReviewMilestone(r.Context(), poolID, recipientID, index, strategy.MilestoneStatus(req.Status)); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDistributeMilestone(w http.ResponseWriter, r *http.Request) {
	poolID, recipientID, ok := h.poolRecipientParams(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "milestone index must be an integer"))
		return
	}

	if err := h.engine.DistributeMilestone(r.Context(), poolID, recipientID, index); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) poolRecipientParams(w http.ResponseWriter, r *http.Request) (domain.PoolID, domain.Address, bool) {
	poolID, err := domain.ParsePoolID(chi.URLParam(r, "poolID"))
	if err != nil {
		shared.WriteError(w, err)
		return 0, "", false
	}
	recipientID, err := domain.ParseAddress(chi.URLParam(r, "recipientID"))
	if err != nil {
		shared.WriteError(w, err)
		return 0, "", false
	}
	return poolID, recipientID, true
}
