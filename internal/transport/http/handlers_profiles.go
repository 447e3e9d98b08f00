package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"grantflow/internal/transport/http/shared"
	"grantflow/pkg/domain"
	dErrors "grantflow/pkg/domain-errors"
	"grantflow/pkg/requestcontext"
)

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	owner := requestcontext.Caller(ctx)
	if req.Owner != "" {
		parsed, err := domain.ParseAddress(req.Owner)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		owner = parsed
	}
	members, err := parseAddresses(req.Members)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	profile, err := h.engine.CreateProfile(ctx, req.Nonce, req.Name, req.Metadata, owner, members)
	if err != nil {
		h.logger.WarnContext(ctx, "create profile failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, profile)
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profileID, err := domain.ParseProfileID(chi.URLParam(r, "profileID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	profile, err := h.engine.GetProfileByID(r.Context(), profileID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleGetProfileByAnchor(w http.ResponseWriter, r *http.Request) {
	anchor, err := domain.ParseAddress(chi.URLParam(r, "anchor"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	profile, err := h.engine.GetProfileByAnchor(r.Context(), anchor)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleUpdateMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	profileID, err := domain.ParseProfileID(chi.URLParam(r, "profileID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req updateMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	add, err := parseAddresses(req.Add)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	remove, err := parseAddresses(req.Remove)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	profile, err := h.engine.UpdateProfileMembers(ctx, profileID, add, remove)
	if err != nil {
		h.logger.WarnContext(ctx, "update members failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleExpectedNonce(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	nonce, err := h.engine.ExpectedNonce(r.Context(), owner)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}
