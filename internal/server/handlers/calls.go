package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/store"
)

type CallHandler struct {
	store *store.Store
}

func NewCallHandler(st *store.Store) *CallHandler {
	return &CallHandler{store: st}
}

func (h *CallHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	calls, err := h.store.ListCalls(r.Context(), UserIDFromContext(r.Context()), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, calls, http.StatusOK)
}

func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
	call, err := h.store.GetCall(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// Call history is visible to conversation members only.
	ok, err := h.store.IsMember(r.Context(), call.ConversationID, UserIDFromContext(r.Context()))
	if err != nil || !ok {
		respondDomainError(w, domain.ErrNotFound)
		return
	}
	respondJSON(w, call, http.StatusOK)
}
