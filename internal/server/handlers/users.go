package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ripplechat/ripple/internal/store"
)

type UserHandler struct {
	store *store.Store
}

func NewUserHandler(st *store.Store) *UserHandler {
	return &UserHandler{store: st}
}

// Search excludes the caller and anyone with a block in either
// direction; blocked users simply don't appear.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondError(w, "query parameter q is required", http.StatusBadRequest)
		return
	}
	limit := parseIntQuery(r, "limit", 20)
	if limit > 50 {
		limit = 50
	}

	users, err := h.store.SearchUsers(r.Context(), UserIDFromContext(r.Context()), q, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, users, http.StatusOK)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, user, http.StatusOK)
}

type updateProfileRequest struct {
	Name       *string `json:"name"`
	AvatarURL  *string `json:"avatar_url"`
	Bio        *string `json:"bio"`
	StatusText *string `json:"status_text"`
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUser(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			respondError(w, "name cannot be empty", http.StatusBadRequest)
			return
		}
		user.Name = name
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}
	if req.Bio != nil {
		user.Bio = *req.Bio
	}
	if req.StatusText != nil {
		user.StatusText = *req.StatusText
	}

	if err := h.store.UpdateUserProfile(r.Context(), user); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, user, http.StatusOK)
}

func (h *UserHandler) Block(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	targetID := chi.URLParam(r, "id")
	if targetID == userID {
		respondError(w, "you cannot block yourself", http.StatusBadRequest)
		return
	}

	// Blocking a ghost is a 404, not a silent success.
	if _, err := h.store.GetUser(r.Context(), targetID); err != nil {
		respondDomainError(w, err)
		return
	}

	if err := h.store.CreateBlock(r.Context(), userID, targetID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *UserHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if err := h.store.DeleteBlock(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *UserHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListBlockedUsers(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, users, http.StatusOK)
}
