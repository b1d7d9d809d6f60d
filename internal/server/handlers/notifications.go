package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ripplechat/ripple/internal/store"
)

type NotificationHandler struct {
	store *store.Store
}

func NewNotificationHandler(st *store.Store) *NotificationHandler {
	return &NotificationHandler{store: st}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	limit := parseIntQuery(r, "limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	notifications, err := h.store.ListNotifications(r.Context(), userID, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	unread, err := h.store.UnreadNotificationCount(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]any{"notifications": notifications, "unread_count": unread}, http.StatusOK)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if err := h.store.MarkNotificationRead(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *NotificationHandler) ReadAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.MarkAllNotificationsRead(r.Context(), UserIDFromContext(r.Context())); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
