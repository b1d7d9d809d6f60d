package handlers

import (
	"context"
	"net/http"
	"time"
)

type HealthHandler struct {
	dbPing func(ctx context.Context) error
	kvPing func(ctx context.Context) error
}

func NewHealthHandler(dbPing, kvPing func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{dbPing: dbPing, kvPing: kvPing}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.dbPing(ctx); err != nil {
		respondJSON(w, map[string]string{"status": "degraded", "database": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	if err := h.kvPing(ctx); err != nil {
		respondJSON(w, map[string]string{"status": "degraded", "kv": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
