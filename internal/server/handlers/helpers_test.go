package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.Invalidf("bad input"), http.StatusBadRequest},
		{"authentication", domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{"authorization", domain.Forbiddenf("nope"), http.StatusForbidden},
		{"not found", domain.ErrConversationNotFound, http.StatusNotFound},
		{"conflict", domain.ErrCallInProgress, http.StatusConflict},
		{"unavailable", domain.ErrUnavailable, http.StatusServiceUnavailable},
		{"wrapped still maps", errors.Join(errors.New("ctx"), domain.ErrNotFound), http.StatusNotFound},
		{"unknown is internal", errors.New("pq: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRespondDomainErrorNeverLeaksInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	respondDomainError(rec, errors.New("dial tcp 10.0.0.4:5432: refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["error"])
}

func TestRespondDomainErrorStripsSentinel(t *testing.T) {
	rec := httptest.NewRecorder()
	respondDomainError(rec, domain.ErrCallInProgress)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "A call is already in progress", body["error"])
}

func TestUserIDContextRoundTrip(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := SetUserIDInContext(r.Context(), "usr_1")
	assert.Equal(t, "usr_1", UserIDFromContext(ctx))
	assert.Equal(t, "", UserIDFromContext(r.Context()))
}
