package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/store"
)

func TestCreateDirectRaceReturnsExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := NewConversationHandler(store.New(mock), hub.NewRegistry(), nil, nil)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM users").
		WithArgs("usr_2").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "email", "name", "avatar_url", "bio", "status_text",
			"password_hash", "online", "last_seen_at", "created_at", "updated_at",
		}).AddRow("usr_2", "bob@example.com", "Bob", "", "", "", "hash", false, (*time.Time)(nil), now, now))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	// The first find sees nothing; a concurrent request wins the insert
	// in between, so ours trips the pair index and re-finds the winner.
	mock.ExpectQuery("SELECT .+ FROM conversations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT .+ FROM conversations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "type", "title", "group_name", "description",
			"system_prompt", "created_by_id", "created_at", "updated_at",
		}).AddRow("conv_1", domain.ConversationDirect, "", "", "", "", "usr_2", now, now))
	mock.ExpectQuery("SELECT .+ FROM members").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"conversation_id", "user_id", "role", "is_pinned", "is_muted",
			"last_read_at", "joined_at", "name",
		}).AddRow("conv_1", "usr_1", domain.RoleMember, false, false, (*time.Time)(nil), now, "Alice").
			AddRow("conv_1", "usr_2", domain.RoleMember, false, false, (*time.Time)(nil), now, "Bob"))

	body := strings.NewReader(`{"type":"DIRECT","member_ids":["usr_2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/conversations", body)
	req = req.WithContext(SetUserIDInContext(req.Context(), "usr_1"))
	w := httptest.NewRecorder()

	h.Create(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp conversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "conv_1", resp.ID)
	assert.Len(t, resp.Members, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenderMarkdown(t *testing.T) {
	alice := "usr_1"
	conv := &domain.Conversation{ID: "conv_1", Type: domain.ConversationAIChat, Title: "Trip planning"}
	members := []*domain.Member{{UserID: alice, UserName: "Alice"}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msgs := []*domain.Message{
		{SenderID: &alice, Type: domain.MessageText, Content: "Where should we go?", CreatedAt: now},
		{Type: domain.MessageAIResponse, Content: "Somewhere warm.", CreatedAt: now.Add(time.Second)},
		{SenderID: &alice, Type: domain.MessageText, Content: "secret", IsDeleted: true, CreatedAt: now.Add(2 * time.Second)},
	}

	out := renderMarkdown(conv, members, msgs)

	assert.True(t, strings.HasPrefix(out, "# Trip planning\n"))
	assert.Contains(t, out, "**Alice**")
	assert.Contains(t, out, "Where should we go?")
	assert.Contains(t, out, "**AI**")
	assert.Contains(t, out, "Somewhere warm.")
	assert.NotContains(t, out, "secret")
}

func TestRenderMarkdownFallsBackToGroupName(t *testing.T) {
	conv := &domain.Conversation{ID: "conv_1", Type: domain.ConversationGroup, GroupName: "Hiking crew"}
	out := renderMarkdown(conv, nil, nil)
	assert.True(t, strings.HasPrefix(out, "# Hiking crew\n"))
}
