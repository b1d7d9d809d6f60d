package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/domain"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func TestCreateUserEmailTaken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs("usr_1", "dup@example.com", "Dup", "", "", "", "hash", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateUser(context.Background(), &domain.User{
		ID: "usr_1", Email: "dup@example.com", Name: "Dup", PasswordHash: "hash",
	})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMessageNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM messages").
		WithArgs("msg_missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetMessage(context.Background(), "msg_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestToggleReaction(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	// First toggle: nothing to delete, insert happens.
	mock.ExpectExec("DELETE FROM reactions").
		WithArgs("msg_1", "usr_1", "👍").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO reactions").
		WithArgs("msg_1", "usr_1", "👍", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	added, err := s.ToggleReaction(ctx, "msg_1", "usr_1", "👍")
	require.NoError(t, err)
	assert.True(t, added)

	// Second toggle with the same tuple removes it.
	mock.ExpectExec("DELETE FROM reactions").
		WithArgs("msg_1", "usr_1", "👍").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	added, err = s.ToggleReaction(ctx, "msg_1", "usr_1", "👍")
	require.NoError(t, err)
	assert.False(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCallConflict(t *testing.T) {
	s, mock := newMockStore(t)

	// Conditional insert matches no rows when a non-terminal call exists.
	mock.ExpectExec("INSERT INTO calls").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	callee := "usr_2"
	err := s.CreateCall(context.Background(), &domain.Call{
		ID: "call_1", ConversationID: "conv_1", CallerID: "usr_1",
		CalleeID: &callee, Type: domain.CallAudio,
	})
	assert.ErrorIs(t, err, domain.ErrCallInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCallConcurrentLoserGetsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	// When two initiates pass the NOT EXISTS check before either
	// commits, the partial unique index rejects the second insert.
	mock.ExpectExec("INSERT INTO calls").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateCall(context.Background(), &domain.Call{
		ID: "call_2", ConversationID: "conv_1", CallerID: "usr_2", Type: domain.CallVideo,
	})
	assert.ErrorIs(t, err, domain.ErrCallInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptCallNotRinging(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE calls").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.AcceptCall(context.Background(), "call_1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkConversationRead(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE members SET last_read_at").
		WithArgs("conv_1", "usr_1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE messages").
		WithArgs("conv_1", "usr_1", domain.MessageStatusRead).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	stamp, err := s.MarkConversationRead(context.Background(), "conv_1", "usr_1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), stamp, time.Minute)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		return s.TouchConversation(ctx, "conv_1")
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMessagesAfter(t *testing.T) {
	s, mock := newMockStore(t)

	after := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery("UPDATE messages").
		WithArgs("conv_1", after, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("msg_2").AddRow("msg_3"))

	ids, err := s.DeleteMessagesAfter(context.Background(), "conv_1", after)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg_2", "msg_3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
