package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/protocol"
	"github.com/ripplechat/ripple/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	frames []protocol.Envelope
}

func (r *recorder) Send(data []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	r.mu.Lock()
	r.frames = append(r.frames, env)
	r.mu.Unlock()
	return nil
}

func (r *recorder) find(t *testing.T, event string, v any) bool {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, env := range r.frames {
		if env.Event == event {
			require.NoError(t, json.Unmarshal(env.Data, v))
			return true
		}
	}
	return false
}

func TestRingTimeoutAutoRejects(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	registry := hub.NewRegistry()
	rec := &recorder{}
	registry.Register("usr_1", "conn_1", rec)
	registry.Join("conn_1", hub.ConversationRoom("conv_1"))

	cm := NewCallManager(store.New(mock), registry, nil)
	call := &domain.Call{
		ID:             "call_1",
		ConversationID: "conv_1",
		CallerID:       "usr_1",
		Type:           domain.CallAudio,
		Status:         domain.CallStatusRinging,
	}
	cm.live[call.ID] = call

	mock.ExpectExec("UPDATE calls").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	cm.ringTimedOut(call.ID)

	var declined protocol.CallUpdate
	require.True(t, rec.find(t, protocol.EventCallDeclined, &declined))
	assert.Equal(t, domain.CallStatusRejected, declined.Call.Status)
	// Nobody declined; the ring simply expired.
	assert.Empty(t, declined.DeclinedBy)

	cm.mu.Lock()
	_, stillLive := cm.live[call.ID]
	cm.mu.Unlock()
	assert.False(t, stillLive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRingTimeoutRaceWithAccept(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	registry := hub.NewRegistry()
	rec := &recorder{}
	registry.Register("usr_1", "conn_1", rec)
	registry.Join("conn_1", hub.ConversationRoom("conv_1"))

	cm := NewCallManager(store.New(mock), registry, nil)
	call := &domain.Call{
		ID:             "call_1",
		ConversationID: "conv_1",
		CallerID:       "usr_1",
		Status:         domain.CallStatusActive,
	}
	cm.live[call.ID] = call

	// The guarded transition matches nothing once the call is ACTIVE.
	mock.ExpectExec("UPDATE calls").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	cm.ringTimedOut(call.ID)

	var declined protocol.CallUpdate
	assert.False(t, rec.find(t, protocol.EventCallDeclined, &declined))

	// The call survives; it is still live.
	cm.mu.Lock()
	_, stillLive := cm.live[call.ID]
	cm.mu.Unlock()
	assert.True(t, stillLive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleUserOfflineEndsLiveCalls(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	registry := hub.NewRegistry()
	rec := &recorder{}
	registry.Register("usr_2", "conn_2", rec)
	registry.Join("conn_2", hub.ConversationRoom("conv_1"))

	cm := NewCallManager(store.New(mock), registry, nil)
	now := time.Now().UTC()
	callee := "usr_2"
	call := &domain.Call{
		ID:             "call_1",
		ConversationID: "conv_1",
		CallerID:       "usr_1",
		CalleeID:       &callee,
		Status:         domain.CallStatusActive,
		StartedAt:      &now,
	}
	cm.live[call.ID] = call

	mock.ExpectExec("UPDATE calls").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT .+ FROM calls").
		WithArgs("call_1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "conversation_id", "caller_id", "callee_id", "type", "status",
			"started_at", "ended_at", "duration", "created_at",
		}).AddRow("call_1", "conv_1", "usr_1", &callee, domain.CallAudio,
			domain.CallStatusEnded, &now, &now, 42, now))

	cm.HandleUserOffline(t.Context(), "usr_1")

	var ended protocol.CallUpdate
	require.True(t, rec.find(t, protocol.EventCallEnded, &ended))
	assert.Equal(t, domain.CallStatusEnded, ended.Call.Status)
	assert.Equal(t, 42, ended.Call.Duration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleUserOfflineCancelsOwnRing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	registry := hub.NewRegistry()
	rec := &recorder{}
	registry.Register("usr_2", "conn_2", rec)
	registry.Join("conn_2", hub.ConversationRoom("conv_1"))

	cm := NewCallManager(store.New(mock), registry, nil)
	callee := "usr_2"
	call := &domain.Call{
		ID:             "call_1",
		ConversationID: "conv_1",
		CallerID:       "usr_1",
		CalleeID:       &callee,
		Status:         domain.CallStatusRinging,
	}
	cm.live[call.ID] = call

	mock.ExpectExec("UPDATE calls").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	// The caller dropped before anyone answered: the ring is withdrawn.
	cm.HandleUserOffline(t.Context(), "usr_1")

	var cancelled protocol.CallUpdate
	require.True(t, rec.find(t, protocol.EventCallCancelled, &cancelled))
	assert.Equal(t, domain.CallStatusCancelled, cancelled.Call.Status)
	var ended protocol.CallUpdate
	assert.False(t, rec.find(t, protocol.EventCallEnded, &ended))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleUserOfflineLeavesRingForCallee(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	registry := hub.NewRegistry()
	rec := &recorder{}
	registry.Register("usr_1", "conn_1", rec)
	registry.Join("conn_1", hub.ConversationRoom("conv_1"))

	cm := NewCallManager(store.New(mock), registry, nil)
	callee := "usr_2"
	call := &domain.Call{
		ID:             "call_1",
		ConversationID: "conv_1",
		CallerID:       "usr_1",
		CalleeID:       &callee,
		Status:         domain.CallStatusRinging,
	}
	cm.live[call.ID] = call

	// The callee going offline resolves nothing; the ring timer owns
	// the timeout.
	cm.HandleUserOffline(t.Context(), "usr_2")

	var update protocol.CallUpdate
	assert.False(t, rec.find(t, protocol.EventCallCancelled, &update))
	assert.False(t, rec.find(t, protocol.EventCallEnded, &update))

	cm.mu.Lock()
	_, stillLive := cm.live[call.ID]
	cm.mu.Unlock()
	assert.True(t, stillLive)
	assert.NoError(t, mock.ExpectationsWereMet())
}
