package hub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/protocol"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSender) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSender) events(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []string
	for _, frame := range f.frames {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		events = append(events, env.Event)
	}
	return events
}

func TestMultiDevicePresenceEdges(t *testing.T) {
	r := NewRegistry()

	// First device produces the online edge.
	first := r.Register("usr_1", "conn_a", &fakeSender{})
	assert.True(t, first)
	assert.True(t, r.IsOnline("usr_1"))

	// Second device does not.
	first = r.Register("usr_1", "conn_b", &fakeSender{})
	assert.False(t, first)
	assert.Len(t, r.ConnectionsOf("usr_1"), 2)

	// Dropping one device keeps the user online.
	_, _, last := r.Unregister("conn_a")
	assert.False(t, last)
	assert.True(t, r.IsOnline("usr_1"))

	// Dropping the final device is the offline edge.
	userID, _, last := r.Unregister("conn_b")
	assert.True(t, last)
	assert.Equal(t, "usr_1", userID)
	assert.False(t, r.IsOnline("usr_1"))
}

func TestRegisterAutoJoinsUserRoom(t *testing.T) {
	r := NewRegistry()
	s := &fakeSender{}
	r.Register("usr_1", "conn_a", s)

	assert.True(t, r.InRoom("conn_a", UserRoom("usr_1")))

	r.Broadcast(UserRoom("usr_1"), protocol.EventNewNotification, map[string]string{"x": "y"})
	assert.Equal(t, []string{protocol.EventNewNotification}, s.events(t))
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeSender{}, &fakeSender{}
	r.Register("usr_1", "conn_a", a)
	r.Register("usr_2", "conn_b", b)

	room := ConversationRoom("conv_1")
	r.Join("conn_a", room)
	r.Join("conn_b", room)

	r.BroadcastExcept(room, "conn_a", protocol.EventTyping, protocol.TypingUpdate{
		ConversationID: "conv_1", UserID: "usr_1", IsTyping: true,
	})

	assert.Empty(t, a.events(t))
	assert.Equal(t, []string{protocol.EventTyping}, b.events(t))
}

func TestUnregisterReportsRooms(t *testing.T) {
	r := NewRegistry()
	r.Register("usr_1", "conn_a", &fakeSender{})
	room := ConversationRoom("conv_1")
	r.Join("conn_a", room)

	_, rooms, _ := r.Unregister("conn_a")
	assert.ElementsMatch(t, []string{room, UserRoom("usr_1")}, rooms)
	assert.Empty(t, r.RoomMembers(room))
}

func TestUserInRoom(t *testing.T) {
	r := NewRegistry()
	r.Register("usr_1", "conn_a", &fakeSender{})
	r.Register("usr_1", "conn_b", &fakeSender{})
	room := ConversationRoom("conv_1")
	r.Join("conn_b", room)

	assert.True(t, r.UserInRoom("usr_1", room))

	r.Unregister("conn_b")
	assert.False(t, r.UserInRoom("usr_1", room))
}

func TestSendToUnknownConnection(t *testing.T) {
	r := NewRegistry()
	err := r.SendTo("conn_missing", protocol.EventError, protocol.ErrorEvent{Message: "x"})
	assert.Error(t, err)
}
