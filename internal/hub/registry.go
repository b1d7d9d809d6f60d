// Package hub tracks live connections, their owners and their rooms,
// and fans events out to rooms.
package hub

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ripplechat/ripple/internal/metrics"
	"github.com/ripplechat/ripple/internal/protocol"
)

// Sender is the write side of a connection. Implementations apply
// their own write deadlines.
type Sender interface {
	Send(data []byte) error
}

// ConversationRoom names the fan-out group for a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// UserRoom names the per-user group used for presence, notifications
// and incoming-call rings.
func UserRoom(userID string) string {
	return "user:" + userID
}

type connection struct {
	id     string
	userID string
	sender Sender
	rooms  map[string]struct{}
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	users map[string]map[string]struct{}
	rooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*connection),
		users: make(map[string]map[string]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register adds a connection and auto-joins the owner's user room.
// Returns true when this is the user's first live connection, which is
// the online edge.
func (r *Registry) Register(userID, connID string, sender Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &connection{id: connID, userID: userID, sender: sender, rooms: make(map[string]struct{})}
	r.conns[connID] = c

	first := len(r.users[userID]) == 0
	if r.users[userID] == nil {
		r.users[userID] = make(map[string]struct{})
	}
	r.users[userID][connID] = struct{}{}

	r.joinLocked(c, UserRoom(userID))

	metrics.ConnectionsActive.Set(float64(len(r.conns)))
	if first {
		metrics.UsersOnline.Inc()
	}
	slog.Info("hub: registered", "user_id", userID, "connection_id", connID, "devices", len(r.users[userID]))
	return first
}

// Unregister removes a connection from every room. It returns the
// owner, the rooms the connection was in, and whether the owner's set
// emptied (the offline edge).
func (r *Registry) Unregister(connID string) (userID string, rooms []string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return "", nil, false
	}

	for room := range c.rooms {
		rooms = append(rooms, room)
		r.leaveLocked(c, room)
	}
	delete(r.conns, connID)

	userID = c.userID
	delete(r.users[userID], connID)
	if len(r.users[userID]) == 0 {
		delete(r.users, userID)
		last = true
		metrics.UsersOnline.Dec()
	}

	metrics.ConnectionsActive.Set(float64(len(r.conns)))
	slog.Info("hub: unregistered", "user_id", userID, "connection_id", connID, "last", last)
	return userID, rooms, last
}

func (r *Registry) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		r.joinLocked(c, room)
	}
}

func (r *Registry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		r.leaveLocked(c, room)
	}
}

func (r *Registry) joinLocked(c *connection, room string) {
	c.rooms[room] = struct{}{}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][c.id] = struct{}{}
}

func (r *Registry) leaveLocked(c *connection, room string) {
	delete(c.rooms, room)
	if members, ok := r.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// ConnectionsOf returns the user's live connection ids.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		ids = append(ids, id)
	}
	return ids
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// UserOf maps a connection back to its owner.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return c.userID, true
}

// InRoom reports whether the connection is currently joined to room.
func (r *Registry) InRoom(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, in := c.rooms[room]
	return in
}

// RoomMembers returns the connection ids currently joined to room.
func (r *Registry) RoomMembers(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

// UserInRoom reports whether any of the user's connections is joined
// to room. Decides whether a disconnect orphans an AI generation.
func (r *Registry) UserInRoom(userID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID := range r.users[userID] {
		if c, ok := r.conns[connID]; ok {
			if _, in := c.rooms[room]; in {
				return true
			}
		}
	}
	return false
}

// Broadcast encodes the event once and sends it to every connection in
// the room. Snapshot first, write outside the lock.
func (r *Registry) Broadcast(room, event string, data any) {
	r.BroadcastExcept(room, "", event, data)
}

// BroadcastExcept is Broadcast minus one connection, used for typing
// and peer-left events that exclude their originator.
func (r *Registry) BroadcastExcept(room, exceptConnID, event string, data any) {
	payload, err := protocol.Encode(event, data)
	if err != nil {
		slog.Error("hub: encode broadcast error", "error", err, "event", event)
		return
	}

	r.mu.RLock()
	targets := make([]*connection, 0, len(r.rooms[room]))
	for connID := range r.rooms[room] {
		if connID == exceptConnID {
			continue
		}
		if c, ok := r.conns[connID]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	metrics.BroadcastsTotal.WithLabelValues(event).Inc()
	for _, c := range targets {
		if err := c.sender.Send(payload); err != nil {
			slog.Warn("hub: broadcast error (client likely disconnected)", "error", err, "room", room, "connection_id", c.id)
		}
	}
}

// SendTo delivers one event to one connection.
func (r *Registry) SendTo(connID, event string, data any) error {
	payload, err := protocol.Encode(event, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: connection gone", connID)
	}
	return c.sender.Send(payload)
}

// BroadcastAll sends to every live connection; presence transitions use
// this.
func (r *Registry) BroadcastAll(event string, data any) {
	payload, err := protocol.Encode(event, data)
	if err != nil {
		slog.Error("hub: encode broadcast error", "error", err, "event", event)
		return
	}

	r.mu.RLock()
	targets := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	metrics.BroadcastsTotal.WithLabelValues(event).Inc()
	for _, c := range targets {
		if err := c.sender.Send(payload); err != nil {
			slog.Warn("hub: broadcast error (client likely disconnected)", "error", err, "connection_id", c.id)
		}
	}
}
