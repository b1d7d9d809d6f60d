// Package ws owns the realtime sessions: handshake auth, the
// per-connection dispatch loop, chat and call handlers, and the
// WebRTC signaling relay.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ripplechat/ripple/internal/ai"
	"github.com/ripplechat/ripple/internal/auth"
	"github.com/ripplechat/ripple/internal/config"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/id"
	"github.com/ripplechat/ripple/internal/kv"
	"github.com/ripplechat/ripple/internal/metrics"
	"github.com/ripplechat/ripple/internal/notify"
	"github.com/ripplechat/ripple/internal/protocol"
	"github.com/ripplechat/ripple/internal/store"
)

const (
	WriteTimeout = 10 * time.Second
	// PersistTimeout bounds every persistence call made by a handler.
	PersistTimeout = 5 * time.Second

	// EventsPerMinute is the per-connection inbound budget.
	EventsPerMinute = 100
)

// Session is one live websocket connection. Writes are serialized;
// hub broadcasts and the handler loop share the same Send path.
type Session struct {
	id     string
	userID string

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *Session) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) sendEvent(event string, data any) {
	payload, err := protocol.Encode(event, data)
	if err != nil {
		slog.Error("ws: encode error", "error", err, "event", event)
		return
	}
	if err := s.Send(payload); err != nil {
		slog.Warn("ws: send error", "error", err, "connection_id", s.id)
	}
}

func (s *Session) sendError(message string) {
	s.sendEvent(protocol.EventError, protocol.ErrorEvent{Message: message})
}

type Handler struct {
	cfg      *config.Config
	auth     *auth.Service
	store    *store.Store
	kv       *kv.KV
	registry *hub.Registry
	ai       *ai.Coordinator
	calls    *CallManager
	notifier *notify.Service
	upgrader websocket.Upgrader
}

func NewHandler(cfg *config.Config, authSvc *auth.Service, st *store.Store, kvs *kv.KV, registry *hub.Registry, coordinator *ai.Coordinator, calls *CallManager, notifier *notify.Service) *Handler {
	h := &Handler{
		cfg:      cfg,
		auth:     authSvc,
		store:    st,
		kv:       kvs,
		registry: registry,
		ai:       coordinator,
		calls:    calls,
		notifier: notifier,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates the handshake, upgrades, and runs the
// connection's serial read loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if bearer := r.Header.Get("Authorization"); len(bearer) > 7 && bearer[:7] == "Bearer " {
			token = bearer[7:]
		}
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := h.auth.VerifyAccess(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade error", "error", err)
		return
	}
	defer conn.Close()

	session := &Session{id: id.NewConnection(), userID: userID, conn: conn}
	h.connect(session)
	defer h.disconnect(session)

	limiter := rate.NewLimiter(rate.Limit(float64(EventsPerMinute)/60.0), EventsPerMinute)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("ws: read error", "error", err, "connection_id", session.id)
			}
			return
		}

		if !limiter.Allow() {
			metrics.EventsDropped.Inc()
			session.sendError("rate limit exceeded")
			continue
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			metrics.EventsDropped.Inc()
			slog.Warn("ws: decode error", "error", err, "connection_id", session.id)
			continue
		}

		// One event at a time per connection; processing finishes even
		// if the client disconnects mid-handler.
		h.dispatch(session, env)
	}
}

func (h *Handler) connect(s *Session) {
	first := h.registry.Register(s.userID, s.id, s)
	if !first {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), PersistTimeout)
	defer cancel()
	if err := h.kv.SetOnline(ctx, s.userID); err != nil {
		slog.Error("ws: set online marker error", "error", err, "user_id", s.userID)
	}
	if err := h.store.SetUserOnline(ctx, s.userID, true); err != nil {
		slog.Error("ws: persist online error", "error", err, "user_id", s.userID)
	}
	h.registry.BroadcastAll(protocol.EventUserOnline, protocol.UserPresence{UserID: s.userID})
}

func (h *Handler) disconnect(s *Session) {
	userID, rooms, last := h.registry.Unregister(s.id)
	if userID == "" {
		return
	}

	for _, room := range rooms {
		h.registry.Broadcast(room, protocol.EventPeerLeft, protocol.PeerLeft{
			Room: room, ConnID: s.id, UserID: userID,
		})
	}

	// Every disconnect can orphan a generation: the user may still be
	// online on another device that never joined the conversation.
	h.ai.HandleDisconnect(userID)

	if !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), PersistTimeout)
	defer cancel()

	now := time.Now().UTC()
	if err := h.kv.SetOffline(ctx, userID); err != nil {
		slog.Error("ws: clear online marker error", "error", err, "user_id", userID)
	}
	if err := h.store.SetUserOnline(ctx, userID, false); err != nil {
		slog.Error("ws: persist offline error", "error", err, "user_id", userID)
	}
	h.registry.BroadcastAll(protocol.EventUserOffline, protocol.UserPresence{
		UserID:     userID,
		LastSeenAt: now.Format(time.RFC3339),
	})

	h.calls.HandleUserOffline(ctx, userID)
}
