package ws

import (
	"context"
	"log/slog"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/metrics"
	"github.com/ripplechat/ripple/internal/protocol"
)

// dispatch routes one inbound event. Unknown events never reach here;
// DecodeEnvelope already dropped them.
func (h *Handler) dispatch(s *Session, env *protocol.Envelope) {
	metrics.EventsInbound.WithLabelValues(env.Event).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), PersistTimeout)
	defer cancel()

	switch env.Event {
	case protocol.EventJoinConversation:
		h.handleJoin(ctx, s, env)
	case protocol.EventLeaveConversation:
		h.handleLeave(s, env)
	case protocol.EventSendMessage:
		h.handleSendMessage(ctx, s, env)
	case protocol.EventEditMessage:
		h.handleEditMessage(ctx, s, env)
	case protocol.EventDeleteMessage:
		h.handleDeleteMessage(ctx, s, env)
	case protocol.EventReact:
		h.handleReact(ctx, s, env)
	case protocol.EventMessageRead:
		h.handleMessageRead(ctx, s, env)
	case protocol.EventTypingStart:
		h.handleTyping(ctx, s, env, true)
	case protocol.EventTypingStop:
		h.handleTyping(ctx, s, env, false)
	case protocol.EventRegenerateResponse:
		h.handleRegenerate(ctx, s, env)
	case protocol.EventStopGeneration:
		h.handleStopGeneration(ctx, s, env)
	case protocol.EventCallInitiate:
		h.calls.HandleInitiate(ctx, s, env)
	case protocol.EventCallAccept:
		h.calls.HandleAccept(ctx, s, env)
	case protocol.EventCallReject:
		h.calls.HandleReject(ctx, s, env)
	case protocol.EventCallCancel:
		h.calls.HandleCancel(ctx, s, env)
	case protocol.EventCallEnd:
		h.calls.HandleEnd(ctx, s, env)
	case protocol.EventWebRTCOffer, protocol.EventWebRTCAnswer, protocol.EventWebRTCIce, protocol.EventWebRTCIceRestart:
		h.calls.HandleSignal(s, env)
	}
}

// requireMember collapses "no such conversation" and "not a member"
// into one failure mode on purpose.
func (h *Handler) requireMember(ctx context.Context, s *Session, conversationID string) bool {
	if conversationID == "" {
		s.sendError("Conversation not found")
		return false
	}
	ok, err := h.store.IsMember(ctx, conversationID, s.userID)
	if err != nil {
		slog.Error("ws: membership check error", "error", err, "conversation_id", conversationID)
		s.sendError("Conversation not found")
		return false
	}
	if !ok {
		s.sendError("Conversation not found")
		return false
	}
	return true
}

func (h *Handler) handleJoin(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.JoinConversation](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}
	if !h.requireMember(ctx, s, req.ConversationID) {
		return
	}
	h.registry.Join(s.id, hub.ConversationRoom(req.ConversationID))
	slog.Info("ws: joined", "conversation_id", req.ConversationID, "connection_id", s.id)
}

func (h *Handler) handleLeave(s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.LeaveConversation](env)
	if err != nil || req.ConversationID == "" {
		return
	}
	room := hub.ConversationRoom(req.ConversationID)
	h.registry.Leave(s.id, room)
	h.registry.Broadcast(room, protocol.EventPeerLeft, protocol.PeerLeft{
		Room: room, ConnID: s.id, UserID: s.userID,
	})
}

func (h *Handler) handleTyping(ctx context.Context, s *Session, env *protocol.Envelope, isTyping bool) {
	req, err := protocol.DecodeData[protocol.Typing](env)
	if err != nil {
		return
	}
	if !h.requireMember(ctx, s, req.ConversationID) {
		return
	}
	h.registry.BroadcastExcept(hub.ConversationRoom(req.ConversationID), s.id,
		protocol.EventTyping, protocol.TypingUpdate{
			ConversationID: req.ConversationID,
			UserID:         s.userID,
			IsTyping:       isTyping,
		})
}

func (h *Handler) handleRegenerate(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.RegenerateResponse](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}
	conv, err := h.store.GetConversationForMember(ctx, req.ConversationID, s.userID)
	if err != nil {
		s.sendError("Conversation not found")
		return
	}
	if err := h.ai.Regenerate(ctx, conv.ID, conv.SystemPrompt, s.userID); err != nil {
		s.sendError(domain.UserMessage(err))
	}
}

func (h *Handler) handleStopGeneration(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.StopGeneration](env)
	if err != nil {
		return
	}
	if !h.requireMember(ctx, s, req.ConversationID) {
		return
	}
	h.ai.Stop(req.ConversationID)
}
