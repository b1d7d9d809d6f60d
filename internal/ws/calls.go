package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/id"
	"github.com/ripplechat/ripple/internal/metrics"
	"github.com/ripplechat/ripple/internal/notify"
	"github.com/ripplechat/ripple/internal/protocol"
	"github.com/ripplechat/ripple/internal/store"
)

// RingTimeout is how long a call rings before auto-rejecting.
const RingTimeout = 30 * time.Second

// CallManager drives the call lifecycle. The store guards the
// at-most-one-live-call invariant; the manager tracks live calls and
// ring timers and fans out transitions.
type CallManager struct {
	store    *store.Store
	registry *hub.Registry
	notifier *notify.Service

	ringTimeout time.Duration

	mu     sync.Mutex
	live   map[string]*domain.Call // callID -> call, non-terminal only
	timers map[string]*time.Timer  // callID -> ring timer
}

func NewCallManager(st *store.Store, registry *hub.Registry, notifier *notify.Service) *CallManager {
	return &CallManager{
		store:       st,
		registry:    registry,
		notifier:    notifier,
		ringTimeout: RingTimeout,
		live:        make(map[string]*domain.Call),
		timers:      make(map[string]*time.Timer),
	}
}

func (cm *CallManager) HandleInitiate(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.CallInitiate](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}
	if req.Type != domain.CallAudio && req.Type != domain.CallVideo {
		s.sendError("invalid call type")
		return
	}

	callerOK, err := cm.store.IsMember(ctx, req.ConversationID, s.userID)
	if err != nil || !callerOK {
		s.sendError("Conversation not found")
		return
	}

	var calleeID *string
	if req.CalleeID != "" {
		calleeOK, err := cm.store.IsMember(ctx, req.ConversationID, req.CalleeID)
		if err != nil || !calleeOK {
			s.sendError("Conversation not found")
			return
		}
		calleeID = &req.CalleeID
	}

	call := &domain.Call{
		ID:             id.NewCall(),
		ConversationID: req.ConversationID,
		CallerID:       s.userID,
		CalleeID:       calleeID,
		Type:           req.Type,
	}
	if err := cm.store.CreateCall(ctx, call); err != nil {
		s.sendError(domain.UserMessage(err))
		return
	}

	caller, err := cm.store.GetUser(ctx, s.userID)
	if err != nil {
		slog.Error("ws: load caller error", "error", err, "user_id", s.userID)
	}

	cm.mu.Lock()
	cm.live[call.ID] = call
	cm.timers[call.ID] = time.AfterFunc(cm.ringTimeout, func() { cm.ringTimedOut(call.ID) })
	cm.mu.Unlock()

	ring := protocol.IncomingCall{Call: call, Caller: caller}
	if calleeID != nil {
		cm.registry.Broadcast(hub.UserRoom(*calleeID), protocol.EventIncomingCall, ring)
	}
	cm.registry.Broadcast(hub.ConversationRoom(call.ConversationID), protocol.EventIncomingCall, ring)
	slog.Info("ws: call initiated", "call_id", call.ID, "conversation_id", call.ConversationID, "type", call.Type)
}

// ringTimedOut fires when nobody answered: the call is rejected with
// no declinedBy, and the callee gets a missed-call notification.
func (cm *CallManager) ringTimedOut(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), PersistTimeout)
	defer cancel()

	cm.mu.Lock()
	call, ok := cm.live[callID]
	cm.mu.Unlock()
	if !ok {
		return
	}

	moved, err := cm.store.FinishRinging(ctx, callID, domain.CallStatusRejected)
	if err != nil {
		slog.Error("ws: ring timeout transition error", "error", err, "call_id", callID)
		return
	}
	if !moved {
		return
	}
	cm.drop(callID)

	call.Status = domain.CallStatusRejected
	metrics.CallsTotal.WithLabelValues(domain.CallStatusRejected).Inc()
	cm.registry.Broadcast(hub.ConversationRoom(call.ConversationID), protocol.EventCallDeclined,
		protocol.CallUpdate{Call: call})

	if call.CalleeID != nil {
		var callerName string
		if caller, err := cm.store.GetUser(ctx, call.CallerID); err == nil {
			callerName = caller.Name
		}
		cm.notifier.NotifyAsync(ctx, notify.CallMissed(*call.CalleeID, callerName, call.ConversationID, call.ID))
	}
	slog.Info("ws: call ring timed out", "call_id", callID)
}

func (cm *CallManager) HandleAccept(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.CallAction](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}

	call, err := cm.store.GetCall(ctx, req.CallID)
	if err != nil {
		s.sendError("Call not found")
		return
	}
	if call.CalleeID == nil || *call.CalleeID != s.userID {
		s.sendError("only the callee can accept")
		return
	}

	moved, err := cm.store.AcceptCall(ctx, call.ID)
	if err != nil {
		slog.Error("ws: accept call error", "error", err, "call_id", call.ID)
		s.sendError("failed to accept call")
		return
	}
	if !moved {
		s.sendError("call is not ringing")
		return
	}
	cm.stopTimer(call.ID)

	now := time.Now().UTC()
	call.Status = domain.CallStatusActive
	call.StartedAt = &now
	cm.mu.Lock()
	cm.live[call.ID] = call
	cm.mu.Unlock()

	cm.registry.Broadcast(hub.ConversationRoom(call.ConversationID), protocol.EventCallAccepted,
		protocol.CallUpdate{Call: call})
}

func (cm *CallManager) HandleReject(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.CallAction](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}

	call, err := cm.store.GetCall(ctx, req.CallID)
	if err != nil {
		s.sendError("Call not found")
		return
	}
	if !cm.isParticipant(call, s.userID) {
		s.sendError("you are not part of this call")
		return
	}

	moved, err := cm.store.FinishRinging(ctx, call.ID, domain.CallStatusRejected)
	if err != nil {
		slog.Error("ws: reject call error", "error", err, "call_id", call.ID)
		s.sendError("failed to reject call")
		return
	}
	if !moved {
		s.sendError("call is not ringing")
		return
	}
	cm.drop(call.ID)

	call.Status = domain.CallStatusRejected
	metrics.CallsTotal.WithLabelValues(domain.CallStatusRejected).Inc()
	cm.registry.Broadcast(hub.ConversationRoom(call.ConversationID), protocol.EventCallDeclined,
		protocol.CallUpdate{Call: call, DeclinedBy: s.userID})
}

func (cm *CallManager) HandleCancel(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.CallAction](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}

	call, err := cm.store.GetCall(ctx, req.CallID)
	if err != nil {
		s.sendError("Call not found")
		return
	}
	if call.CallerID != s.userID {
		s.sendError("only the caller can cancel")
		return
	}

	moved, err := cm.store.FinishRinging(ctx, call.ID, domain.CallStatusCancelled)
	if err != nil {
		slog.Error("ws: cancel call error", "error", err, "call_id", call.ID)
		s.sendError("failed to cancel call")
		return
	}
	if !moved {
		s.sendError("call is not ringing")
		return
	}
	cm.drop(call.ID)

	call.Status = domain.CallStatusCancelled
	metrics.CallsTotal.WithLabelValues(domain.CallStatusCancelled).Inc()
	cm.registry.Broadcast(hub.ConversationRoom(call.ConversationID), protocol.EventCallCancelled,
		protocol.CallUpdate{Call: call})
}

func (cm *CallManager) HandleEnd(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.CallAction](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}

	call, err := cm.store.GetCall(ctx, req.CallID)
	if err != nil {
		s.sendError("Call not found")
		return
	}
	if !cm.isParticipant(call, s.userID) {
		s.sendError("you are not part of this call")
		return
	}

	cm.endCall(ctx, call)
}

// endCall terminates any non-terminal call and broadcasts call-ended.
func (cm *CallManager) endCall(ctx context.Context, call *domain.Call) {
	moved, err := cm.store.EndCall(ctx, call.ID)
	if err != nil {
		slog.Error("ws: end call error", "error", err, "call_id", call.ID)
		return
	}
	if !moved {
		return
	}
	cm.drop(call.ID)

	ended, err := cm.store.GetCall(ctx, call.ID)
	if err != nil {
		ended = call
		ended.Status = domain.CallStatusEnded
	}
	metrics.CallsTotal.WithLabelValues(domain.CallStatusEnded).Inc()
	cm.registry.Broadcast(hub.ConversationRoom(call.ConversationID), protocol.EventCallEnded,
		protocol.CallUpdate{Call: ended})
	slog.Info("ws: call ended", "call_id", call.ID, "duration", ended.Duration)
}

// HandleUserOffline resolves the user's live calls when their last
// connection is gone. A ringing call the caller walked away from is
// withdrawn as CANCELLED, not ENDED; a ringing callee going offline is
// left to the ring timer. ACTIVE calls end either way.
func (cm *CallManager) HandleUserOffline(ctx context.Context, userID string) {
	cm.mu.Lock()
	var affected []*domain.Call
	for _, call := range cm.live {
		if cm.isParticipant(call, userID) {
			affected = append(affected, call)
		}
	}
	cm.mu.Unlock()

	for _, call := range affected {
		if call.Status == domain.CallStatusRinging {
			if call.CallerID == userID {
				slog.Info("ws: caller disconnected, cancelling ring", "call_id", call.ID, "user_id", userID)
				cm.cancelRinging(ctx, call)
			}
			continue
		}
		slog.Info("ws: participant disconnected, ending call", "call_id", call.ID, "user_id", userID)
		cm.endCall(ctx, call)
	}
}

// cancelRinging withdraws a ringing call on the caller's behalf.
func (cm *CallManager) cancelRinging(ctx context.Context, call *domain.Call) {
	moved, err := cm.store.FinishRinging(ctx, call.ID, domain.CallStatusCancelled)
	if err != nil {
		slog.Error("ws: cancel call error", "error", err, "call_id", call.ID)
		return
	}
	if !moved {
		return
	}
	cm.drop(call.ID)

	call.Status = domain.CallStatusCancelled
	metrics.CallsTotal.WithLabelValues(domain.CallStatusCancelled).Inc()
	cm.registry.Broadcast(hub.ConversationRoom(call.ConversationID), protocol.EventCallCancelled,
		protocol.CallUpdate{Call: call})
}

// HandleSignal relays an opaque WebRTC payload to its target
// connection, tagged with the sender. Payloads are never inspected.
func (cm *CallManager) HandleSignal(s *Session, env *protocol.Envelope) {
	sig, err := protocol.DecodeData[protocol.Signal](env)
	if err != nil || sig.TargetConnID == "" {
		s.sendError("invalid payload")
		return
	}

	cm.mu.Lock()
	call, ok := cm.live[sig.CallID]
	cm.mu.Unlock()
	if !ok {
		s.sendError("call is not active")
		return
	}

	// Both ends must be in the call's conversation room.
	room := hub.ConversationRoom(call.ConversationID)
	if !cm.registry.InRoom(s.id, room) || !cm.registry.InRoom(sig.TargetConnID, room) {
		s.sendError("call is not active")
		return
	}

	relay := protocol.SignalRelay{
		CallID:       sig.CallID,
		SenderConnID: s.id,
		Payload:      sig.Payload,
	}
	if err := cm.registry.SendTo(sig.TargetConnID, env.Event, relay); err != nil {
		slog.Warn("ws: signal relay error", "error", err, "call_id", sig.CallID)
		s.sendError("peer is not reachable")
		return
	}

	// ICE restarts are acknowledged back to the sender.
	if env.Event == protocol.EventWebRTCIceRestart {
		s.sendEvent(protocol.EventWebRTCIceRestartAck, protocol.IceRestartAck{
			CallID:       sig.CallID,
			TargetConnID: sig.TargetConnID,
		})
	}
}

func (cm *CallManager) isParticipant(call *domain.Call, userID string) bool {
	if call.CallerID == userID {
		return true
	}
	return call.CalleeID != nil && *call.CalleeID == userID
}

func (cm *CallManager) stopTimer(callID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if t, ok := cm.timers[callID]; ok {
		t.Stop()
		delete(cm.timers, callID)
	}
}

// drop forgets a call that reached a terminal state.
func (cm *CallManager) drop(callID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if t, ok := cm.timers[callID]; ok {
		t.Stop()
		delete(cm.timers, callID)
	}
	delete(cm.live, callID)
}
