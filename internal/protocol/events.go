// Package protocol defines the realtime wire protocol: the closed
// inbound and outbound event catalogs and the JSON envelope codec.
package protocol

// Inbound events, sent by clients. The catalog is closed: anything
// else fails DecodeEnvelope.
const (
	EventJoinConversation   = "join-conversation"
	EventLeaveConversation  = "leave-conversation"
	EventSendMessage        = "send-message"
	EventEditMessage        = "edit-message"
	EventDeleteMessage      = "delete-message"
	EventReact              = "react"
	EventMessageRead        = "message-read"
	EventTypingStart        = "typing-start"
	EventTypingStop         = "typing-stop"
	EventRegenerateResponse = "regenerate-response"
	EventStopGeneration     = "stop-generation"
	EventCallInitiate       = "call-initiate"
	EventCallAccept         = "call-accept"
	EventCallReject         = "call-reject"
	EventCallCancel         = "call-cancel"
	EventCallEnd            = "call-end"
	EventWebRTCOffer        = "webrtc-offer"
	EventWebRTCAnswer       = "webrtc-answer"
	EventWebRTCIce          = "webrtc-ice"
	EventWebRTCIceRestart   = "webrtc-ice-restart"
)

// Outbound events, emitted by the server. Disjoint from the inbound set.
const (
	EventNewMessage             = "new-message"
	EventMessageUpdated         = "message-updated"
	EventMessageDeleted         = "message-deleted"
	EventMessageReactionUpdated = "message-reaction-updated"
	EventMessageStatusUpdate    = "message-status-update"
	EventTyping                 = "typing"
	EventConversationUpdated    = "conversation-updated"
	EventGroupUpdated           = "group-updated"
	EventGroupMemberAdded       = "group-member-added"
	EventGroupMemberRemoved     = "group-member-removed"
	EventAIStreamStart          = "ai-stream-start"
	EventAIStreamChunk          = "ai-stream-chunk"
	EventAIStreamEnd            = "ai-stream-end"
	EventAIStreamError          = "ai-stream-error"
	EventUserOnline             = "user-online"
	EventUserOffline            = "user-offline"
	EventPeerLeft               = "peer-left"
	EventIncomingCall           = "incoming-call"
	EventCallAccepted           = "call-accepted"
	EventCallDeclined           = "call-declined"
	EventCallCancelled          = "call-cancelled"
	EventCallEnded              = "call-ended"
	EventWebRTCIceRestartAck    = "webrtc-ice-restart-ack"
	EventNewNotification        = "new-notification"
	EventError                  = "error"
)

var inboundEvents = map[string]struct{}{
	EventJoinConversation:   {},
	EventLeaveConversation:  {},
	EventSendMessage:        {},
	EventEditMessage:        {},
	EventDeleteMessage:      {},
	EventReact:              {},
	EventMessageRead:        {},
	EventTypingStart:        {},
	EventTypingStop:         {},
	EventRegenerateResponse: {},
	EventStopGeneration:     {},
	EventCallInitiate:       {},
	EventCallAccept:         {},
	EventCallReject:         {},
	EventCallCancel:         {},
	EventCallEnd:            {},
	EventWebRTCOffer:        {},
	EventWebRTCAnswer:       {},
	EventWebRTCIce:          {},
	EventWebRTCIceRestart:   {},
}

// KnownInbound reports whether event is in the inbound catalog.
func KnownInbound(event string) bool {
	_, ok := inboundEvents[event]
	return ok
}
