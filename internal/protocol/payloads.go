package protocol

import (
	"encoding/json"

	"github.com/ripplechat/ripple/internal/domain"
)

// Inbound payloads.

type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

type LeaveConversation struct {
	ConversationID string `json:"conversationId"`
}

type SendMessage struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Type           string             `json:"type,omitempty"`
	ReplyToID      *string            `json:"replyToId,omitempty"`
	Attachments    []AttachmentUpload `json:"attachments,omitempty"`
}

type AttachmentUpload struct {
	FileURL      string `json:"fileUrl"`
	FileName     string `json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	MimeType     string `json:"mimeType"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

type EditMessage struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	MessageID string `json:"messageId"`
}

type React struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type MessageRead struct {
	ConversationID string `json:"conversationId"`
}

type Typing struct {
	ConversationID string `json:"conversationId"`
}

type RegenerateResponse struct {
	ConversationID string `json:"conversationId"`
}

type StopGeneration struct {
	ConversationID string `json:"conversationId"`
}

type CallInitiate struct {
	ConversationID string `json:"conversationId"`
	CalleeID       string `json:"calleeId,omitempty"`
	Type           string `json:"type"`
}

type CallAction struct {
	CallID string `json:"callId"`
}

// Signal carries an opaque WebRTC payload to a target connection. The
// server never looks inside Payload.
type Signal struct {
	CallID       string          `json:"callId"`
	TargetConnID string          `json:"targetConnectionId"`
	Payload      json.RawMessage `json:"payload"`
}

// Outbound payloads.

type NewMessage struct {
	Message *domain.Message `json:"message"`
}

type MessageUpdated struct {
	Message *domain.Message `json:"message"`
}

type MessageDeleted struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type MessageReactionUpdated struct {
	ConversationID string             `json:"conversationId"`
	MessageID      string             `json:"messageId"`
	Reactions      []*domain.Reaction `json:"reactions"`
}

// MessageStatusUpdate with MessageID "" means every message in the
// conversation.
type MessageStatusUpdate struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Status         string `json:"status"`
	UserID         string `json:"userId"`
}

type TypingUpdate struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type ConversationUpdated struct {
	Conversation *domain.Conversation `json:"conversation"`
}

type GroupUpdated struct {
	Conversation *domain.Conversation `json:"conversation"`
}

type GroupMemberAdded struct {
	ConversationID string         `json:"conversationId"`
	Member         *domain.Member `json:"member"`
}

type GroupMemberRemoved struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type AIStreamStart struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type AIStreamChunk struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Chunk          string `json:"chunk"`
}

type AIStreamEnd struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	FullContent    string `json:"fullContent"`
}

type AIStreamError struct {
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

type UserPresence struct {
	UserID     string `json:"userId"`
	LastSeenAt string `json:"lastSeenAt,omitempty"`
}

type PeerLeft struct {
	Room   string `json:"room"`
	ConnID string `json:"connectionId"`
	UserID string `json:"userId"`
}

type IncomingCall struct {
	Call   *domain.Call `json:"call"`
	Caller *domain.User `json:"caller,omitempty"`
}

type CallUpdate struct {
	Call       *domain.Call `json:"call"`
	DeclinedBy string       `json:"declinedBy,omitempty"`
}

// SignalRelay is the forwarded form of Signal, tagged with the sender
// connection so the peer can answer back.
type SignalRelay struct {
	Event        string          `json:"-"`
	CallID       string          `json:"callId"`
	SenderConnID string          `json:"senderConnectionId"`
	Payload      json.RawMessage `json:"payload"`
}

type IceRestartAck struct {
	CallID       string `json:"callId"`
	TargetConnID string `json:"targetConnectionId"`
}

type NewNotification struct {
	Notification *domain.Notification `json:"notification"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
