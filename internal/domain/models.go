package domain

import "time"

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Bio          string     `json:"bio,omitempty"`
	StatusText   string     `json:"status_text,omitempty"`
	PasswordHash string     `json:"-"`
	Online       bool       `json:"online"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"` // DIRECT, GROUP, AI_CHAT
	Title        string    `json:"title,omitempty"`
	GroupName    string    `json:"group_name,omitempty"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedByID  string    `json:"created_by_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Member struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           string     `json:"role"` // OWNER, ADMIN, MEMBER
	IsPinned       bool       `json:"is_pinned"`
	IsMuted        bool       `json:"is_muted"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	JoinedAt       time.Time  `json:"joined_at"`

	// Hydrated for listings; not a column on the membership row.
	UserName string `json:"user_name,omitempty"`
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       *string    `json:"sender_id,omitempty"` // nil for AI and SYSTEM
	Type           string     `json:"type"`
	Content        string     `json:"content"`
	Status         string     `json:"status"` // SENT, DELIVERED, READ
	ReplyToID      *string    `json:"reply_to_id,omitempty"`
	IsEdited       bool       `json:"is_edited"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	TokenCount     int        `json:"token_count,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	Attachments []*Attachment `json:"attachments,omitempty"`
	Reactions   []*Reaction   `json:"reactions,omitempty"`
}

type Attachment struct {
	ID           string `json:"id"`
	MessageID    string `json:"message_id"`
	FileURL      string `json:"file_url"`
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
	MimeType     string `json:"mime_type"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

type Call struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	CallerID       string     `json:"caller_id"`
	CalleeID       *string    `json:"callee_id,omitempty"` // nil for group calls
	Type           string     `json:"type"`                // AUDIO, VIDEO
	Status         string     `json:"status"`              // RINGING, ACTIVE, ENDED, REJECTED, CANCELLED
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Duration       int        `json:"duration"` // seconds
	CreatedAt      time.Time  `json:"created_at"`
}

// Terminal reports whether the call can no longer change state.
func (c *Call) Terminal() bool {
	switch c.Status {
	case CallStatusEnded, CallStatusRejected, CallStatusCancelled:
		return true
	}
	return false
}

type Block struct {
	BlockerID string    `json:"blocker_id"`
	BlockedID string    `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}

const (
	ConversationDirect = "DIRECT"
	ConversationGroup  = "GROUP"
	ConversationAIChat = "AI_CHAT"
)

const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

const (
	MessageText       = "TEXT"
	MessageImage      = "IMAGE"
	MessageVideo      = "VIDEO"
	MessageAudio      = "AUDIO"
	MessageFile       = "FILE"
	MessageSystem     = "SYSTEM"
	MessageAIResponse = "AI_RESPONSE"
)

const (
	MessageStatusSent      = "SENT"
	MessageStatusDelivered = "DELIVERED"
	MessageStatusRead      = "READ"
)

const (
	CallAudio = "AUDIO"
	CallVideo = "VIDEO"
)

const (
	CallStatusRinging   = "RINGING"
	CallStatusActive    = "ACTIVE"
	CallStatusEnded     = "ENDED"
	CallStatusRejected  = "REJECTED"
	CallStatusCancelled = "CANCELLED"
)

const (
	NotificationNewMessage  = "NEW_MESSAGE"
	NotificationMention     = "MENTION"
	NotificationCallMissed  = "CALL_MISSED"
	NotificationGroupInvite = "GROUP_INVITE"
	NotificationAIComplete  = "AI_COMPLETE"
)

// MaxMessageLength is the hard cap on message content, in characters.
const MaxMessageLength = 10000

// ValidConversationType reports whether t is a known conversation type.
func ValidConversationType(t string) bool {
	return t == ConversationDirect || t == ConversationGroup || t == ConversationAIChat
}

// ValidMessageType reports whether t is a known client-suppliable message type.
func ValidMessageType(t string) bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile:
		return true
	}
	return false
}
