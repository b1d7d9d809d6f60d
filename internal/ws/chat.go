package ws

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/id"
	"github.com/ripplechat/ripple/internal/notify"
	"github.com/ripplechat/ripple/internal/protocol"
)

// newChatTitle is the placeholder replaced by the first message.
const newChatTitle = "New Chat"

// contentTooLong measures in runes; the cap is on characters, so
// multibyte text gets the same room as ASCII.
func contentTooLong(content string) bool {
	return utf8.RuneCountInString(content) > domain.MaxMessageLength
}

func (h *Handler) handleSendMessage(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.SendMessage](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}

	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		s.sendError("Message content is required")
		return
	}
	if contentTooLong(req.Content) {
		s.sendError("Message exceeds maximum length")
		return
	}
	msgType := req.Type
	if msgType == "" {
		msgType = domain.MessageText
	}
	if !domain.ValidMessageType(msgType) {
		s.sendError("invalid message type")
		return
	}

	conv, err := h.store.GetConversationForMember(ctx, req.ConversationID, s.userID)
	if err != nil {
		s.sendError("Conversation not found")
		return
	}

	members, err := h.store.ListMembers(ctx, conv.ID)
	if err != nil {
		slog.Error("ws: list members error", "error", err, "conversation_id", conv.ID)
		s.sendError("failed to send message")
		return
	}

	if conv.Type == domain.ConversationDirect {
		for _, m := range members {
			if m.UserID == s.userID {
				continue
			}
			blocked, err := h.store.IsBlockedEither(ctx, s.userID, m.UserID)
			if err != nil {
				slog.Error("ws: block check error", "error", err)
				s.sendError("failed to send message")
				return
			}
			if blocked {
				s.sendError("You cannot message this user")
				return
			}
		}
	}

	senderID := s.userID
	msg := &domain.Message{
		ID:             id.NewMessage(),
		ConversationID: conv.ID,
		SenderID:       &senderID,
		Type:           msgType,
		Content:        req.Content,
		ReplyToID:      req.ReplyToID,
	}

	titleChanged := false
	err = h.store.WithTx(ctx, func(ctx context.Context) error {
		if err := h.store.CreateMessage(ctx, msg); err != nil {
			return err
		}
		for _, a := range req.Attachments {
			att := &domain.Attachment{
				ID:           id.NewAttachment(),
				MessageID:    msg.ID,
				FileURL:      a.FileURL,
				FileName:     a.FileName,
				FileSize:     a.FileSize,
				MimeType:     a.MimeType,
				ThumbnailURL: a.ThumbnailURL,
				Width:        a.Width,
				Height:       a.Height,
			}
			if err := h.store.CreateAttachment(ctx, att); err != nil {
				return err
			}
			msg.Attachments = append(msg.Attachments, att)
		}
		if conv.Type == domain.ConversationAIChat && (conv.Title == "" || conv.Title == newChatTitle) {
			conv.Title = deriveTitle(req.Content)
			titleChanged = true
			if err := h.store.UpdateConversation(ctx, conv); err != nil {
				return err
			}
		}
		return h.store.TouchConversation(ctx, conv.ID)
	})
	if err != nil {
		slog.Error("ws: create message error", "error", err, "conversation_id", conv.ID)
		s.sendError("failed to send message")
		return
	}

	room := hub.ConversationRoom(conv.ID)
	h.registry.Broadcast(room, protocol.EventNewMessage, protocol.NewMessage{Message: msg})
	if titleChanged {
		h.registry.Broadcast(room, protocol.EventConversationUpdated,
			protocol.ConversationUpdated{Conversation: conv})
	}

	// Notifications are a post-commit effect; failures never undo the
	// message.
	if conv.Type != domain.ConversationAIChat {
		h.notifyRecipients(ctx, s, conv, members, req.Content)
	}

	switch {
	case conv.Type == domain.ConversationAIChat:
		h.ai.Generate(conv.ID, req.Content, conv.SystemPrompt, s.userID)
	default:
		if prompt, ok := aiTrigger(req.Content); ok {
			h.ai.Generate(conv.ID, prompt, conv.SystemPrompt, s.userID)
		}
	}
}

func (h *Handler) notifyRecipients(ctx context.Context, s *Session, conv *domain.Conversation, members []*domain.Member, content string) {
	var senderName string
	for _, m := range members {
		if m.UserID == s.userID {
			senderName = m.UserName
		}
	}

	preview := content
	if r := []rune(preview); len(r) > 120 {
		preview = string(r[:120])
	}

	mentioned := extractMentions(content, members, s.userID)
	for _, m := range members {
		if m.UserID == s.userID {
			continue
		}
		if mentioned[m.UserID] {
			h.notifier.NotifyAsync(ctx, notify.Mention(m.UserID, senderName, conv.ID, preview))
			continue
		}
		if !h.registry.IsOnline(m.UserID) {
			h.notifier.NotifyAsync(ctx, notify.NewMessage(m.UserID, senderName, conv.ID, preview))
		}
	}
}

// extractMentions matches each @token in content against member names
// by case-insensitive prefix. Display names are not unique handles, so
// a token can mention several members.
func extractMentions(content string, members []*domain.Member, senderID string) map[string]bool {
	mentioned := make(map[string]bool)
	for _, word := range strings.Fields(content) {
		if !strings.HasPrefix(word, "@") || len(word) < 2 {
			continue
		}
		token := strings.ToLower(strings.TrimRight(word[1:], ".,!?:;"))
		if token == "" || token == "ai" {
			continue
		}
		for _, m := range members {
			if m.UserID == senderID {
				continue
			}
			if strings.HasPrefix(strings.ToLower(m.UserName), token) {
				mentioned[m.UserID] = true
			}
		}
	}
	return mentioned
}

// aiTrigger recognizes "@ai" anywhere or a "/ai " prefix in a non-AI
// conversation and returns the prompt with the trigger stripped.
func aiTrigger(content string) (string, bool) {
	if strings.HasPrefix(content, "/ai ") {
		return strings.TrimSpace(content[len("/ai "):]), true
	}
	lower := strings.ToLower(content)
	if idx := strings.Index(lower, "@ai"); idx >= 0 {
		// The token must stand alone, not be a prefix of a longer
		// mention like @aidan.
		end := idx + len("@ai")
		if end == len(content) || content[end] == ' ' || content[end] == '\n' {
			residue := strings.TrimSpace(content[:idx] + content[end:])
			return residue, true
		}
	}
	return "", false
}

func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if r := []rune(title); len(r) > 80 {
		title = string(r[:80])
	}
	if title == "" {
		title = newChatTitle
	}
	return title
}

func (h *Handler) handleEditMessage(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.EditMessage](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.sendError("Message content is required")
		return
	}
	if contentTooLong(req.Content) {
		s.sendError("Message exceeds maximum length")
		return
	}

	msg, err := h.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		s.sendError("Message not found")
		return
	}
	if msg.SenderID == nil || *msg.SenderID != s.userID {
		s.sendError("You can only edit your own messages")
		return
	}
	if msg.Type != domain.MessageText {
		s.sendError("Only text messages can be edited")
		return
	}

	conv, err := h.store.GetConversationForMember(ctx, msg.ConversationID, s.userID)
	if err != nil {
		s.sendError("Conversation not found")
		return
	}

	var cascaded []string
	err = h.store.WithTx(ctx, func(ctx context.Context) error {
		if err := h.store.UpdateMessageContent(ctx, msg.ID, req.Content); err != nil {
			return err
		}
		if conv.Type == domain.ConversationAIChat {
			// The model must never see history newer than the edit.
			cascaded, err = h.store.DeleteMessagesAfter(ctx, conv.ID, msg.CreatedAt)
			return err
		}
		return nil
	})
	if err != nil {
		slog.Error("ws: edit message error", "error", err, "message_id", msg.ID)
		s.sendError("failed to edit message")
		return
	}

	msg.Content = req.Content
	msg.IsEdited = true

	room := hub.ConversationRoom(conv.ID)
	h.registry.Broadcast(room, protocol.EventMessageUpdated, protocol.MessageUpdated{Message: msg})
	for _, deletedID := range cascaded {
		h.registry.Broadcast(room, protocol.EventMessageDeleted, protocol.MessageDeleted{
			ConversationID: conv.ID,
			MessageID:      deletedID,
		})
	}

	if conv.Type == domain.ConversationAIChat {
		h.ai.Generate(conv.ID, req.Content, conv.SystemPrompt, s.userID)
	}
}

func (h *Handler) handleDeleteMessage(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.DeleteMessage](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}

	msg, err := h.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		s.sendError("Message not found")
		return
	}
	if msg.SenderID == nil || *msg.SenderID != s.userID {
		s.sendError("You can only delete your own messages")
		return
	}

	if err := h.store.SoftDeleteMessage(ctx, msg.ID); err != nil {
		slog.Error("ws: delete message error", "error", err, "message_id", msg.ID)
		s.sendError("failed to delete message")
		return
	}

	h.registry.Broadcast(hub.ConversationRoom(msg.ConversationID), protocol.EventMessageDeleted,
		protocol.MessageDeleted{ConversationID: msg.ConversationID, MessageID: msg.ID})
}

func (h *Handler) handleReact(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.React](env)
	if err != nil || req.Emoji == "" {
		s.sendError("invalid payload")
		return
	}

	msg, err := h.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		s.sendError("Message not found")
		return
	}
	if !h.requireMember(ctx, s, msg.ConversationID) {
		return
	}

	if _, err := h.store.ToggleReaction(ctx, msg.ID, s.userID, req.Emoji); err != nil {
		slog.Error("ws: toggle reaction error", "error", err, "message_id", msg.ID)
		s.sendError("failed to react")
		return
	}

	reactions, err := h.store.ListReactions(ctx, msg.ID)
	if err != nil {
		slog.Error("ws: list reactions error", "error", err, "message_id", msg.ID)
		return
	}

	h.registry.Broadcast(hub.ConversationRoom(msg.ConversationID), protocol.EventMessageReactionUpdated,
		protocol.MessageReactionUpdated{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Reactions:      reactions,
		})
}

func (h *Handler) handleMessageRead(ctx context.Context, s *Session, env *protocol.Envelope) {
	req, err := protocol.DecodeData[protocol.MessageRead](env)
	if err != nil {
		s.sendError("invalid payload")
		return
	}
	if !h.requireMember(ctx, s, req.ConversationID) {
		return
	}

	if _, err := h.store.MarkConversationRead(ctx, req.ConversationID, s.userID); err != nil {
		slog.Error("ws: mark read error", "error", err, "conversation_id", req.ConversationID)
		return
	}

	// messageId "" is the sentinel for "all messages in conversation".
	h.registry.Broadcast(hub.ConversationRoom(req.ConversationID), protocol.EventMessageStatusUpdate,
		protocol.MessageStatusUpdate{
			ConversationID: req.ConversationID,
			MessageID:      "",
			Status:         domain.MessageStatusRead,
			UserID:         s.userID,
		})
}
