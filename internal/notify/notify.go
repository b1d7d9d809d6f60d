// Package notify creates durable notifications and pushes them to the
// recipient's user room.
package notify

import (
	"context"
	"log/slog"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/id"
	"github.com/ripplechat/ripple/internal/protocol"
)

type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
}

type Service struct {
	store    Store
	registry *hub.Registry
}

func New(store Store, registry *hub.Registry) *Service {
	return &Service{store: store, registry: registry}
}

// Notify persists the notification, then emits it to the user room.
// The durable row is the source of truth; an offline recipient simply
// misses the push and catches up over REST.
func (s *Service) Notify(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = id.NewNotification()
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return err
	}

	s.registry.Broadcast(hub.UserRoom(n.UserID), protocol.EventNewNotification,
		protocol.NewNotification{Notification: n})
	return nil
}

// NotifyAsync is Notify for post-commit fan-out paths where the caller
// must not fail on notification errors.
func (s *Service) NotifyAsync(ctx context.Context, n *domain.Notification) {
	if err := s.Notify(ctx, n); err != nil {
		slog.Error("notify: create error", "error", err, "user_id", n.UserID, "type", n.Type)
	}
}

func NewMessage(userID, senderName, conversationID, preview string) *domain.Notification {
	return &domain.Notification{
		UserID: userID,
		Type:   domain.NotificationNewMessage,
		Title:  senderName,
		Body:   preview,
		Data:   map[string]any{"conversationId": conversationID},
	}
}

func Mention(userID, senderName, conversationID, preview string) *domain.Notification {
	return &domain.Notification{
		UserID: userID,
		Type:   domain.NotificationMention,
		Title:  senderName + " mentioned you",
		Body:   preview,
		Data:   map[string]any{"conversationId": conversationID},
	}
}

func CallMissed(userID, callerName, conversationID, callID string) *domain.Notification {
	return &domain.Notification{
		UserID: userID,
		Type:   domain.NotificationCallMissed,
		Title:  "Missed call",
		Body:   callerName + " tried to call you",
		Data:   map[string]any{"conversationId": conversationID, "callId": callID},
	}
}

func GroupInvite(userID, inviterName, conversationID, groupName string) *domain.Notification {
	return &domain.Notification{
		UserID: userID,
		Type:   domain.NotificationGroupInvite,
		Title:  "Added to " + groupName,
		Body:   inviterName + " added you to the group",
		Data:   map[string]any{"conversationId": conversationID},
	}
}

func AIComplete(userID, conversationID, preview string) *domain.Notification {
	return &domain.Notification{
		UserID: userID,
		Type:   domain.NotificationAIComplete,
		Title:  "Response ready",
		Body:   preview,
		Data:   map[string]any{"conversationId": conversationID},
	}
}
