// Package ai coordinates AI response generation: context assembly,
// upstream streaming, chunk fan-out, cancellation and regeneration,
// with at most one generation in flight per conversation.
package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/id"
	"github.com/ripplechat/ripple/internal/llm"
	"github.com/ripplechat/ripple/internal/metrics"
	"github.com/ripplechat/ripple/internal/notify"
	"github.com/ripplechat/ripple/internal/protocol"
)

const (
	// ReasonNotConfigured is surfaced when no upstream model is set up.
	ReasonNotConfigured = "ai_not_configured"
	// ReasonSuperseded is surfaced when a newer generation replaced
	// this one.
	ReasonSuperseded = "superseded"

	DefaultWallTimeout = 60 * time.Second
	DefaultIdleTimeout = 20 * time.Second
)

type Store interface {
	ListContextMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)
	CreateMessage(ctx context.Context, m *domain.Message) error
	TouchConversation(ctx context.Context, conversationID string) error
	SoftDeleteMessage(ctx context.Context, id string) error
	LatestAIResponse(ctx context.Context, conversationID string) (*domain.Message, error)
	LatestTextBySender(ctx context.Context, conversationID, senderID string) (*domain.Message, error)
}

type generation struct {
	requesterID string
	cancel      context.CancelFunc
	superseded  bool
	done        chan struct{}
}

type Coordinator struct {
	store    Store
	registry *hub.Registry
	upstream llm.Streamer // nil when AI is not configured
	notifier *notify.Service

	wallTimeout time.Duration
	idleTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]*generation
}

type Option func(*Coordinator)

// WithTimeouts overrides the wall-clock and idle-chunk timeouts.
func WithTimeouts(wall, idle time.Duration) Option {
	return func(c *Coordinator) {
		c.wallTimeout = wall
		c.idleTimeout = idle
	}
}

func New(store Store, registry *hub.Registry, upstream llm.Streamer, notifier *notify.Service, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		registry:    registry,
		upstream:    upstream,
		notifier:    notifier,
		wallTimeout: DefaultWallTimeout,
		idleTimeout: DefaultIdleTimeout,
		inflight:    make(map[string]*generation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate starts a generation for the conversation. A generation
// already in flight is cancelled and superseded. The stream itself
// runs detached from the caller's context; the caller returns as soon
// as the generation is scheduled.
func (c *Coordinator) Generate(conversationID, prompt, systemPrompt, requesterID string) {
	room := hub.ConversationRoom(conversationID)

	if c.upstream == nil {
		c.registry.Broadcast(room, protocol.EventAIStreamError, protocol.AIStreamError{
			ConversationID: conversationID,
			Error:          ReasonNotConfigured,
		})
		return
	}

	genCtx, cancel := context.WithTimeout(context.Background(), c.wallTimeout)
	gen := &generation{
		requesterID: requesterID,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	c.mu.Lock()
	if prev, ok := c.inflight[conversationID]; ok {
		prev.superseded = true
		prev.cancel()
	}
	c.inflight[conversationID] = gen
	c.mu.Unlock()

	go c.run(genCtx, gen, conversationID, prompt, systemPrompt)
}

func (c *Coordinator) run(ctx context.Context, gen *generation, conversationID, prompt, systemPrompt string) {
	defer close(gen.done)
	defer gen.cancel()
	defer func() {
		c.mu.Lock()
		if c.inflight[conversationID] == gen {
			delete(c.inflight, conversationID)
		}
		c.mu.Unlock()
	}()

	room := hub.ConversationRoom(conversationID)

	history, err := c.store.ListContextMessages(ctx, conversationID, ContextMaxMessages)
	if err != nil {
		slog.Error("ai: load context error", "error", err, "conversation_id", conversationID)
		c.streamError(conversationID, "failed to load conversation history")
		return
	}

	streamID := id.NewMessage()
	c.registry.Broadcast(room, protocol.EventAIStreamStart, protocol.AIStreamStart{
		ConversationID: conversationID,
		MessageID:      streamID,
	})

	metrics.GenerationsActive.Inc()
	defer metrics.GenerationsActive.Dec()

	contentChan, errChan := c.upstream.Stream(ctx, BuildContext(history, prompt, systemPrompt))

	var full strings.Builder
	idle := time.NewTimer(c.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case chunk, ok := <-contentChan:
			if !ok {
				c.finish(conversationID, full.String(), gen.requesterID)
				return
			}
			full.WriteString(chunk)
			c.registry.Broadcast(room, protocol.EventAIStreamChunk, protocol.AIStreamChunk{
				ConversationID: conversationID,
				MessageID:      streamID,
				Chunk:          chunk,
			})
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(c.idleTimeout)

		case err := <-errChan:
			slog.Error("ai: upstream error", "error", err, "conversation_id", conversationID)
			c.streamError(conversationID, "generation failed")
			metrics.GenerationsTotal.WithLabelValues("error").Inc()
			return

		case <-idle.C:
			slog.Warn("ai: idle timeout", "conversation_id", conversationID)
			c.streamError(conversationID, "generation timed out")
			metrics.GenerationsTotal.WithLabelValues("timeout").Inc()
			return

		case <-ctx.Done():
			// Superseded generations announce their replacement;
			// explicit stops are silent and nothing is persisted.
			if gen.superseded {
				c.streamError(conversationID, ReasonSuperseded)
				metrics.GenerationsTotal.WithLabelValues("superseded").Inc()
			} else {
				metrics.GenerationsTotal.WithLabelValues("cancelled").Inc()
			}
			return
		}
	}
}

// finish persists the full response under a fresh id and announces the
// end of the stream with that id.
func (c *Coordinator) finish(conversationID, content, requesterID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := &domain.Message{
		ID:             id.NewMessage(),
		ConversationID: conversationID,
		Type:           domain.MessageAIResponse,
		Content:        content,
	}
	if err := c.store.CreateMessage(ctx, msg); err != nil {
		slog.Error("ai: persist response error", "error", err, "conversation_id", conversationID)
		c.streamError(conversationID, "failed to save response")
		metrics.GenerationsTotal.WithLabelValues("error").Inc()
		return
	}
	if err := c.store.TouchConversation(ctx, conversationID); err != nil {
		slog.Error("ai: touch conversation error", "error", err, "conversation_id", conversationID)
	}

	c.registry.Broadcast(hub.ConversationRoom(conversationID), protocol.EventAIStreamEnd, protocol.AIStreamEnd{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		FullContent:    content,
	})
	metrics.GenerationsTotal.WithLabelValues("completed").Inc()
	slog.Info("ai: generation complete", "conversation_id", conversationID, "message_id", msg.ID, "chars", len(content))

	// The requester may have walked away mid-stream; leave a durable
	// trace for them.
	if c.notifier != nil && requesterID != "" && !c.registry.IsOnline(requesterID) {
		preview := content
		if r := []rune(preview); len(r) > 120 {
			preview = string(r[:120])
		}
		c.notifier.NotifyAsync(ctx, notify.AIComplete(requesterID, conversationID, preview))
	}
}

func (c *Coordinator) streamError(conversationID, reason string) {
	c.registry.Broadcast(hub.ConversationRoom(conversationID), protocol.EventAIStreamError, protocol.AIStreamError{
		ConversationID: conversationID,
		Error:          reason,
	})
}

// Stop cancels the conversation's in-flight generation, if any.
// Partial output is discarded.
func (c *Coordinator) Stop(conversationID string) {
	c.mu.Lock()
	gen, ok := c.inflight[conversationID]
	c.mu.Unlock()
	if ok {
		gen.cancel()
	}
}

// Regenerate deletes the latest AI response, then replays the
// requester's latest TEXT message as a new prompt.
func (c *Coordinator) Regenerate(ctx context.Context, conversationID, systemPrompt, requesterID string) error {
	last, err := c.store.LatestAIResponse(ctx, conversationID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if last != nil {
		if err := c.store.SoftDeleteMessage(ctx, last.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		c.registry.Broadcast(hub.ConversationRoom(conversationID), protocol.EventMessageDeleted, protocol.MessageDeleted{
			ConversationID: conversationID,
			MessageID:      last.ID,
		})
	}

	text, err := c.store.LatestTextBySender(ctx, conversationID, requesterID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Invalidf("nothing to regenerate")
		}
		return err
	}

	c.Generate(conversationID, text.Content, systemPrompt, requesterID)
	return nil
}

// HandleDisconnect cancels generations the user requested in
// conversations where none of their remaining connections is still
// subscribed. Called on the user's offline edge and on room departure.
func (c *Coordinator) HandleDisconnect(userID string) {
	c.mu.Lock()
	var orphaned []*generation
	for conversationID, gen := range c.inflight {
		if gen.requesterID == userID && !c.registry.UserInRoom(userID, hub.ConversationRoom(conversationID)) {
			orphaned = append(orphaned, gen)
		}
	}
	c.mu.Unlock()

	for _, gen := range orphaned {
		gen.cancel()
	}
}

// Wait blocks until the conversation's current generation finishes.
// Test helper semantics: returns immediately when nothing is in flight.
func (c *Coordinator) Wait(conversationID string) {
	c.mu.Lock()
	gen, ok := c.inflight[conversationID]
	c.mu.Unlock()
	if ok {
		<-gen.done
	}
}
