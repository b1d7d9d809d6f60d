package ai

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/hub"
	"github.com/ripplechat/ripple/internal/llm"
	"github.com/ripplechat/ripple/internal/protocol"
)

type recorder struct {
	mu     sync.Mutex
	frames []protocol.Envelope
}

func (r *recorder) Send(data []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	r.mu.Lock()
	r.frames = append(r.frames, env)
	r.mu.Unlock()
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, env := range r.frames {
		out[i] = env.Event
	}
	return out
}

func (r *recorder) payload(t *testing.T, event string, v any) bool {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, env := range r.frames {
		if env.Event == event {
			require.NoError(t, json.Unmarshal(env.Data, v))
			return true
		}
	}
	return false
}

type memStore struct {
	mu       sync.Mutex
	history  []*domain.Message
	created  []*domain.Message
	deleted  []string
}

func (m *memStore) ListContextMessages(context.Context, string, int) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Message(nil), m.history...), nil
}

func (m *memStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, msg)
	return nil
}

func (m *memStore) TouchConversation(context.Context, string) error { return nil }

func (m *memStore) SoftDeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memStore) LatestAIResponse(context.Context, string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Type == domain.MessageAIResponse {
			return m.history[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) LatestTextBySender(_ context.Context, _, senderID string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		msg := m.history[i]
		if msg.Type == domain.MessageText && msg.SenderID != nil && *msg.SenderID == senderID {
			return msg, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) createdMessages() []*domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Message(nil), m.created...)
}

// fakeStreamer emits its chunks, optionally pausing after each one
// until released.
type fakeStreamer struct {
	chunks  []string
	release chan struct{} // nil means no pausing
	err     error
}

func (f *fakeStreamer) Stream(ctx context.Context, _ []llm.Message) (<-chan string, <-chan error) {
	content := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(content)
		for _, chunk := range f.chunks {
			select {
			case content <- chunk:
			case <-ctx.Done():
				return
			}
			if f.release != nil {
				select {
				case <-f.release:
				case <-ctx.Done():
					return
				}
			}
		}
		if f.err != nil {
			errs <- f.err
		}
	}()
	return content, errs
}

func (f *fakeStreamer) Complete(context.Context, []llm.Message) (string, error) {
	return "", nil
}

func setup(t *testing.T, upstream llm.Streamer) (*Coordinator, *memStore, *recorder) {
	t.Helper()
	registry := hub.NewRegistry()
	rec := &recorder{}
	registry.Register("usr_1", "conn_1", rec)
	registry.Join("conn_1", hub.ConversationRoom("conv_1"))

	store := &memStore{}
	return New(store, registry, upstream, nil), store, rec
}

func TestGenerateStreamsAndPersists(t *testing.T) {
	coord, store, rec := setup(t, &fakeStreamer{chunks: []string{"Hel", "lo ", "world"}})

	coord.Generate("conv_1", "greet me", "", "usr_1")
	coord.Wait("conv_1")

	events := rec.events()
	require.GreaterOrEqual(t, len(events), 5)
	assert.Equal(t, protocol.EventAIStreamStart, events[0])
	assert.Equal(t, protocol.EventAIStreamEnd, events[len(events)-1])

	var end protocol.AIStreamEnd
	require.True(t, rec.payload(t, protocol.EventAIStreamEnd, &end))
	assert.Equal(t, "Hello world", end.FullContent)

	created := store.createdMessages()
	require.Len(t, created, 1)
	assert.Equal(t, domain.MessageAIResponse, created[0].Type)
	assert.Equal(t, "Hello world", created[0].Content)
	// The persisted id is the one announced in the end event.
	assert.Equal(t, created[0].ID, end.MessageID)
}

func TestStopDiscardsPartialOutput(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"partial", "never"}, release: make(chan struct{})}
	coord, store, rec := setup(t, streamer)

	coord.Generate("conv_1", "go", "", "usr_1")

	// Wait until the first chunk has been fanned out.
	require.Eventually(t, func() bool {
		for _, ev := range rec.events() {
			if ev == protocol.EventAIStreamChunk {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	coord.Stop("conv_1")
	coord.Wait("conv_1")

	assert.Empty(t, store.createdMessages())
	assert.NotContains(t, rec.events(), protocol.EventAIStreamEnd)
}

func TestDisconnectWithUnsubscribedSecondDeviceCancels(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"part", "never"}, release: make(chan struct{})}
	registry := hub.NewRegistry()
	rec := &recorder{}
	registry.Register("usr_1", "conn_1", rec)
	registry.Join("conn_1", hub.ConversationRoom("conv_1"))
	// A second device keeps the user online but never subscribed to
	// the conversation, so it cannot receive the stream.
	registry.Register("usr_1", "conn_2", &recorder{})
	store := &memStore{}
	coord := New(store, registry, streamer, nil)

	coord.Generate("conv_1", "go", "", "usr_1")
	require.Eventually(t, func() bool {
		for _, ev := range rec.events() {
			if ev == protocol.EventAIStreamChunk {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	registry.Unregister("conn_1")
	coord.HandleDisconnect("usr_1")
	coord.Wait("conv_1")

	assert.Empty(t, store.createdMessages())
	assert.NotContains(t, rec.events(), protocol.EventAIStreamEnd)
}

func TestSecondGenerationSupersedesFirst(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"slow", "never"}, release: make(chan struct{})}
	coord, _, rec := setup(t, streamer)

	coord.Generate("conv_1", "first", "", "usr_1")
	require.Eventually(t, func() bool {
		for _, ev := range rec.events() {
			if ev == protocol.EventAIStreamChunk {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	coord.Generate("conv_1", "second", "", "usr_1")

	var streamErr protocol.AIStreamError
	require.Eventually(t, func() bool {
		return rec.payload(t, protocol.EventAIStreamError, &streamErr)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, ReasonSuperseded, streamErr.Error)

	coord.Stop("conv_1")
	coord.Wait("conv_1")
}

func TestGenerateWithoutUpstream(t *testing.T) {
	coord, store, rec := setup(t, nil)

	coord.Generate("conv_1", "hello", "", "usr_1")

	var streamErr protocol.AIStreamError
	require.True(t, rec.payload(t, protocol.EventAIStreamError, &streamErr))
	assert.Equal(t, ReasonNotConfigured, streamErr.Error)
	assert.Empty(t, store.createdMessages())
	assert.NotContains(t, rec.events(), protocol.EventAIStreamStart)
}

func TestIdleTimeout(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"one", "stuck"}, release: make(chan struct{})}
	registry := hub.NewRegistry()
	rec := &recorder{}
	registry.Register("usr_1", "conn_1", rec)
	registry.Join("conn_1", hub.ConversationRoom("conv_1"))
	store := &memStore{}
	coord := New(store, registry, streamer, nil, WithTimeouts(time.Second, 30*time.Millisecond))

	coord.Generate("conv_1", "go", "", "usr_1")
	coord.Wait("conv_1")

	var streamErr protocol.AIStreamError
	require.True(t, rec.payload(t, protocol.EventAIStreamError, &streamErr))
	assert.Equal(t, "generation timed out", streamErr.Error)
	assert.Empty(t, store.createdMessages())
}

func TestRegenerateDeletesAndReplays(t *testing.T) {
	sender := "usr_1"
	streamer := &fakeStreamer{chunks: []string{"regenerated"}}
	coord, store, rec := setup(t, streamer)
	store.history = []*domain.Message{
		{ID: "msg_1", Type: domain.MessageText, SenderID: &sender, Content: "question"},
		{ID: "msg_2", Type: domain.MessageAIResponse, Content: "old answer"},
	}

	require.NoError(t, coord.Regenerate(context.Background(), "conv_1", "", "usr_1"))
	coord.Wait("conv_1")

	assert.Contains(t, store.deleted, "msg_2")
	assert.Contains(t, rec.events(), protocol.EventMessageDeleted)

	var end protocol.AIStreamEnd
	require.Eventually(t, func() bool {
		return rec.payload(t, protocol.EventAIStreamEnd, &end)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "regenerated", end.FullContent)
}

func TestRegenerateWithoutOwnText(t *testing.T) {
	coord, _, _ := setup(t, &fakeStreamer{})
	err := coord.Regenerate(context.Background(), "conv_1", "", "usr_9")
	assert.ErrorIs(t, err, domain.ErrInvalid)
}
