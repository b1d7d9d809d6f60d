// Package llm wraps the upstream chat-completion API behind a small
// streaming interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Message is one turn of model context. Role is "user", "model" or
// "system"; the mapping to the wire roles happens here.
type Message struct {
	Role    string
	Content string
}

const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// Streamer is the upstream contract the generation coordinator depends
// on; tests substitute a fake.
type Streamer interface {
	Stream(ctx context.Context, messages []Message) (<-chan string, <-chan error)
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Client struct {
	api    *openai.Client
	model  string
	tracer trace.Tracer
}

func New(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		model:  model,
		tracer: otel.Tracer("ripple/llm"),
	}
}

func toWire(messages []Message) []openai.ChatCompletionMessage {
	wire := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleModel:
			role = openai.ChatMessageRoleAssistant
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		wire = append(wire, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return wire
}

// Stream starts a completion and feeds chunks to the returned channel.
// The content channel closes on normal completion; exactly one error
// arrives on the error channel otherwise. Cancel ctx to abandon the
// stream between chunks.
func (c *Client) Stream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	contentChan := make(chan string, 16)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)

		ctx, span := c.tracer.Start(ctx, "llm.Stream",
			trace.WithAttributes(
				attribute.String("llm.model", c.model),
				attribute.Int("llm.context_messages", len(messages)),
			))
		defer span.End()

		stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: toWire(messages),
			Stream:   true,
		})
		if err != nil {
			span.RecordError(err)
			errChan <- fmt.Errorf("create completion stream: %w", err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					// Cancelled by the caller; not an upstream failure.
					return
				}
				span.RecordError(err)
				errChan <- fmt.Errorf("stream recv: %w", err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	return contentChan, errChan
}

// Complete runs a non-streaming completion; used for summaries and
// smart replies.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llm.Complete",
		trace.WithAttributes(attribute.String("llm.model", c.model)))
	defer span.End()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toWire(messages),
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("llm: completion returned no choices", "model", c.model)
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
