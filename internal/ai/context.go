package ai

import (
	"unicode/utf8"

	"github.com/ripplechat/ripple/internal/domain"
	"github.com/ripplechat/ripple/internal/llm"
)

const (
	// ContextMaxMessages caps how many history messages are considered.
	ContextMaxMessages = 20
	// ContextCharBudget caps total characters, prompt included.
	ContextCharBudget = 30000
)

// BuildContext assembles the model context window. history must be the
// conversation's live TEXT and AI_RESPONSE messages, oldest first and
// already capped at ContextMaxMessages. Walking from the newest
// message backwards, a message is kept only while the running
// character total, counting the prompt itself, stays within
// ContextCharBudget.
func BuildContext(history []*domain.Message, prompt, systemPrompt string) []llm.Message {
	// The prompt is usually already persisted as the newest TEXT
	// message; don't feed it to the model twice.
	if n := len(history); n > 0 &&
		history[n-1].Type == domain.MessageText && history[n-1].Content == prompt {
		history = history[:n-1]
	}

	// Characters means runes, not bytes; multibyte content must not
	// shrink the window.
	budget := ContextCharBudget - utf8.RuneCountInString(prompt)

	keep := 0 // count of trailing history messages that fit
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		total += utf8.RuneCountInString(history[i].Content)
		if total > budget {
			break
		}
		keep++
	}

	msgs := make([]llm.Message, 0, keep+2)
	if systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, m := range history[len(history)-keep:] {
		role := llm.RoleUser
		if m.Type == domain.MessageAIResponse {
			role = llm.RoleModel
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})
	return msgs
}
