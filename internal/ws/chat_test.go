package ws

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ripplechat/ripple/internal/domain"
)

func member(userID, name string) *domain.Member {
	return &domain.Member{UserID: userID, UserName: name}
}

func TestExtractMentions(t *testing.T) {
	members := []*domain.Member{
		member("usr_1", "Alice"),
		member("usr_2", "Bob"),
		member("usr_3", "Bobby"),
	}

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"exact name", "hey @Alice, lunch?", []string{"usr_1"}},
		{"case insensitive", "ping @alice", []string{"usr_1"}},
		{"prefix matches both bobs", "@bob wake up", []string{"usr_2", "usr_3"}},
		{"longer prefix matches one", "@bobby wake up", []string{"usr_3"}},
		{"no mention", "just a message", nil},
		{"bare at sign", "meet @ 5", nil},
		{"ai trigger is not a mention", "hey @ai what time is it", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractMentions(tt.content, members, "usr_9")
			var ids []string
			for id := range got {
				ids = append(ids, id)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestExtractMentionsExcludesSender(t *testing.T) {
	members := []*domain.Member{member("usr_1", "Alice")}
	got := extractMentions("@alice talking to myself", members, "usr_1")
	assert.Empty(t, got)
}

func TestAITrigger(t *testing.T) {
	tests := []struct {
		name    string
		content string
		prompt  string
		ok      bool
	}{
		{"slash prefix", "/ai what is Go?", "what is Go?", true},
		{"inline at-ai", "hey @ai summarize this", "hey summarize this", true},
		{"at-ai at end", "can you help @ai", "can you help", true},
		{"longer mention is not a trigger", "ask @aidan about it", "", false},
		{"plain text", "nothing to see", "", false},
		{"slash without space", "/aiwhat", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, ok := aiTrigger(tt.content)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.prompt, prompt)
		})
	}
}

func TestContentTooLongCountsRunes(t *testing.T) {
	// Exactly at the cap is fine, one past it is not.
	assert.False(t, contentTooLong(strings.Repeat("a", domain.MaxMessageLength)))
	assert.True(t, contentTooLong(strings.Repeat("a", domain.MaxMessageLength+1)))

	// 10000 three-byte runes are 30000 bytes but still within the cap.
	assert.False(t, contentTooLong(strings.Repeat("语", domain.MaxMessageLength)))
	assert.True(t, contentTooLong(strings.Repeat("语", domain.MaxMessageLength+1)))
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "Hello", deriveTitle("Hello"))
	assert.Equal(t, "New Chat", deriveTitle("   "))

	long := make([]rune, 0, 100)
	for i := 0; i < 100; i++ {
		long = append(long, 'x')
	}
	assert.Len(t, []rune(deriveTitle(string(long))), 80)
}
