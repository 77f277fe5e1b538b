// Package chat holds the conversation data model: messages, transcript
// context attached to them, and the append-only history.
package chat

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptSegment is a single time-coded caption line. Text is normalized:
// no non-breaking spaces and no embedded newlines.
type TranscriptSegment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// ContextItem is one transcript-bearing source attached to a reply. It is
// owned by the message it is attached to and never mutated after creation.
type ContextItem struct {
	URL        string              `json:"url"`
	Title      string              `json:"title"`
	Transcript []TranscriptSegment `json:"transcript"`
}

// TranscriptText returns the full transcript joined with single spaces.
func (c *ContextItem) TranscriptText() string {
	parts := make([]string, len(c.Transcript))
	for i, seg := range c.Transcript {
		parts[i] = seg.Text
	}
	return strings.Join(parts, " ")
}

// DurationSeconds is the span from the first segment's start to the end of
// the last segment.
func (c *ContextItem) DurationSeconds() float64 {
	if len(c.Transcript) == 0 {
		return 0
	}
	first := c.Transcript[0]
	last := c.Transcript[len(c.Transcript)-1]
	return last.Start + last.Duration - first.Start
}

// Message is one entry in the conversation. Context carries the transcript
// sources used for an assistant reply; it is empty for user and system
// messages and for replies generated without augmentation.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content"`
	Context []ContextItem `json:"context,omitempty"`
}

const systemPromptFormat = "You are a helpful AI assistant who always responds in plain text " +
	"and designed to be interacted with in a terminal. Sometimes you will be given youtube " +
	"transcripts to provide context. Respond to the user as if you were a human. Current Date: %s"

// History is the ordered conversation log. Index 0 is always the system
// message. It is mutated only by Append and Reset.
type History struct {
	messages []Message
	now      func() time.Time
}

// Option configures a History.
type Option func(*History)

// WithClock overrides the time source used for the system prompt date.
func WithClock(now func() time.Time) Option {
	return func(h *History) {
		h.now = now
	}
}

// NewHistory creates a history seeded with the system instruction message.
func NewHistory(opts ...Option) *History {
	h := &History{now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	h.messages = []Message{h.systemMessage()}
	return h
}

func (h *History) systemMessage() Message {
	return Message{
		Role:    RoleSystem,
		Content: fmt.Sprintf(systemPromptFormat, h.now().Format("2006-01-02")),
	}
}

// Append adds a message to the end of the log.
func (h *History) Append(msg Message) {
	h.messages = append(h.messages, msg)
}

// Reset discards all turns and reseeds the single system message.
func (h *History) Reset() {
	h.messages = []Message{h.systemMessage()}
}

// Messages returns a copy of the log so callers cannot edit it in place.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages including the system message.
func (h *History) Len() int {
	return len(h.messages)
}

// TotalChars sums the content length of a message slice. Used as a coarse
// proxy for prompt size when selecting a model tier.
func TotalChars(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	return total
}
