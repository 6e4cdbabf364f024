package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversational turn: a role plus ordered content parts.
type Message struct {
	ID        string
	Role      string
	Parts     []Part
	CreatedAt time.Time
}

// NewMessage creates a message with a fresh id and a single text part.
func NewMessage(role, text string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Parts:     []Part{TextPart{Text: text}},
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(text string) Message { return NewMessage(RoleUser, text) }

// NewSystemMessage creates a system message.
func NewSystemMessage(text string) Message { return NewMessage(RoleSystem, text) }

// NewAssistantMessage creates an assistant-authored text message.
func NewAssistantMessage(text string) Message { return NewMessage(RoleAssistant, text) }

// Text concatenates all text parts in order.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// FunctionCalls returns any FunctionCall parts preserving their order.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range m.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

type wireMessage struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Parts     []wirePart `json:"parts"`
	CreatedAt time.Time  `json:"created_at"`
}

// MarshalJSON encodes parts with an explicit type tag.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{ID: m.ID, Role: m.Role, CreatedAt: m.CreatedAt, Parts: make([]wirePart, 0, len(m.Parts))}
	for _, p := range m.Parts {
		if wp, ok := toWirePart(p); ok {
			w.Parts = append(w.Parts, wp)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged part encoding; unknown part types are skipped.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	m.ID, m.Role, m.CreatedAt = w.ID, w.Role, w.CreatedAt
	m.Parts = make([]Part, 0, len(w.Parts))
	for _, wp := range w.Parts {
		if p, ok := wp.part(); ok {
			m.Parts = append(m.Parts, p)
		}
	}
	return nil
}

// LastText returns the text of the last message, or "" for an empty slice.
func LastText(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Text()
}
