package harness

import (
	"strings"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

// Conversation is the append-only transcript of one dispatch cycle.
type Conversation struct {
	turns []ports.ChatMessage
}

// NewConversation seeds the transcript with an optional system turn and the user turn.
func NewConversation(systemPrompt, chatText string) *Conversation {
	c := &Conversation{turns: make([]ports.ChatMessage, 0, 8)}
	if strings.TrimSpace(systemPrompt) != "" {
		c.Append(ports.ChatMessage{Role: ports.RoleSystem, Content: systemPrompt})
	}
	c.Append(ports.ChatMessage{Role: ports.RoleUser, Content: chatText})
	return c
}

// Append adds a turn at the end.
func (c *Conversation) Append(turn ports.ChatMessage) {
	c.turns = append(c.turns, turn)
}

// Turns returns a snapshot that later appends do not affect.
func (c *Conversation) Turns() []ports.ChatMessage {
	out := make([]ports.ChatMessage, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int { return len(c.turns) }

func assistantTurn(msg ports.ResponseMessage) ports.ChatMessage {
	role := msg.Role
	if role == "" {
		role = ports.RoleAssistant
	}
	content := ""
	if msg.Content != nil {
		content = *msg.Content
	}
	return ports.ChatMessage{Role: role, Content: content, ToolCalls: msg.ToolCalls}
}

func toolTurn(r ToolCallResult) ports.ChatMessage {
	return ports.ChatMessage{
		Role:       ports.RoleTool,
		ToolCallID: r.CallID,
		Name:       r.Name,
		Content:    r.Output,
	}
}
