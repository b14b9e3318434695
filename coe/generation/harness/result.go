package harness

import (
	"encoding/json"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

// LimitExceededMessage is the assistant content of a cycle that ran out of iterations.
const LimitExceededMessage = "automatic tool-execution limit exceeded"

// State is the terminal state of a dispatch cycle.
type State string

const (
	StateDone          State = "DONE"
	StateLimitExceeded State = "LIMIT_EXCEEDED"
)

// ToolCallResult is the outcome of executing one tool call.
type ToolCallResult struct {
	CallID string `json:"tool_call_id"`
	Name   string `json:"name"`
	Output string `json:"output"`
	Error  bool   `json:"error,omitempty"`
}

// FinalMessage is the assistant message a cycle ends with.
type FinalMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ports.ToolCall `json:"tool_calls,omitempty"`
}

// DispatchResult is the consolidated outcome of a dispatch cycle.
type DispatchResult struct {
	Message      FinalMessage        `json:"message"`
	Raw          json.RawMessage     `json:"raw"`
	Conversation []ports.ChatMessage `json:"conversation"`
	ToolResults  []ToolCallResult    `json:"tool_results,omitempty"`
	State        State               `json:"state"`
	Iterations   int                 `json:"iterations"`
}

func finalMessage(msg ports.ResponseMessage) FinalMessage {
	role := msg.Role
	if role == "" {
		role = ports.RoleAssistant
	}
	var content string
	switch {
	case msg.Content != nil:
		content = *msg.Content
	case len(msg.ToolCalls) > 0:
		content = "[tool_calls]"
	}
	return FinalMessage{Role: role, Content: content, ToolCalls: msg.ToolCalls}
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
