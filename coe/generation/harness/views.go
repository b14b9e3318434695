package harness

import (
	"encoding/json"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

// ChatOutput is the structured chat message handed to a host.
type ChatOutput struct {
	Text      string           `json:"text"`
	Content   string           `json:"content"`
	Sender    string           `json:"sender"`
	Role      string           `json:"role"`
	ToolCalls []ports.ToolCall `json:"tool_calls,omitempty"`
	Data      map[string]any   `json:"data"`
}

// MessageView renders the final message with a data block carrying text,
// tool calls, tool results and the raw backend response.
func (r *DispatchResult) MessageView() ChatOutput {
	data := map[string]any{
		"text":         r.Message.Content,
		"raw_response": rawOrEmpty(r.Raw),
	}
	if len(r.Message.ToolCalls) > 0 {
		data["tool_calls"] = r.Message.ToolCalls
	}
	if len(r.ToolResults) > 0 {
		data["tool_results"] = r.ToolResults
	}
	return ChatOutput{
		Text:      r.Message.Content,
		Content:   r.Message.Content,
		Sender:    "AI",
		Role:      r.Message.Role,
		ToolCalls: r.Message.ToolCalls,
		Data:      data,
	}
}

// TextView is the message content, or {"tool_calls": [...]} JSON when the
// final message carries tool calls.
func (r *DispatchResult) TextView() string {
	if len(r.Message.ToolCalls) > 0 {
		s, err := marshalText(map[string]any{"tool_calls": r.Message.ToolCalls})
		if err != nil {
			return "[tool_calls]"
		}
		return s
	}
	return r.Message.Content
}

// ResponseView is the raw structured payload: message, raw response and conversation.
func (r *DispatchResult) ResponseView() map[string]any {
	return map[string]any{
		"message":      r.MessageView(),
		"raw":          json.RawMessage(rawOrEmpty(r.Raw)),
		"conversation": r.Conversation,
		"state":        r.State,
	}
}
