package harnessports

import (
	"bytes"
	"encoding/json"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one conversation turn as sent to /v1/chat/completions.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant turns only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool turns only
	Name       string     `json:"name,omitempty"`         // tool turns only
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its arguments as raw JSON text.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON accepts arguments either as a JSON-encoded string or as a
// bare JSON value, which some backends emit. A bare value keeps its raw
// text so it marshals back as a string.
func (f *FunctionCall) UnmarshalJSON(b []byte) error {
	var wire struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	f.Name = wire.Name
	f.Arguments = ""

	raw := bytes.TrimSpace(wire.Arguments)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		return json.Unmarshal(raw, &f.Arguments)
	default:
		f.Arguments = string(raw)
	}
	return nil
}

// ToolDescriptor advertises a callable tool to the model.
type ToolDescriptor struct {
	Type     string       `json:"type"` // always "function"
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the function half of a ToolDescriptor.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON schema object
}

// ChatRequest is the body of POST /v1/chat/completions.
type ChatRequest struct {
	Model      string           `json:"model"`
	Messages   []ChatMessage    `json:"messages"`
	Tools      []ToolDescriptor `json:"tools,omitempty"`
	ToolChoice string           `json:"tool_choice,omitempty"`
}

// ChatResponse is the subset of a chat completion response the loop reads.
type ChatResponse struct {
	Choices []ChatChoice `json:"choices"`
}

type ChatChoice struct {
	Message ResponseMessage `json:"message"`
}

// ResponseMessage differs from ChatMessage in that content may be null.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// FirstMessage returns the message of the first choice, or a zero message.
func (r *ChatResponse) FirstMessage() ResponseMessage {
	if r == nil || len(r.Choices) == 0 {
		return ResponseMessage{}
	}
	return r.Choices[0].Message
}
