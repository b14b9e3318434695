package harness

import (
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

// Request is everything one dispatch cycle depends on.
type Request struct {
	ChatText       string
	SystemPrompt   string
	ModelName      string
	BackendURL     string
	ForceHTTPS     bool
	EnableTools    bool
	ToolChoiceAuto bool
	Tools          []ports.Tool  // explicit tools, registered before toolkit tools
	Toolkit        ports.Toolkit // optional
	Models         ModelMap      // filled by the session
}

// ModelMap turns display names into backend model ids.
type ModelMap struct {
	NameToID     map[string]string
	FallbackPool []ports.ModelEntry
}

// Resolve returns the id for name, else the first fallback id, else name itself.
func (m ModelMap) Resolve(name string) string {
	if id := m.NameToID[name]; id != "" {
		return id
	}
	for _, e := range m.FallbackPool {
		if e.ID != "" {
			return e.ID
		}
	}
	return name
}

// BuildChatRequest assembles the chat completion body for one iteration.
// Tools are attached only when the toolset is non-empty.
func BuildChatRequest(model string, turns []ports.ChatMessage, toolset *Toolset, toolChoiceAuto bool) ports.ChatRequest {
	req := ports.ChatRequest{Model: model, Messages: turns}
	if toolset.Len() > 0 {
		req.Tools = toolset.Descriptors()
		if toolChoiceAuto {
			req.ToolChoice = "auto"
		}
	}
	return req
}
