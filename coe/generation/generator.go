package generation

import (
	"context"
	"strings"

	internal "github.com/ep-code-box/CoE/coe"
	"github.com/ep-code-box/CoE/coe/config"
	"github.com/ep-code-box/CoE/coe/generation/harness"
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

// Outputs are the views a host reads from one request. Views of the same
// input share a single dispatch cycle.
type Outputs interface {
	ChatOutput(ctx context.Context, in Input) (harness.ChatOutput, error)
	TextOutput(ctx context.Context, in Input) (string, error)
	ResponseOutput(ctx context.Context, in Input) (map[string]any, error)
	ModelID(in Input) string
}

// Input is what a host supplies for one request.
type Input struct {
	ChatText       string
	Prompt         string
	ModelName      string
	BackendURL     string
	ForceHTTPS     bool
	EnableTools    bool
	ToolChoiceAuto bool
	Tools          []ports.Tool
}

// NewInput fills an Input from configuration.
func NewInput(cfg *config.Config, chatText string) Input {
	return Input{
		ChatText:       chatText,
		Prompt:         cfg.Harness.SystemPrompt,
		BackendURL:     cfg.Backend.URL,
		ForceHTTPS:     cfg.Backend.ForceHTTPS,
		EnableTools:    cfg.Harness.EnableTools,
		ToolChoiceAuto: cfg.Harness.ToolChoiceAuto,
	}
}

// normalized trims the text fields a host may pad. Chat text is kept as is.
func (in Input) normalized() Input {
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.ModelName = strings.TrimSpace(in.ModelName)
	in.BackendURL = strings.TrimSpace(in.BackendURL)
	if in.BackendURL == "" {
		in.BackendURL = internal.DefaultBackendURL
	}
	return in
}

func (in Input) request(kit ports.Toolkit) harness.Request {
	return harness.Request{
		ChatText:       in.ChatText,
		SystemPrompt:   in.Prompt,
		ModelName:      in.ModelName,
		BackendURL:     in.BackendURL,
		ForceHTTPS:     in.ForceHTTPS,
		EnableTools:    in.EnableTools,
		ToolChoiceAuto: in.ToolChoiceAuto,
		Tools:          in.Tools,
		Toolkit:        kit,
	}
}
