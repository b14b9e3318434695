package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

// SubAgent is a prompt-specialised model exposed to the main model as a tool.
type SubAgent struct {
	Name         string
	Description  string
	SystemPrompt string
	Model        string // empty inherits the toolkit default
}

// AgentDefaults are the backend settings nested cycles inherit.
type AgentDefaults struct {
	BackendURL string
	ForceHTTPS bool
	Model      string
	Models     func() ModelMap // optional, resolves display names to ids
}

// AgentToolkit turns configured sub-agents into tools. Each tool runs a nested,
// tool-less dispatch cycle and returns the sub-agent's answer.
type AgentToolkit struct {
	runner   CycleRunner
	agents   []SubAgent
	defaults AgentDefaults
}

func NewAgentToolkit(runner CycleRunner, defaults AgentDefaults, agents ...SubAgent) *AgentToolkit {
	return &AgentToolkit{runner: runner, agents: agents, defaults: defaults}
}

// Tools returns the sub-agent tools. A named query can only be honoured with
// a single agent, which is then exposed under the requested name.
func (k *AgentToolkit) Tools(ctx context.Context, q ports.ToolkitQuery) ([]ports.Tool, error) {
	if q.Name != "" {
		switch len(k.agents) {
		case 0:
			return nil, nil
		case 1:
			a := k.agents[0]
			a.Name = q.Name
			if q.Description != "" {
				a.Description = q.Description
			}
			return []ports.Tool{k.tool(a)}, nil
		default:
			return nil, fmt.Errorf("%w: %d agents configured", ports.ErrMultipleTools, len(k.agents))
		}
	}

	tools := make([]ports.Tool, 0, len(k.agents))
	for _, a := range k.agents {
		tools = append(tools, k.tool(a))
	}
	return tools, nil
}

func (k *AgentToolkit) tool(a SubAgent) *agentTool {
	if a.Model == "" {
		a.Model = k.defaults.Model
	}
	if a.Description == "" {
		a.Description = fmt.Sprintf("Ask the %s agent. Pass the request as input.", a.Name)
	}
	return &agentTool{agent: a, kit: k}
}

type agentTool struct {
	agent SubAgent
	kit   *AgentToolkit
}

var agentArgsSchema = json.RawMessage(`{"type":"object","properties":{"input":{"type":"string","description":"Request for the agent"}},"required":["input"]}`)

func (t *agentTool) Name() string        { return t.agent.Name }
func (t *agentTool) Description() string { return t.agent.Description }

func (t *agentTool) ArgsSchema() (json.RawMessage, error) { return agentArgsSchema, nil }

func (t *agentTool) InvokeAsync(ctx context.Context, args ports.Args) <-chan ports.Outcome {
	out := make(chan ports.Outcome, 1)
	go func() {
		defer close(out)
		v, err := t.ask(ctx, args)
		out <- ports.Outcome{Value: v, Err: err}
	}()
	return out
}

func (t *agentTool) ask(ctx context.Context, args ports.Args) (string, error) {
	input := argText(args)
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("agent %s: empty input", t.agent.Name)
	}

	req := &Request{
		ChatText:     input,
		SystemPrompt: t.agent.SystemPrompt,
		ModelName:    t.agent.Model,
		BackendURL:   t.kit.defaults.BackendURL,
		ForceHTTPS:   t.kit.defaults.ForceHTTPS,
	}
	if t.kit.defaults.Models != nil {
		req.Models = t.kit.defaults.Models()
	}

	res, err := t.kit.runner.Dispatch(ctx, req)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", t.agent.Name, err)
	}
	return res.Message.Content, nil
}

// argText extracts the request text: "input" when present, else the whole
// argument object as JSON.
func argText(args ports.Args) string {
	if v, ok := args["input"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return FormatOutput(v).Text
	}
	if len(args) == 0 {
		return ""
	}
	return FormatOutput(map[string]any(args)).Text
}

var (
	_ ports.Toolkit        = (*AgentToolkit)(nil)
	_ ports.AsyncInvokable = (*agentTool)(nil)
	_ ports.SchemaProvider = (*agentTool)(nil)
)
