package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ep-code-box/CoE/coe/generation/harness/endpoint"
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"
)

// Policy controls orchestration behavior.
type Policy struct {
	MaxIterations   int           // backend calls per cycle
	ParallelTools   bool          // run side-effect-free batches concurrently
	ToolConcurrency int           // max concurrent tool executions
	ToolTimeout     time.Duration // per-tool timeout, zero for none
}

// DefaultPolicy returns the standard eight-iteration sequential policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxIterations:   8,
		ToolConcurrency: 5,
	}
}

// CycleRunner runs one dispatch cycle.
type CycleRunner interface {
	Dispatch(ctx context.Context, req *Request) (*DispatchResult, error)
}

// Orchestrator drives the chat/tool loop against the backend.
type Orchestrator struct {
	dispatcher ports.Dispatcher
	registry   *ToolRegistry
	invoker    *Invoker
	limiter    ports.RateLimiter
	tracer     ports.Tracer
	policy     Policy
	newID      func() string
	logger     zerolog.Logger
}

// NewOrchestrator creates a new orchestrator with dependencies.
func NewOrchestrator(
	dispatcher ports.Dispatcher,
	registry *ToolRegistry,
	invoker *Invoker,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	policy Policy,
	logger zerolog.Logger,
) *Orchestrator {
	if policy.MaxIterations < 1 {
		policy.MaxIterations = DefaultPolicy().MaxIterations
	}
	if policy.ToolConcurrency < 1 {
		policy.ToolConcurrency = 1
	}
	return &Orchestrator{
		dispatcher: dispatcher,
		registry:   registry,
		invoker:    invoker,
		limiter:    limiter,
		tracer:     tracer,
		policy:     policy,
		newID:      uuid.NewString,
		logger:     logger,
	}
}

// Policy returns the effective policy.
func (o *Orchestrator) Policy() Policy { return o.policy }

// Dispatch runs the chat/tool loop until the model answers without tool calls
// or the iteration limit is hit. Tool failures never fail the cycle; only
// transport and decode failures are returned as errors.
func (o *Orchestrator) Dispatch(ctx context.Context, req *Request) (res *DispatchResult, err error) {
	base := endpoint.Normalize(req.BackendURL, req.ForceHTTPS)
	url := endpoint.Join(base, endpoint.ChatCompletionsPath)
	model := req.Models.Resolve(req.ModelName)

	var toolset *Toolset
	if req.EnableTools {
		toolset = o.registry.Build(ctx, req.Tools, req.Toolkit)
	}

	ctx, finish := o.tracer.StartSpan(ctx, "dispatch_cycle", map[string]any{
		"model":      model,
		"backend":    base,
		"tool_count": toolset.Len(),
	})
	defer func() { finish(err) }()

	conv := NewConversation(req.SystemPrompt, req.ChatText)
	var (
		results []ToolCallResult
		raw     json.RawMessage
	)

	for iteration := 1; iteration <= o.policy.MaxIterations; iteration++ {
		payload := BuildChatRequest(model, conv.Turns(), toolset, req.ToolChoiceAuto)

		body, err := o.call(ctx, base, url, payload, iteration)
		if err != nil {
			return nil, err
		}
		raw = body

		var resp ports.ChatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &ports.ProtocolError{URL: url, Body: truncateBody(body), Err: fmt.Errorf("decode chat response: %w", err)}
		}
		msg := resp.FirstMessage()
		conv.Append(assistantTurn(msg))

		if len(msg.ToolCalls) == 0 {
			return &DispatchResult{
				Message:      finalMessage(msg),
				Raw:          rawOrEmpty(raw),
				Conversation: conv.Turns(),
				ToolResults:  results,
				State:        StateDone,
				Iterations:   iteration,
			}, nil
		}

		batch := o.executeTools(ctx, toolset, msg.ToolCalls)
		for _, r := range batch {
			conv.Append(toolTurn(r))
		}
		results = append(results, batch...)
	}

	o.logger.Warn().Int("max_iterations", o.policy.MaxIterations).Str("model", model).Msg("tool-execution limit exceeded")
	o.tracer.Event(ctx, "limit_exceeded", map[string]any{"iterations": o.policy.MaxIterations})

	return &DispatchResult{
		Message:      FinalMessage{Role: ports.RoleAssistant, Content: LimitExceededMessage},
		Raw:          rawOrEmpty(raw),
		Conversation: conv.Turns(),
		ToolResults:  results,
		State:        StateLimitExceeded,
		Iterations:   o.policy.MaxIterations,
	}, nil
}

func (o *Orchestrator) call(ctx context.Context, base, url string, payload ports.ChatRequest, iteration int) (body []byte, err error) {
	release, err := o.limiter.Acquire(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer release()

	ctx, finish := o.tracer.StartSpan(ctx, "backend_call", map[string]any{
		"iteration": iteration,
		"messages":  len(payload.Messages),
		"tools":     len(payload.Tools),
	})
	defer func() { finish(err) }()

	body, err = o.dispatcher.Dispatch(ctx, url, payload)
	if err != nil {
		return nil, fmt.Errorf("chat completion (iteration %d): %w", iteration, err)
	}
	return body, nil
}

// executeTools runs one batch of tool calls and returns results in call order.
func (o *Orchestrator) executeTools(ctx context.Context, ts *Toolset, calls []ports.ToolCall) []ToolCallResult {
	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.ID
		if strings.TrimSpace(ids[i]) == "" {
			ids[i] = o.newID()
		}
	}

	if ts.Len() == 0 {
		out := make([]ToolCallResult, len(calls))
		for i, c := range calls {
			name := strings.TrimSpace(c.Function.Name)
			out[i] = ToolCallResult{CallID: ids[i], Name: name, Output: fmt.Sprintf("Tool '%s' unavailable.", name), Error: true}
		}
		return out
	}

	for _, c := range calls {
		o.tracer.Event(ctx, "tool_call", map[string]any{"tool": c.Function.Name})
	}

	if !o.parallelizable(ts, calls) {
		out := make([]ToolCallResult, len(calls))
		for i, c := range calls {
			out[i] = o.invoker.Execute(ctx, ts, c, ids[i])
		}
		return out
	}

	type job struct {
		call ports.ToolCall
		id   string
	}
	jobs := make([]job, len(calls))
	for i, c := range calls {
		jobs[i] = job{call: c, id: ids[i]}
	}
	mapper := iter.Mapper[job, ToolCallResult]{MaxGoroutines: o.policy.ToolConcurrency}
	return mapper.Map(jobs, func(j *job) ToolCallResult {
		return o.invoker.Execute(ctx, ts, j.call, j.id)
	})
}

// parallelizable reports whether every call in the batch targets a
// registered side-effect-free tool.
func (o *Orchestrator) parallelizable(ts *Toolset, calls []ports.ToolCall) bool {
	if !o.policy.ParallelTools || len(calls) < 2 {
		return false
	}
	for _, c := range calls {
		b, ok := ts.Lookup(strings.TrimSpace(c.Function.Name))
		if !ok {
			return false
		}
		pure, ok := b.Tool.(ports.SideEffectFree)
		if !ok || !pure.SideEffectFree() {
			return false
		}
	}
	return true
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}

var _ CycleRunner = (*Orchestrator)(nil)
