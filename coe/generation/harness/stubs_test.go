package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
)

// scriptedDispatcher replays canned chat responses; the last one repeats.
type scriptedDispatcher struct {
	mu        sync.Mutex
	responses []string
	err       error
	urls      []string
	requests  []ports.ChatRequest
}

func newScripted(responses ...string) *scriptedDispatcher {
	return &scriptedDispatcher{responses: responses}
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, url string, payload any) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	req, _ := payload.(ports.ChatRequest)
	req.Messages = slices.Clone(req.Messages)
	d.urls = append(d.urls, url)
	d.requests = append(d.requests, req)

	if d.err != nil {
		return nil, d.err
	}
	i := min(len(d.requests)-1, len(d.responses)-1)
	return []byte(d.responses[i]), nil
}

func (d *scriptedDispatcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return nil, errors.New("fetch not scripted")
}

func (d *scriptedDispatcher) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func contentResponse(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
}

// toolCallResponse asks for one call per name/arguments pair.
func toolCallResponse(calls ...ports.ToolCall) string {
	b, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{
			"message": map[string]any{"role": "assistant", "content": nil, "tool_calls": calls},
		}},
	})
	if err != nil {
		panic(err)
	}
	return string(b)
}

func call(id, name, args string) ports.ToolCall {
	return ports.ToolCall{ID: id, Type: "function", Function: ports.FunctionCall{Name: name, Arguments: args}}
}

func newTestOrchestrator(d ports.Dispatcher, policy Policy) *Orchestrator {
	logger := zerolog.Nop()
	return NewOrchestrator(d, NewToolRegistry(logger), NewInvoker(logger), &noOpRateLimiter{}, &noOpTracer{}, policy, logger)
}

type toolBase struct {
	name string
	desc string
}

func (t toolBase) Name() string        { return t.name }
func (t toolBase) Description() string { return t.desc }

// syncTool implements SyncInvokable.
type syncTool struct {
	toolBase
	fn   func(ctx context.Context, args ports.Args) (any, error)
	pure bool
}

func (t *syncTool) Invoke(ctx context.Context, args ports.Args) (any, error) { return t.fn(ctx, args) }
func (t *syncTool) SideEffectFree() bool                                    { return t.pure }

// asyncTool implements AsyncInvokable.
type asyncTool struct {
	toolBase
	fn func(ctx context.Context, args ports.Args) (any, error)
}

func (t *asyncTool) InvokeAsync(ctx context.Context, args ports.Args) <-chan ports.Outcome {
	ch := make(chan ports.Outcome, 1)
	go func() {
		defer close(ch)
		v, err := t.fn(ctx, args)
		ch <- ports.Outcome{Value: v, Err: err}
	}()
	return ch
}

// runTool implements SyncRunnable.
type runTool struct {
	toolBase
	fn func(ctx context.Context, kwargs ports.Args) (any, error)
}

func (t *runTool) Run(ctx context.Context, kwargs ports.Args) (any, error) { return t.fn(ctx, kwargs) }

// asyncRunTool implements AsyncRunnable.
type asyncRunTool struct {
	toolBase
	value any
}

func (t *asyncRunTool) RunAsync(ctx context.Context, kwargs ports.Args) <-chan ports.Outcome {
	ch := make(chan ports.Outcome, 1)
	ch <- ports.Outcome{Value: t.value}
	close(ch)
	return ch
}

// callTool implements PlainCallable.
type callTool struct {
	toolBase
	fn func(ctx context.Context, kwargs ports.Args) (any, error)
}

func (t *callTool) Call(ctx context.Context, kwargs ports.Args) (any, error) { return t.fn(ctx, kwargs) }

// everyTool implements every convention and reports which one ran.
type everyTool struct{ toolBase }

func (t *everyTool) InvokeAsync(ctx context.Context, args ports.Args) <-chan ports.Outcome {
	ch := make(chan ports.Outcome, 1)
	ch <- ports.Outcome{Value: "async_invoke"}
	close(ch)
	return ch
}
func (t *everyTool) Invoke(ctx context.Context, args ports.Args) (any, error) { return "invoke", nil }
func (t *everyTool) RunAsync(ctx context.Context, kwargs ports.Args) <-chan ports.Outcome {
	return nil
}
func (t *everyTool) Run(ctx context.Context, kwargs ports.Args) (any, error)  { return "run", nil }
func (t *everyTool) Call(ctx context.Context, kwargs ports.Args) (any, error) { return "call", nil }

// inertTool has a name but no way to be called.
type inertTool struct{ toolBase }

// schemaTool advertises a custom schema.
type schemaTool struct {
	syncTool
	schema json.RawMessage
	err    error
}

func (t *schemaTool) ArgsSchema() (json.RawMessage, error) { return t.schema, t.err }

func echoTool() *syncTool {
	return &syncTool{
		toolBase: toolBase{name: "echo", desc: "Echo the text back"},
		fn: func(_ context.Context, args ports.Args) (any, error) {
			return args["text"], nil
		},
		pure: true,
	}
}

// deferred is an Awaitable result.
type deferred struct{ v any }

func (d deferred) Await(context.Context) (any, error) { return d.v, nil }

// stubToolkit returns fixed tools and can refuse named queries.
type stubToolkit struct {
	tools       []ports.Tool
	refuseNamed bool
	err         error
	queries     []ports.ToolkitQuery
}

func (k *stubToolkit) Tools(_ context.Context, q ports.ToolkitQuery) ([]ports.Tool, error) {
	k.queries = append(k.queries, q)
	if k.err != nil {
		return nil, k.err
	}
	if q.Name != "" && k.refuseNamed {
		return nil, ports.ErrMultipleTools
	}
	return k.tools, nil
}

var (
	_ ports.SyncInvokable  = (*syncTool)(nil)
	_ ports.AsyncInvokable = (*asyncTool)(nil)
	_ ports.SyncRunnable   = (*runTool)(nil)
	_ ports.AsyncRunnable  = (*asyncRunTool)(nil)
	_ ports.PlainCallable  = (*callTool)(nil)
	_ ports.SchemaProvider = (*schemaTool)(nil)
	_ ports.Toolkit        = (*stubToolkit)(nil)
)
