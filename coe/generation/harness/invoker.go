package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
)

// ErrNotInvocable is returned by Bind for tools without an invocation interface.
var ErrNotInvocable = errors.New("tool object is not callable")

var errClosedOutcome = errors.New("tool settled without a value")

// Bind picks the calling convention of t, preferring async invoke, then
// invoke, async run, run and finally a plain call.
func Bind(t ports.Tool) (ports.Convention, error) {
	switch t.(type) {
	case ports.AsyncInvokable:
		return ports.ConventionAsyncInvoke, nil
	case ports.SyncInvokable:
		return ports.ConventionSyncInvoke, nil
	case ports.AsyncRunnable:
		return ports.ConventionAsyncRun, nil
	case ports.SyncRunnable:
		return ports.ConventionSyncRun, nil
	case ports.PlainCallable:
		return ports.ConventionCall, nil
	default:
		return ports.ConventionNone, fmt.Errorf("%w: %T", ErrNotInvocable, t)
	}
}

// Invoker executes tool calls against a Toolset and never fails the cycle:
// every problem becomes an error-flagged ToolCallResult.
type Invoker struct {
	validate bool
	timeout  time.Duration
	logger   zerolog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithArgumentValidation checks arguments against tool schemas before invoking.
func WithArgumentValidation(on bool) InvokerOption {
	return func(i *Invoker) { i.validate = on }
}

// WithToolTimeout bounds each tool execution. Zero means no bound.
func WithToolTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) { i.timeout = d }
}

func NewInvoker(logger zerolog.Logger, opts ...InvokerOption) *Invoker {
	i := &Invoker{logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Execute runs one tool call. callID is copied into the result as-is.
func (i *Invoker) Execute(ctx context.Context, ts *Toolset, call ports.ToolCall, callID string) ToolCallResult {
	name := strings.TrimSpace(call.Function.Name)
	res := ToolCallResult{CallID: callID, Name: name}

	if name == "" {
		res.Output, res.Error = "Tool call missing function name.", true
		return res
	}
	bound, ok := ts.Lookup(name)
	if !ok {
		res.Output, res.Error = fmt.Sprintf("Tool '%s' is not available.", name), true
		return res
	}

	args := i.parseArgs(name, call.Function.Arguments)
	if i.validate {
		if err := ValidateArguments(bound.schema, args); err != nil {
			res.Output, res.Error = fmt.Sprintf("Tool '%s' execution failed: %v", name, err), true
			return res
		}
	}

	out, err := i.run(ctx, bound, args)
	if err != nil {
		i.logger.Warn().Err(err).Str("tool", name).Msg("tool execution failed")
		res.Output, res.Error = fmt.Sprintf("Tool '%s' execution failed: %v", name, err), true
		return res
	}

	i.logger.Debug().Str("tool", name).Str("convention", bound.Convention.String()).Str("output_kind", out.Kind.String()).Msg("tool executed")
	res.Output = out.Text
	return res
}

// run invokes and formats under one panic guard.
func (i *Invoker) run(ctx context.Context, bound *BoundTool, args ports.Args) (out ToolOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	v, err := invoke(ctx, bound, args)
	if err != nil {
		return ToolOutput{}, err
	}
	return FormatOutput(v), nil
}

func invoke(ctx context.Context, bound *BoundTool, args ports.Args) (any, error) {
	switch bound.Convention {
	case ports.ConventionAsyncInvoke:
		return await(ctx, bound.Tool.(ports.AsyncInvokable).InvokeAsync(ctx, args))
	case ports.ConventionSyncInvoke:
		v, err := bound.Tool.(ports.SyncInvokable).Invoke(ctx, args)
		return settle(ctx, v, err)
	case ports.ConventionAsyncRun:
		return await(ctx, bound.Tool.(ports.AsyncRunnable).RunAsync(ctx, args))
	case ports.ConventionSyncRun:
		v, err := bound.Tool.(ports.SyncRunnable).Run(ctx, args)
		return settle(ctx, v, err)
	case ports.ConventionCall:
		v, err := bound.Tool.(ports.PlainCallable).Call(ctx, args)
		return settle(ctx, v, err)
	default:
		return nil, ErrNotInvocable
	}
}

// settle awaits deferred results returned by synchronous conventions.
func settle(ctx context.Context, v any, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	switch d := v.(type) {
	case ports.Awaitable:
		return d.Await(ctx)
	case <-chan ports.Outcome:
		return await(ctx, d)
	default:
		return v, nil
	}
}

func await(ctx context.Context, ch <-chan ports.Outcome) (any, error) {
	if ch == nil {
		return nil, errClosedOutcome
	}
	select {
	case o, ok := <-ch:
		if !ok {
			return nil, errClosedOutcome
		}
		return o.Value, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseArgs decodes the raw argument text. Invalid JSON yields an empty
// object; a non-object value is wrapped as {"input": value}.
func (i *Invoker) parseArgs(name, raw string) ports.Args {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ports.Args{}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		i.logger.Warn().Err(err).Str("tool", name).Msg("failed to parse tool arguments, using {}")
		return ports.Args{}
	}
	if m, ok := v.(map[string]any); ok {
		return ports.Args(m)
	}
	return ports.Args{"input": v}
}

// OutputKind tags which formatting strategy produced a ToolOutput.
type OutputKind int

const (
	OutputEmpty OutputKind = iota
	OutputText
	OutputStructured
	OutputEncoded
	OutputMapping
	OutputGeneric
	OutputFallback
)

func (k OutputKind) String() string {
	switch k {
	case OutputText:
		return "text"
	case OutputStructured:
		return "structured"
	case OutputEncoded:
		return "encoded"
	case OutputMapping:
		return "mapping"
	case OutputGeneric:
		return "generic"
	case OutputFallback:
		return "fallback"
	default:
		return "empty"
	}
}

// ToolOutput is a tool result rendered as text.
type ToolOutput struct {
	Kind OutputKind
	Text string
}

// FormatOutput renders a tool result: nil is empty, text passes through,
// Serializable and JSONEncodable render themselves, maps and other values
// become JSON, and anything unmarshalable falls back to fmt.
func FormatOutput(v any) ToolOutput {
	switch r := v.(type) {
	case nil:
		return ToolOutput{Kind: OutputEmpty}
	case string:
		return ToolOutput{Kind: OutputText, Text: r}
	case json.RawMessage:
		return ToolOutput{Kind: OutputText, Text: string(r)}
	case []byte:
		return ToolOutput{Kind: OutputText, Text: string(r)}
	case ports.Serializable:
		if m, err := r.ToMap(); err == nil {
			if s, err := marshalText(m); err == nil {
				return ToolOutput{Kind: OutputStructured, Text: s}
			}
		}
	case ports.JSONEncodable:
		if s, err := r.ToJSON(); err == nil {
			return ToolOutput{Kind: OutputEncoded, Text: s}
		}
	case map[string]any:
		if s, err := marshalText(r); err == nil {
			return ToolOutput{Kind: OutputMapping, Text: s}
		}
	}

	if s, err := marshalText(v); err == nil {
		return ToolOutput{Kind: OutputGeneric, Text: s}
	}
	return ToolOutput{Kind: OutputFallback, Text: fmt.Sprint(v)}
}

// marshalText encodes v as compact JSON without HTML escaping.
func marshalText(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
