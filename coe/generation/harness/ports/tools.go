package harnessports

import (
	"context"
	"encoding/json"
)

// Args is the decoded argument object of a tool call.
type Args map[string]any

// Tool is anything the model can call. A usable Tool also implements exactly
// one of the invocation interfaces below; when it implements several, the
// first in declaration order wins.
type Tool interface {
	Name() string
	Description() string
}

// AsyncInvokable tools receive the argument object and settle on a channel.
type AsyncInvokable interface {
	Tool
	InvokeAsync(ctx context.Context, args Args) <-chan Outcome
}

// SyncInvokable tools receive the argument object and return directly.
// The returned value may be an Awaitable, which is awaited.
type SyncInvokable interface {
	Tool
	Invoke(ctx context.Context, args Args) (any, error)
}

// AsyncRunnable tools receive keyword arguments and settle on a channel.
type AsyncRunnable interface {
	Tool
	RunAsync(ctx context.Context, kwargs Args) <-chan Outcome
}

// SyncRunnable tools receive keyword arguments and return directly.
type SyncRunnable interface {
	Tool
	Run(ctx context.Context, kwargs Args) (any, error)
}

// PlainCallable tools are bare functions wrapped with a name.
type PlainCallable interface {
	Tool
	Call(ctx context.Context, kwargs Args) (any, error)
}

// Outcome is the settled value of an asynchronous invocation.
type Outcome struct {
	Value any
	Err   error
}

// Awaitable is a deferred tool result.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// SchemaProvider supplies the JSON schema of a tool's arguments.
type SchemaProvider interface {
	ArgsSchema() (json.RawMessage, error)
}

// SideEffectFree tools may run concurrently with each other.
type SideEffectFree interface {
	SideEffectFree() bool
}

// Serializable results render themselves as a JSON object.
type Serializable interface {
	ToMap() (map[string]any, error)
}

// JSONEncodable results render themselves as JSON text.
type JSONEncodable interface {
	ToJSON() (string, error)
}

// ToolkitQuery narrows what a Toolkit returns. An empty Name asks for everything.
type ToolkitQuery struct {
	Name        string
	Description string
}

// Toolkit exposes tools derived from a host component.
type Toolkit interface {
	Tools(ctx context.Context, q ToolkitQuery) ([]Tool, error)
}

// Convention identifies the invocation interface a tool was bound to.
type Convention int

const (
	ConventionNone Convention = iota
	ConventionAsyncInvoke
	ConventionSyncInvoke
	ConventionAsyncRun
	ConventionSyncRun
	ConventionCall
)

func (c Convention) String() string {
	switch c {
	case ConventionAsyncInvoke:
		return "async_invoke"
	case ConventionSyncInvoke:
		return "invoke"
	case ConventionAsyncRun:
		return "async_run"
	case ConventionSyncRun:
		return "run"
	case ConventionCall:
		return "call"
	default:
		return "none"
	}
}
