package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

// Func is the body of a FuncTool.
type Func func(ctx context.Context, kwargs ports.Args) (any, error)

// FuncTool wraps a plain function as a named tool.
type FuncTool struct {
	name        string
	description string
	schema      json.RawMessage
	fn          Func
}

// NewFuncTool creates a FuncTool. A nil schema advertises an empty object.
func NewFuncTool(name, description string, schema json.RawMessage, fn Func) *FuncTool {
	return &FuncTool{name: name, description: description, schema: schema, fn: fn}
}

func (t *FuncTool) Name() string        { return t.name }
func (t *FuncTool) Description() string { return t.description }

func (t *FuncTool) ArgsSchema() (json.RawMessage, error) {
	if len(t.schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`), nil
	}
	return t.schema, nil
}

func (t *FuncTool) Call(ctx context.Context, kwargs ports.Args) (any, error) {
	return t.fn(ctx, kwargs)
}

// Builtins returns every built-in tool. fs_metadata is rooted at basePath.
func Builtins(basePath string) []ports.Tool {
	return []ports.Tool{
		NewEcho(),
		NewInternationalAge(),
		NewCurrentTime(),
		NewFSMetadataTool(basePath),
	}
}

func stringArg(args ports.Args, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}

func boolArg(args ports.Args, key string) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean, got %T", key, v)
	}
	return b, nil
}

func intArg(args ports.Args, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, n)
		}
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}

var (
	_ ports.PlainCallable  = (*FuncTool)(nil)
	_ ports.SchemaProvider = (*FuncTool)(nil)
)
