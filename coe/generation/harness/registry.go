package harness

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// BoundTool is a registered tool with its calling convention fixed.
type BoundTool struct {
	Tool       ports.Tool
	Convention ports.Convention
	Descriptor ports.ToolDescriptor
	schema     *gojsonschema.Schema // nil when the default schema is advertised
}

// Toolset is the ordered, name-unique set of tools offered in one cycle.
type Toolset struct {
	descriptors []ports.ToolDescriptor
	byName      map[string]*BoundTool
}

func newToolset() *Toolset {
	return &Toolset{byName: make(map[string]*BoundTool)}
}

// Len is safe on a nil Toolset.
func (ts *Toolset) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.descriptors)
}

// Lookup finds a tool by exact name.
func (ts *Toolset) Lookup(name string) (*BoundTool, bool) {
	if ts == nil {
		return nil, false
	}
	b, ok := ts.byName[name]
	return b, ok
}

// Descriptors returns the advertised tools in registration order.
func (ts *Toolset) Descriptors() []ports.ToolDescriptor {
	if ts == nil {
		return nil
	}
	out := make([]ports.ToolDescriptor, len(ts.descriptors))
	copy(out, ts.descriptors)
	return out
}

// Names returns tool names in registration order.
func (ts *Toolset) Names() []string {
	names := make([]string, 0, ts.Len())
	for _, d := range ts.Descriptors() {
		names = append(names, d.Function.Name)
	}
	return names
}

func (ts *Toolset) add(b *BoundTool) {
	ts.descriptors = append(ts.descriptors, b.Descriptor)
	ts.byName[b.Descriptor.Function.Name] = b
}

// ToolRegistry turns explicit tools and toolkit tools into a Toolset.
type ToolRegistry struct {
	toolkitToolName    string
	toolkitDescription string
	allow              *Allowlist
	logger             zerolog.Logger
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithToolkitTool sets the name and description asked of a toolkit first.
func WithToolkitTool(name, description string) RegistryOption {
	return func(r *ToolRegistry) {
		r.toolkitToolName = name
		r.toolkitDescription = description
	}
}

// WithAllowlist restricts registration to allowed names.
func WithAllowlist(a *Allowlist) RegistryOption {
	return func(r *ToolRegistry) { r.allow = a }
}

// NewToolRegistry creates a registry that asks toolkits for "Call_Agent" first.
func NewToolRegistry(logger zerolog.Logger, opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{toolkitToolName: "Call_Agent", logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Build registers explicit tools, then toolkit tools. The first tool with a
// given name wins; nameless, disallowed and non-invocable tools are skipped.
func (r *ToolRegistry) Build(ctx context.Context, explicit []ports.Tool, kit ports.Toolkit) *Toolset {
	candidates := make([]ports.Tool, 0, len(explicit))
	candidates = append(candidates, explicit...)
	if kit != nil {
		candidates = append(candidates, r.fetchToolkit(ctx, kit)...)
	}

	ts := newToolset()
	for _, t := range candidates {
		if t == nil {
			continue
		}
		name := strings.TrimSpace(t.Name())
		if name == "" {
			continue
		}
		if _, dup := ts.byName[name]; dup {
			continue
		}
		if !r.allow.Allows(name) {
			r.logger.Debug().Str("tool", name).Msg("tool not in allowlist, skipped")
			continue
		}

		conv, err := Bind(t)
		if err != nil {
			r.logger.Warn().Err(err).Str("tool", name).Msg("tool skipped")
			continue
		}

		params, schema := r.schemaFor(name, t)
		ts.add(&BoundTool{
			Tool:       t,
			Convention: conv,
			Descriptor: ports.ToolDescriptor{
				Type: "function",
				Function: ports.FunctionSpec{
					Name:        name,
					Description: t.Description(),
					Parameters:  params,
				},
			},
			schema: schema,
		})
	}
	return ts
}

func (r *ToolRegistry) fetchToolkit(ctx context.Context, kit ports.Toolkit) []ports.Tool {
	tools, err := kit.Tools(ctx, ports.ToolkitQuery{Name: r.toolkitToolName, Description: r.toolkitDescription})
	if err == nil {
		return tools
	}
	if !errors.Is(err, ports.ErrMultipleTools) {
		r.logger.Warn().Err(err).Msg("toolkit build failed")
		return nil
	}

	tools, err = kit.Tools(ctx, ports.ToolkitQuery{})
	if err != nil {
		r.logger.Warn().Err(err).Msg("toolkit fallback failed")
		return nil
	}
	return tools
}

func (r *ToolRegistry) schemaFor(name string, t ports.Tool) (json.RawMessage, *gojsonschema.Schema) {
	sp, ok := t.(ports.SchemaProvider)
	if !ok {
		return DefaultArgsSchema, nil
	}
	raw, err := sp.ArgsSchema()
	if err != nil || len(raw) == 0 {
		r.logger.Warn().Err(err).Str("tool", name).Msg("schema extraction failed, using default")
		return DefaultArgsSchema, nil
	}
	schema, err := CompileSchema(raw)
	if err != nil {
		r.logger.Warn().Err(err).Str("tool", name).Msg("schema rejected, using default")
		return DefaultArgsSchema, nil
	}
	return raw, schema
}
