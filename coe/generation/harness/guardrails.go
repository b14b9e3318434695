package harness

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/armon/go-radix"
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultArgsSchema is advertised for tools without a usable schema.
var DefaultArgsSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Allowlist restricts which tool names may be registered. Entries ending in
// "*" match by prefix. An empty Allowlist allows everything.
type Allowlist struct {
	tree *radix.Tree // value: true for prefix entries
}

// NewAllowlist builds an allowlist from exact names and "prefix*" patterns.
func NewAllowlist(patterns []string) *Allowlist {
	a := &Allowlist{tree: radix.New()}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "*") {
			a.tree.Insert(strings.TrimSuffix(p, "*"), true)
			continue
		}
		if _, ok := a.tree.Get(p); !ok {
			a.tree.Insert(p, false)
		}
	}
	return a
}

// Allows reports whether name passes the allowlist.
func (a *Allowlist) Allows(name string) bool {
	if a == nil || a.tree.Len() == 0 {
		return true
	}
	if _, ok := a.tree.Get(name); ok {
		return true
	}
	allowed := false
	a.tree.WalkPath(name, func(_ string, v interface{}) bool {
		if prefix, _ := v.(bool); prefix {
			allowed = true
			return true
		}
		return false
	})
	return allowed
}

// CompileSchema checks raw is a JSON object that compiles as a JSON schema.
func CompileSchema(raw json.RawMessage) (*gojsonschema.Schema, error) {
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("schema is not a JSON object: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema does not compile: %w", err)
	}
	return schema, nil
}

// ValidateArguments checks args against a compiled schema.
func ValidateArguments(schema *gojsonschema.Schema, args ports.Args) error {
	if schema == nil {
		return nil
	}
	doc := map[string]any(args)
	if doc == nil {
		doc = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
	}
	return nil
}
