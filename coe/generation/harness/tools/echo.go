package tools

import (
	"context"
	"encoding/json"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
)

const echoSchema = `{"type":"object","properties":{"text":{"type":"string","description":"Text to repeat"}},"required":["text"]}`

// Echo returns its text argument unchanged.
type Echo struct{}

func NewEcho() *Echo { return &Echo{} }

func (*Echo) Name() string        { return "echo" }
func (*Echo) Description() string { return "Repeat the given text back verbatim." }

func (*Echo) ArgsSchema() (json.RawMessage, error) { return json.RawMessage(echoSchema), nil }

func (*Echo) SideEffectFree() bool { return true }

func (*Echo) Invoke(_ context.Context, args ports.Args) (any, error) {
	return stringArg(args, "text")
}

var (
	_ ports.SyncInvokable  = (*Echo)(nil)
	_ ports.SchemaProvider = (*Echo)(nil)
	_ ports.SideEffectFree = (*Echo)(nil)
)
