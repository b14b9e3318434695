package harness

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ep-code-box/CoE/coe/generation/harness/adapters"
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_PingPong(t *testing.T) {
	d := newScripted(contentResponse("pong"))
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{
		ChatText:       "ping",
		BackendURL:     "http://backend:8000/",
		EnableTools:    true,
		ToolChoiceAuto: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "pong", res.Message.Content)
	assert.Equal(t, ports.RoleAssistant, res.Message.Role)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Iterations)
	require.Len(t, res.Conversation, 2)
	assert.Equal(t, ports.RoleUser, res.Conversation[0].Role)
	assert.Equal(t, ports.RoleAssistant, res.Conversation[1].Role)
	assert.Equal(t, 1, d.calls())
	assert.Equal(t, "http://backend:8000/v1/chat/completions", d.urls[0])

	// No tools registered: neither tools nor tool_choice are sent.
	assert.Empty(t, d.requests[0].Tools)
	assert.Empty(t, d.requests[0].ToolChoice)
	assert.JSONEq(t, contentResponse("pong"), string(res.Raw))
}

func TestOrchestrator_EchoToolScenario(t *testing.T) {
	d := newScripted(
		toolCallResponse(call("call_1", "echo", `{"text":"hi"}`)),
		contentResponse("done"),
	)
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{
		ChatText:       "say hi",
		ModelName:      "GPT-4o",
		EnableTools:    true,
		ToolChoiceAuto: true,
		Tools:          []ports.Tool{echoTool()},
		Models:         ModelMap{NameToID: map[string]string{"GPT-4o": "gpt-4o"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "done", res.Message.Content)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, d.calls())
	require.Len(t, res.Conversation, 4)

	assistant := res.Conversation[1]
	assert.Equal(t, ports.RoleAssistant, assistant.Role)
	assert.Equal(t, "", assistant.Content, "null content becomes empty string")
	require.Len(t, assistant.ToolCalls, 1)

	tool := res.Conversation[2]
	assert.Equal(t, ports.RoleTool, tool.Role)
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, "hi", tool.Content)

	require.Len(t, res.ToolResults, 1)
	assert.False(t, res.ToolResults[0].Error)

	// The second request carries user, assistant and tool turns.
	second := d.requests[1]
	assert.Len(t, second.Messages, 3)
	assert.Equal(t, "gpt-4o", second.Model)
	require.Len(t, second.Tools, 1)
	assert.Equal(t, "function", second.Tools[0].Type)
	assert.Equal(t, "echo", second.Tools[0].Function.Name)
	assert.Equal(t, "auto", second.ToolChoice)
}

func TestOrchestrator_ObjectArgumentsAreAccepted(t *testing.T) {
	d := newScripted(
		`{"choices":[{"message":{"role":"assistant","content":null,`+
			`"tool_calls":[{"id":"call_1","type":"function","function":{"name":"echo","arguments":{"text":"hi"}}}]}}]}`,
		contentResponse("done"),
	)
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{
		ChatText:       "say hi",
		EnableTools:    true,
		ToolChoiceAuto: true,
		Tools:          []ports.Tool{echoTool()},
	})

	require.NoError(t, err)
	assert.Equal(t, "done", res.Message.Content)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, d.calls())
	require.Len(t, res.Conversation, 4)
	assert.Equal(t, "hi", res.Conversation[2].Content)

	// Arguments go back to the backend in string form.
	second := d.requests[1]
	require.Len(t, second.Messages[1].ToolCalls, 1)
	assert.Equal(t, `{"text":"hi"}`, second.Messages[1].ToolCalls[0].Function.Arguments)
}

func TestOrchestrator_SystemPromptTurn(t *testing.T) {
	d := newScripted(contentResponse("ok"))
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{ChatText: "hi", SystemPrompt: "be brief"})
	require.NoError(t, err)
	require.Len(t, res.Conversation, 3)
	assert.Equal(t, ports.ChatMessage{Role: ports.RoleSystem, Content: "be brief"}, res.Conversation[0])

	res, err = o.Dispatch(context.Background(), &Request{ChatText: "hi", SystemPrompt: "   "})
	require.NoError(t, err)
	assert.Len(t, res.Conversation, 2, "blank prompts add no system turn")
}

func TestOrchestrator_IterationLimit(t *testing.T) {
	d := newScripted(toolCallResponse(call("c", "echo", `{"text":"again"}`)))
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{
		ChatText:    "loop",
		EnableTools: true,
		Tools:       []ports.Tool{echoTool()},
	})

	require.NoError(t, err)
	assert.Equal(t, StateLimitExceeded, res.State)
	assert.Equal(t, LimitExceededMessage, res.Message.Content)
	assert.Equal(t, 8, d.calls(), "no ninth dispatch")
	assert.Equal(t, 8, res.Iterations)
	assert.Len(t, res.ToolResults, 8)
	assert.NotEqual(t, "{}", string(res.Raw))
	// user + 8 x (assistant, tool)
	assert.Len(t, res.Conversation, 17)
}

func TestOrchestrator_CustomIterationLimit(t *testing.T) {
	d := newScripted(toolCallResponse(call("c", "echo", `{}`)))
	o := newTestOrchestrator(d, Policy{MaxIterations: 2})

	res, err := o.Dispatch(context.Background(), &Request{EnableTools: true, Tools: []ports.Tool{echoTool()}})

	require.NoError(t, err)
	assert.Equal(t, StateLimitExceeded, res.State)
	assert.Equal(t, 2, d.calls())
}

func TestOrchestrator_UnknownToolIsFlagged(t *testing.T) {
	d := newScripted(
		toolCallResponse(call("c1", "missing", `{}`)),
		contentResponse("sorry"),
	)
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{EnableTools: true, Tools: []ports.Tool{echoTool()}})

	require.NoError(t, err)
	require.Len(t, res.ToolResults, 1)
	assert.True(t, res.ToolResults[0].Error)
	assert.Equal(t, "Tool 'missing' is not available.", res.ToolResults[0].Output)
	assert.Equal(t, "sorry", res.Message.Content)
}

func TestOrchestrator_EmptyToolsetMarksEveryCallUnavailable(t *testing.T) {
	d := newScripted(
		toolCallResponse(call("c1", "echo", `{}`), call("c2", "lookup", `{}`)),
		contentResponse("fine"),
	)
	o := newTestOrchestrator(d, DefaultPolicy())

	// Tools exist but tool calling is disabled, so the toolset is empty.
	res, err := o.Dispatch(context.Background(), &Request{EnableTools: false, Tools: []ports.Tool{echoTool()}})

	require.NoError(t, err)
	require.Len(t, res.ToolResults, 2)
	assert.Equal(t, ToolCallResult{CallID: "c1", Name: "echo", Output: "Tool 'echo' unavailable.", Error: true}, res.ToolResults[0])
	assert.Equal(t, ToolCallResult{CallID: "c2", Name: "lookup", Output: "Tool 'lookup' unavailable.", Error: true}, res.ToolResults[1])
	assert.Empty(t, d.requests[0].Tools)
}

func TestOrchestrator_MissingCallIDGetsGenerated(t *testing.T) {
	d := newScripted(
		toolCallResponse(call("", "echo", `{"text":"x"}`)),
		contentResponse("ok"),
	)
	o := newTestOrchestrator(d, DefaultPolicy())
	o.newID = func() string { return "generated-id" }

	res, err := o.Dispatch(context.Background(), &Request{EnableTools: true, Tools: []ports.Tool{echoTool()}})

	require.NoError(t, err)
	assert.Equal(t, "generated-id", res.ToolResults[0].CallID)
	assert.Equal(t, "generated-id", res.Conversation[2].ToolCallID)
}

func TestOrchestrator_ToolFailureDoesNotAbort(t *testing.T) {
	failing := &syncTool{
		toolBase: toolBase{name: "flaky"},
		fn: func(context.Context, ports.Args) (any, error) {
			return nil, errors.New("disk full")
		},
	}
	d := newScripted(
		toolCallResponse(call("c1", "flaky", `{}`)),
		contentResponse("handled"),
	)
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{EnableTools: true, Tools: []ports.Tool{failing}})

	require.NoError(t, err)
	assert.Equal(t, "Tool 'flaky' execution failed: disk full", res.ToolResults[0].Output)
	assert.True(t, res.ToolResults[0].Error)
	assert.Equal(t, "handled", res.Message.Content)
}

func TestOrchestrator_ToolChoiceDisabled(t *testing.T) {
	d := newScripted(contentResponse("ok"))
	o := newTestOrchestrator(d, DefaultPolicy())

	_, err := o.Dispatch(context.Background(), &Request{EnableTools: true, ToolChoiceAuto: false, Tools: []ports.Tool{echoTool()}})

	require.NoError(t, err)
	assert.Len(t, d.requests[0].Tools, 1)
	assert.Empty(t, d.requests[0].ToolChoice)
}

func TestOrchestrator_ForceHTTPS(t *testing.T) {
	d := newScripted(contentResponse("ok"))
	o := newTestOrchestrator(d, DefaultPolicy())

	_, err := o.Dispatch(context.Background(), &Request{BackendURL: "http://backend:8000", ForceHTTPS: true})

	require.NoError(t, err)
	assert.Equal(t, "https://backend:8000/v1/chat/completions", d.urls[0])
}

func TestOrchestrator_ModelResolution(t *testing.T) {
	d := newScripted(contentResponse("ok"))
	o := newTestOrchestrator(d, DefaultPolicy())

	_, err := o.Dispatch(context.Background(), &Request{
		ModelName: "unknown",
		Models:    ModelMap{FallbackPool: []ports.ModelEntry{{Name: "GPT-4o Mini", ID: "gpt-4o-mini"}}},
	})
	require.NoError(t, err)
	_, err = o.Dispatch(context.Background(), &Request{ModelName: "raw-model"})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", d.requests[0].Model)
	assert.Equal(t, "raw-model", d.requests[1].Model)
}

func TestOrchestrator_NullContentFinalMessage(t *testing.T) {
	d := newScripted(`{"choices":[{"message":{"role":"assistant","content":null}}]}`)
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{ChatText: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "", res.Message.Content)
	assert.Equal(t, StateDone, res.State)
}

func TestOrchestrator_NoChoices(t *testing.T) {
	d := newScripted(`{"choices":[]}`)
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{ChatText: "hi"})

	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, ports.RoleAssistant, res.Message.Role)
}

func TestOrchestrator_DispatchErrorPropagates(t *testing.T) {
	d := newScripted()
	d.err = &ports.ProtocolError{URL: "x", StatusCode: http.StatusBadGateway}
	o := newTestOrchestrator(d, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{ChatText: "hi"})

	assert.Nil(t, res)
	var pe *ports.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadGateway, pe.StatusCode)
}

func TestOrchestrator_UndecodableResponse(t *testing.T) {
	d := newScripted(`["not","an","object"]`)
	o := newTestOrchestrator(d, DefaultPolicy())

	_, err := o.Dispatch(context.Background(), &Request{ChatText: "hi"})

	var pe *ports.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestOrchestrator_ParallelSideEffectFreeBatch(t *testing.T) {
	var running, peak atomic.Int32
	slow := func(name string) *syncTool {
		return &syncTool{
			toolBase: toolBase{name: name},
			pure:     true,
			fn: func(_ context.Context, args ports.Args) (any, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				running.Add(-1)
				return name, nil
			},
		}
	}
	d := newScripted(
		toolCallResponse(call("1", "a", `{}`), call("2", "b", `{}`), call("3", "c", `{}`)),
		contentResponse("ok"),
	)
	o := newTestOrchestrator(d, Policy{MaxIterations: 8, ParallelTools: true, ToolConcurrency: 3})

	res, err := o.Dispatch(context.Background(), &Request{
		EnableTools: true,
		Tools:       []ports.Tool{slow("a"), slow("b"), slow("c")},
	})

	require.NoError(t, err)
	require.Len(t, res.ToolResults, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{res.ToolResults[0].Output, res.ToolResults[1].Output, res.ToolResults[2].Output})
	assert.Equal(t, "1", res.Conversation[2].ToolCallID)
	assert.Equal(t, "3", res.Conversation[4].ToolCallID)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestOrchestrator_ParallelNeedsSideEffectFreeTools(t *testing.T) {
	var running, peak atomic.Int32
	tool := func(name string, pure bool) *syncTool {
		return &syncTool{
			toolBase: toolBase{name: name},
			pure:     pure,
			fn: func(context.Context, ports.Args) (any, error) {
				n := running.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return name, nil
			},
		}
	}
	d := newScripted(
		toolCallResponse(call("1", "a", `{}`), call("2", "b", `{}`)),
		contentResponse("ok"),
	)
	o := newTestOrchestrator(d, Policy{MaxIterations: 8, ParallelTools: true, ToolConcurrency: 4})

	_, err := o.Dispatch(context.Background(), &Request{
		EnableTools: true,
		Tools:       []ports.Tool{tool("a", true), tool("b", false)},
	})

	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load(), "a batch with a side-effecting tool runs sequentially")
}

// deadURL returns the address of a server that no longer listens.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestOrchestrator_OverHTTPWithFallbackHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req ports.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(contentResponse("via fallback: " + req.Messages[0].Content)))
	}))
	defer srv.Close()

	// The primary host is dead; the fallback rewrites it to the live server.
	dead := deadURL(t)
	logger := zerolog.Nop()
	dispatcher := adapters.NewHTTPDispatcher(logger, adapters.WithFallback(func(u string) string {
		return strings.Replace(u, dead, srv.URL, 1)
	}))
	o := newTestOrchestrator(dispatcher, DefaultPolicy())

	res, err := o.Dispatch(context.Background(), &Request{ChatText: "ping", BackendURL: dead})

	require.NoError(t, err)
	assert.Equal(t, "via fallback: ping", res.Message.Content)
	assert.Equal(t, int32(1), hits.Load())
}

func TestOrchestrator_OverHTTPBothHostsDown(t *testing.T) {
	logger := zerolog.Nop()
	other := deadURL(t)
	dispatcher := adapters.NewHTTPDispatcher(logger, adapters.WithFallback(func(string) string {
		return other + "/v1/chat/completions"
	}))
	o := newTestOrchestrator(dispatcher, DefaultPolicy())

	_, err := o.Dispatch(context.Background(), &Request{ChatText: "ping", BackendURL: deadURL(t)})

	assert.ErrorIs(t, err, ports.ErrNetworkUnreachable)
}

func TestBuildChatRequest(t *testing.T) {
	turns := []ports.ChatMessage{{Role: ports.RoleUser, Content: "hi"}}

	req := BuildChatRequest("m", turns, nil, true)
	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"m","messages":[{"role":"user","content":"hi"}]}`, string(b))

	ts := NewToolRegistry(zerolog.Nop()).Build(context.Background(), []ports.Tool{echoTool()}, nil)
	req = BuildChatRequest("m", turns, ts, true)
	b, err = json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"m","messages":[{"role":"user","content":"hi"}],
		"tools":[{"type":"function","function":{"name":"echo","description":"Echo the text back","parameters":{"type":"object","properties":{}}}}],
		"tool_choice":"auto"}`, string(b))
}
