package harness

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SessionTestSuite struct {
	suite.Suite
	dispatcher *scriptedDispatcher
	session    *Session
	req        Request
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (s *SessionTestSuite) SetupTest() {
	s.dispatcher = newScripted(contentResponse("pong"))
	s.session = NewSession(newTestOrchestrator(s.dispatcher, DefaultPolicy()), zerolog.Nop())
	s.session.SetModels(map[string]string{"GPT-4o": "gpt-4o"}, []ports.ModelEntry{{Name: "GPT-4o Mini", ID: "gpt-4o-mini"}})
	s.req = Request{
		ChatText:       "ping",
		SystemPrompt:   "be brief",
		ModelName:      "GPT-4o",
		BackendURL:     "http://backend:8000",
		EnableTools:    true,
		ToolChoiceAuto: true,
		Tools:          []ports.Tool{named("b"), named("a")},
	}
}

func (s *SessionTestSuite) TestViewsShareOneCycle() {
	ctx := context.Background()

	msg, err := s.session.Message(ctx, s.req)
	require.NoError(s.T(), err)
	text, err := s.session.Text(ctx, s.req)
	require.NoError(s.T(), err)
	resp, err := s.session.Response(ctx, s.req)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), 1, s.dispatcher.calls())
	assert.Equal(s.T(), "pong", msg.Text)
	assert.Equal(s.T(), "pong", text)
	assert.Equal(s.T(), StateDone, resp["state"])
	assert.Equal(s.T(), "gpt-4o", s.dispatcher.requests[0].Model)
}

func (s *SessionTestSuite) TestSameSignatureReturnsCachedResult() {
	ctx := context.Background()

	first, err := s.session.Read(ctx, s.req)
	require.NoError(s.T(), err)

	again := s.req
	again.Tools = []ports.Tool{named("a"), named("b")} // order does not matter
	second, err := s.session.Read(ctx, again)
	require.NoError(s.T(), err)

	assert.Same(s.T(), first, second)
	assert.Equal(s.T(), 1, s.dispatcher.calls())
}

func (s *SessionTestSuite) TestAnyFieldChangeInvalidates() {
	ctx := context.Background()
	mutations := map[string]func(r *Request){
		"chat text":        func(r *Request) { r.ChatText = "ping!" },
		"system prompt":    func(r *Request) { r.SystemPrompt = "" },
		"model name":       func(r *Request) { r.ModelName = "GPT-4o Mini" },
		"backend url":      func(r *Request) { r.BackendURL = "http://backend:8000/" },
		"force https":      func(r *Request) { r.ForceHTTPS = true },
		"enable tools":     func(r *Request) { r.EnableTools = false },
		"tool choice auto": func(r *Request) { r.ToolChoiceAuto = false },
		"tool names":       func(r *Request) { r.Tools = []ports.Tool{named("a")} },
	}

	for name, mutate := range mutations {
		s.session.Reset()
		_, err := s.session.Read(ctx, s.req)
		require.NoError(s.T(), err)
		before := s.dispatcher.calls()

		changed := s.req
		mutate(&changed)
		_, err = s.session.Read(ctx, changed)
		require.NoError(s.T(), err, name)
		assert.Equal(s.T(), before+1, s.dispatcher.calls(), name)

		// Reading the changed request again is served from the cache.
		_, err = s.session.Read(ctx, changed)
		require.NoError(s.T(), err, name)
		assert.Equal(s.T(), before+1, s.dispatcher.calls(), name)
	}
}

func (s *SessionTestSuite) TestFailuresAreNotCached() {
	ctx := context.Background()
	s.dispatcher.err = ports.ErrNetworkUnreachable

	_, err := s.session.Read(ctx, s.req)
	require.ErrorIs(s.T(), err, ports.ErrNetworkUnreachable)

	s.dispatcher.err = nil
	res, err := s.session.Read(ctx, s.req)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "pong", res.Message.Content)
	assert.Equal(s.T(), 2, s.dispatcher.calls())
}

func (s *SessionTestSuite) TestModelID() {
	assert.Equal(s.T(), "gpt-4o", s.session.ModelID(" GPT-4o "))
	assert.Equal(s.T(), "", s.session.ModelID("unknown"))
}

func TestSignature(t *testing.T) {
	req := &Request{ChatText: "x", Tools: []ports.Tool{named("z"), named("a"), nil, named("")}}
	sig := NewSignature(req)

	assert.Equal(t, []string{"a", "z"}, sig.ToolNames)
	assert.True(t, sig.Equal(NewSignature(req)))
	assert.Equal(t, sig.Key(), NewSignature(req).Key())

	other := NewSignature(&Request{ChatText: "y", Tools: req.Tools})
	assert.False(t, sig.Equal(other))
	assert.NotEqual(t, sig.Key(), other.Key())
}

func TestViews_ToolCallsMessage(t *testing.T) {
	calls := []ports.ToolCall{call("c1", "echo", `{"text":"hi"}`)}
	res := &DispatchResult{
		Message:     finalMessage(ports.ResponseMessage{Role: ports.RoleAssistant, ToolCalls: calls}),
		ToolResults: []ToolCallResult{{CallID: "c0", Name: "echo", Output: "hi"}},
		State:       StateDone,
	}

	assert.Equal(t, "[tool_calls]", res.Message.Content)

	view := res.MessageView()
	assert.Equal(t, "AI", view.Sender)
	assert.Equal(t, "[tool_calls]", view.Text)
	assert.Equal(t, calls, view.ToolCalls)
	assert.Equal(t, calls, view.Data["tool_calls"])
	assert.Equal(t, res.ToolResults, view.Data["tool_results"])
	assert.Equal(t, json.RawMessage("{}"), view.Data["raw_response"])

	assert.JSONEq(t,
		`{"tool_calls":[{"id":"c1","type":"function","function":{"name":"echo","arguments":"{\"text\":\"hi\"}"}}]}`,
		res.TextView())

	payload := res.ResponseView()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"raw":{}`)
	assert.Contains(t, string(b), `"sender":"AI"`)
}

func TestViews_PlainMessage(t *testing.T) {
	content := "hello"
	res := &DispatchResult{
		Message: finalMessage(ports.ResponseMessage{Content: &content}),
		Raw:     json.RawMessage(`{"id":"r1"}`),
	}

	assert.Equal(t, "hello", res.TextView())
	view := res.MessageView()
	assert.Equal(t, ports.RoleAssistant, view.Role)
	assert.NotContains(t, view.Data, "tool_calls")
	assert.NotContains(t, view.Data, "tool_results")
	assert.Equal(t, "hello", view.Data["text"])
}

type erroringRunner struct{ calls int }

func (r *erroringRunner) Dispatch(context.Context, *Request) (*DispatchResult, error) {
	r.calls++
	return nil, errors.New("backend exploded")
}

func TestSession_ViewErrors(t *testing.T) {
	runner := &erroringRunner{}
	s := NewSession(runner, zerolog.Nop())
	ctx := context.Background()

	_, err := s.Message(ctx, Request{})
	assert.Error(t, err)
	_, err = s.Text(ctx, Request{})
	assert.Error(t, err)
	_, err = s.Response(ctx, Request{})
	assert.Error(t, err)
	assert.Equal(t, 3, runner.calls)
}
