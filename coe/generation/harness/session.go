package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
)

// Signature identifies every caller input that can change a cycle's outcome.
type Signature struct {
	ChatText       string
	SystemPrompt   string
	ModelName      string
	BackendURL     string
	ForceHTTPS     bool
	EnableTools    bool
	ToolChoiceAuto bool
	ToolNames      []string // sorted explicit tool names
}

// NewSignature captures req. The backend address is kept as given, not normalized.
func NewSignature(req *Request) Signature {
	names := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		if t == nil {
			continue
		}
		if n := t.Name(); n != "" {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return Signature{
		ChatText:       req.ChatText,
		SystemPrompt:   req.SystemPrompt,
		ModelName:      req.ModelName,
		BackendURL:     req.BackendURL,
		ForceHTTPS:     req.ForceHTTPS,
		EnableTools:    req.EnableTools,
		ToolChoiceAuto: req.ToolChoiceAuto,
		ToolNames:      names,
	}
}

// Equal is field-wise value equality.
func (s Signature) Equal(o Signature) bool {
	return s.ChatText == o.ChatText &&
		s.SystemPrompt == o.SystemPrompt &&
		s.ModelName == o.ModelName &&
		s.BackendURL == o.BackendURL &&
		s.ForceHTTPS == o.ForceHTTPS &&
		s.EnableTools == o.EnableTools &&
		s.ToolChoiceAuto == o.ToolChoiceAuto &&
		slices.Equal(s.ToolNames, o.ToolNames)
}

// Key is a stable digest of the signature, used in logs.
func (s Signature) Key() string {
	h := sha256.New()
	fmt.Fprintf(h, "%q|%q|%q|%q|%t|%t|%t|%q",
		s.ChatText, s.SystemPrompt, s.ModelName, s.BackendURL,
		s.ForceHTTPS, s.EnableTools, s.ToolChoiceAuto, strings.Join(s.ToolNames, "\x00"))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Session memoizes the result of one logical request so that several output
// views share a single dispatch cycle. A new signature discards the cached
// result before anything is read. Failed cycles are not cached.
type Session struct {
	mu     sync.Mutex // guards last and cached for the whole read
	runner CycleRunner
	last   *Signature
	cached *DispatchResult

	modelsMu sync.RWMutex // never held across a dispatch
	models   ModelMap

	logger zerolog.Logger
}

func NewSession(runner CycleRunner, logger zerolog.Logger) *Session {
	return &Session{runner: runner, logger: logger}
}

// SetModels installs the model name map and fallback pool used to resolve ids.
func (s *Session) SetModels(nameToID map[string]string, fallback []ports.ModelEntry) {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()
	s.models = ModelMap{NameToID: nameToID, FallbackPool: fallback}
}

// Models returns the installed model map.
func (s *Session) Models() ModelMap {
	s.modelsMu.RLock()
	defer s.modelsMu.RUnlock()
	return s.models
}

// ModelID returns the id mapped to name, or "" when the name is unknown.
func (s *Session) ModelID(name string) string {
	return s.Models().NameToID[strings.TrimSpace(name)]
}

// Read returns the cached result for req's signature, dispatching a new
// cycle only when the signature changed or no result is cached yet.
func (s *Session) Read(ctx context.Context, req Request) (*DispatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := NewSignature(&req)
	if s.last == nil || !s.last.Equal(sig) {
		if s.cached != nil {
			s.logger.Debug().Str("signature", sig.Key()).Msg("request changed, discarding cached result")
		}
		s.cached = nil
		s.last = &sig
	}
	if s.cached != nil {
		return s.cached, nil
	}

	req.Models = s.Models()
	res, err := s.runner.Dispatch(ctx, &req)
	if err != nil {
		return nil, err
	}
	s.cached = res
	return res, nil
}

// Message reads the structured chat output view.
func (s *Session) Message(ctx context.Context, req Request) (ChatOutput, error) {
	res, err := s.Read(ctx, req)
	if err != nil {
		return ChatOutput{}, err
	}
	return res.MessageView(), nil
}

// Text reads the plain text view.
func (s *Session) Text(ctx context.Context, req Request) (string, error) {
	res, err := s.Read(ctx, req)
	if err != nil {
		return "", err
	}
	return res.TextView(), nil
}

// Response reads the raw structured payload view.
func (s *Session) Response(ctx context.Context, req Request) (map[string]any, error) {
	res, err := s.Read(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.ResponseView(), nil
}

// Reset drops the cached result and signature.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last, s.cached = nil, nil
}
