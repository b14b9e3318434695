package adapters

import (
	"context"
	"time"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
)

type spanKey struct{}

// span is the active span stored in the context.
type span struct {
	path   string // parent/child span names
	logger zerolog.Logger
}

// ZerologTracer implements the Tracer interface using zerolog.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a new zerolog tracer.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// StartSpan opens a span nested under any span already in ctx.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	parent := t.logger
	path := name
	if s, ok := ctx.Value(spanKey{}).(*span); ok {
		parent = s.logger
		path = s.path + "/" + name
	}

	lc := parent.With().Str("span", path)
	for k, v := range attrs {
		lc = lc.Interface(k, v)
	}
	s := &span{path: path, logger: lc.Logger()}
	ctx = context.WithValue(ctx, spanKey{}, s)

	start := time.Now()
	s.logger.Debug().Str("event", "span_start").Msg("span started")

	return ctx, func(err error) {
		ev := s.logger.Info()
		if err != nil {
			ev = s.logger.Error().Err(err)
		}
		ev.Str("event", "span_end").Dur("duration", time.Since(start)).Msg("span finished")
	}
}

// Event logs name with attrs under the active span, if any.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if s, ok := ctx.Value(spanKey{}).(*span); ok {
		logger = s.logger
	}

	ev := logger.Info().Str("event", name)
	for k, v := range attrs {
		ev = ev.Interface(k, v)
	}
	ev.Msg("trace event")
}

// Ensure ZerologTracer implements the Tracer interface.
var _ ports.Tracer = (*ZerologTracer)(nil)
