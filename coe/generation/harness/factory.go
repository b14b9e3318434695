package harness

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ep-code-box/CoE/coe/config"
	"github.com/ep-code-box/CoE/coe/generation/harness/adapters"
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/ep-code-box/CoE/coe/generation/models"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // Optional, for the catalog store
	logger zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, db: db, logger: logger}
}

// CreateDispatcher creates the HTTP dispatcher with configured deadlines.
func (f *Factory) CreateDispatcher() ports.Dispatcher {
	return adapters.NewHTTPDispatcher(f.logger,
		adapters.WithTimeouts(f.cfg.Backend.ChatTimeout, f.cfg.Backend.DiscoveryTimeout),
		adapters.WithUserAgent(f.cfg.Backend.UserAgent),
	)
}

// CreateOrchestrator creates a fully wired Orchestrator from config.
func (f *Factory) CreateOrchestrator(dispatcher ports.Dispatcher) *Orchestrator {
	return NewOrchestrator(
		dispatcher,
		f.CreateRegistry(),
		f.CreateInvoker(),
		f.createRateLimiter(),
		f.createTracer(),
		f.CreatePolicy(),
		f.logger,
	)
}

// CreateRegistry creates a tool registry honouring the allowlist.
func (f *Factory) CreateRegistry() *ToolRegistry {
	h := f.cfg.Harness
	opts := []RegistryOption{WithAllowlist(NewAllowlist(h.AllowedTools))}
	if h.ToolkitToolName != "" {
		opts = append(opts, WithToolkitTool(h.ToolkitToolName, ""))
	}
	return NewToolRegistry(f.logger, opts...)
}

// CreateInvoker creates a tool invoker from config.
func (f *Factory) CreateInvoker() *Invoker {
	return NewInvoker(f.logger,
		WithArgumentValidation(f.cfg.Harness.ValidateArguments),
		WithToolTimeout(f.cfg.Harness.ToolTimeout),
	)
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() Policy {
	h := f.cfg.Harness
	policy := Policy{
		MaxIterations:   h.MaxIterations,
		ParallelTools:   h.ParallelTools,
		ToolConcurrency: h.ToolConcurrency,
		ToolTimeout:     h.ToolTimeout,
	}

	// Validate and clamp policy values
	if policy.MaxIterations < 1 {
		policy.MaxIterations = 1
		f.logger.Warn().Int("max_iterations", h.MaxIterations).Msg("MaxIterations clamped to minimum of 1")
	}
	if policy.MaxIterations > 50 {
		policy.MaxIterations = 50
		f.logger.Warn().Int("max_iterations", h.MaxIterations).Msg("MaxIterations clamped to maximum of 50")
	}
	if policy.ToolConcurrency < 1 {
		policy.ToolConcurrency = 1
		f.logger.Warn().Int("tool_concurrency", h.ToolConcurrency).Msg("ToolConcurrency clamped to minimum of 1")
	}
	if policy.ToolTimeout < 0 {
		policy.ToolTimeout = 0
	}

	return policy
}

// CreateCatalog creates a model catalog using the configured cache and store.
func (f *Factory) CreateCatalog(ctx context.Context, dispatcher ports.Dispatcher) (*models.Catalog, error) {
	store, err := f.CreateCatalogStore(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewCatalog(dispatcher,
		models.WithCache(f.createCache(), f.cfg.Catalog.CacheTTLSeconds),
		models.WithStore(store),
		models.WithAllowedOwners(f.cfg.Catalog.AllowedOwners),
		models.WithLogger(f.logger),
	), nil
}

// CreateCatalogStore creates the libsql catalog store, or a no-op one when
// persistence is off or no database is attached.
func (f *Factory) CreateCatalogStore(ctx context.Context) (ports.CatalogStore, error) {
	if !f.cfg.Catalog.Persist || f.db == nil {
		return &noOpStore{}, nil
	}
	store, err := adapters.NewLibSQLCatalogStore(ctx, f.db)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog store: %w", err)
	}
	return store, nil
}

// CreateToolkit exposes the configured sub-agents through runner.
func (f *Factory) CreateToolkit(runner CycleRunner, modelMap func() ModelMap) *AgentToolkit {
	agents := make([]SubAgent, 0, len(f.cfg.Agents))
	for _, a := range f.cfg.Agents {
		if a.Name == "" {
			f.logger.Warn().Str("description", a.Description).Msg("agent without a name skipped")
			continue
		}
		agents = append(agents, SubAgent{
			Name:         a.Name,
			Description:  a.Description,
			SystemPrompt: a.Prompt,
			Model:        a.Model,
		})
	}
	return NewAgentToolkit(runner, AgentDefaults{
		BackendURL: f.cfg.Backend.URL,
		ForceHTTPS: f.cfg.Backend.ForceHTTPS,
		Models:     modelMap,
	}, agents...)
}

// createCache creates a cache adapter from config.
func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Catalog.CacheEnabled {
		return &noOpCache{}
	}
	return adapters.NewLRUCache(f.cfg.Catalog.CacheCapacity)
}

// createRateLimiter creates a rate limiter adapter from config.
func (f *Factory) createRateLimiter() ports.RateLimiter {
	h := f.cfg.Harness
	if !h.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(h.RateLimitCapacity, h.RateLimitRefillRate, f.cfg.Backend.ChatTimeout)
}

// createTracer creates a tracer adapter from config.
func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// noOpCache implements Cache interface with no-op behavior for testing/disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpStore implements CatalogStore interface with no-op behavior.
type noOpStore struct{}

func (s *noOpStore) SaveCatalog(ctx context.Context, snapshot ports.CatalogSnapshot) error {
	return nil
}

func (s *noOpStore) LoadCatalog(ctx context.Context, backend string) (*ports.CatalogSnapshot, error) {
	return nil, nil
}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Cache        = (*noOpCache)(nil)
	_ ports.RateLimiter  = (*noOpRateLimiter)(nil)
	_ ports.Tracer       = (*noOpTracer)(nil)
	_ ports.CatalogStore = (*noOpStore)(nil)
)
