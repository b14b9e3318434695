package generation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/ep-code-box/CoE/coe/config"
	"github.com/ep-code-box/CoE/coe/db"
	"github.com/ep-code-box/CoE/coe/generation/harness"
	"github.com/ep-code-box/CoE/coe/generation/harness/endpoint"
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/ep-code-box/CoE/coe/generation/models"
	"github.com/rs/zerolog"
)

// Agent bridges a host to the harness: it keeps the model catalog of the
// current backend installed in a session and serves the session's views.
type Agent struct {
	catalog *models.Catalog
	session *harness.Session
	toolkit ports.Toolkit // optional
	logger  zerolog.Logger

	mu       sync.Mutex
	loadedAt string // normalized backend whose models are installed
}

// NewAgent creates an Agent. toolkit may be nil.
func NewAgent(catalog *models.Catalog, session *harness.Session, toolkit ports.Toolkit, logger zerolog.Logger) *Agent {
	return &Agent{catalog: catalog, session: session, toolkit: toolkit, logger: logger}
}

// Build wires an Agent from configuration. The returned close function
// releases the catalog database when persistence is on.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Agent, func() error, error) {
	var conn *sql.DB
	closeFn := func() error { return nil }
	if cfg.Catalog.Persist {
		c, err := db.ConnectToDB(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open catalog database: %w", err)
		}
		conn, closeFn = c, c.Close
	}

	f := harness.NewFactory(cfg, conn, logger)
	dispatcher := f.CreateDispatcher()
	orchestrator := f.CreateOrchestrator(dispatcher)
	session := harness.NewSession(orchestrator, logger)

	catalog, err := f.CreateCatalog(ctx, dispatcher)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}

	var kit ports.Toolkit
	if len(cfg.Agents) > 0 {
		kit = f.CreateToolkit(orchestrator, session.Models)
	}
	return NewAgent(catalog, session, kit, logger), closeFn, nil
}

// RefreshModels reloads the catalog of base and installs it. It returns the
// model to use: current when the catalog offers it, else the first model.
func (a *Agent) RefreshModels(ctx context.Context, base string, forceHTTPS bool, current string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refresh(ctx, base, forceHTTPS, current)
}

func (a *Agent) refresh(ctx context.Context, base string, forceHTTPS bool, current string) (string, error) {
	if _, err := a.catalog.Refresh(ctx, base, forceHTTPS); err != nil {
		return current, fmt.Errorf("failed to refresh models: %w", err)
	}
	a.session.SetModels(a.catalog.NameToID(), a.catalog.FallbackPool())
	a.loadedAt = endpoint.Normalize(base, forceHTTPS)
	return a.catalog.Select(current), nil
}

// Models lists the display names of the installed catalog.
func (a *Agent) Models() []string {
	return a.catalog.Names()
}

// Reset forgets the cached result and the installed catalog.
func (a *Agent) Reset() {
	a.mu.Lock()
	a.loadedAt = ""
	a.mu.Unlock()
	a.session.Reset()
}

// prepare installs the models of in's backend when they are not loaded yet
// and picks a model when none is named.
func (a *Agent) prepare(ctx context.Context, in Input) (harness.Request, error) {
	in = in.normalized()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loadedAt != endpoint.Normalize(in.BackendURL, in.ForceHTTPS) {
		if _, err := a.refresh(ctx, in.BackendURL, in.ForceHTTPS, in.ModelName); err != nil {
			return harness.Request{}, err
		}
	}
	if in.ModelName == "" {
		in.ModelName = a.catalog.Select("")
	}
	return in.request(a.toolkit), nil
}

// ChatOutput returns the structured chat message.
func (a *Agent) ChatOutput(ctx context.Context, in Input) (harness.ChatOutput, error) {
	req, err := a.prepare(ctx, in)
	if err != nil {
		return harness.ChatOutput{}, err
	}
	return a.session.Message(ctx, req)
}

// TextOutput returns the plain text view.
func (a *Agent) TextOutput(ctx context.Context, in Input) (string, error) {
	req, err := a.prepare(ctx, in)
	if err != nil {
		return "", err
	}
	return a.session.Text(ctx, req)
}

// ResponseOutput returns the full response payload.
func (a *Agent) ResponseOutput(ctx context.Context, in Input) (map[string]any, error) {
	req, err := a.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	return a.session.Response(ctx, req)
}

// ModelID returns the backend id of in's model, or "" when it is unknown.
// It never triggers a discovery request.
func (a *Agent) ModelID(in Input) string {
	return a.session.ModelID(in.ModelName)
}

var _ Outputs = (*Agent)(nil)
