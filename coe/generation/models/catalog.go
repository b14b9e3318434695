// Package models discovers the chat models a backend offers and keeps the
// display-name to id mapping the harness resolves model selections with.
package models

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ep-code-box/CoE/coe/generation/harness/endpoint"
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultAllowedOwners are the model owners kept from a listing.
var DefaultAllowedOwners = []string{"openai", "sktax"}

// Source tells where the current catalog came from.
type Source string

const (
	SourceNone     Source = ""
	SourceBackend  Source = "backend"
	SourceCache    Source = "cache"
	SourceStore    Source = "store"
	SourceFallback Source = "fallback"
)

// FallbackModels is the static catalog used when discovery yields nothing.
func FallbackModels() []ports.ModelEntry {
	return []ports.ModelEntry{
		{Name: "GPT-4o Mini", ID: "gpt-4o-mini"},
		{Name: "GPT-4o", ID: "gpt-4o"},
		{Name: "text-embedding-3-small", ID: "text-embedding-3-small"},
		{Name: "AX4 Model", ID: "ax4"},
	}
}

// Catalog holds the models of the most recently refreshed backend.
type Catalog struct {
	dispatcher ports.Dispatcher
	cache      ports.Cache
	cacheTTL   int
	store      ports.CatalogStore
	owners     map[string]struct{}
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.RWMutex
	entries []ports.ModelEntry
	source  Source
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithCache memoizes listings per backend for ttlSeconds.
func WithCache(c ports.Cache, ttlSeconds int) Option {
	return func(cat *Catalog) {
		cat.cache = c
		cat.cacheTTL = ttlSeconds
	}
}

// WithStore persists the last good listing of each backend.
func WithStore(s ports.CatalogStore) Option {
	return func(cat *Catalog) { cat.store = s }
}

// WithAllowedOwners replaces the owner filter. Matching is case-insensitive.
func WithAllowedOwners(owners []string) Option {
	return func(cat *Catalog) { cat.owners = ownerSet(owners) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(cat *Catalog) { cat.logger = l }
}

func NewCatalog(d ports.Dispatcher, opts ...Option) *Catalog {
	c := &Catalog{
		dispatcher: d,
		owners:     ownerSet(DefaultAllowedOwners),
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh lists the models of base. Discovery failures never fail the
// refresh: a persisted listing is tried next, then the static fallback.
// Only a cancelled ctx is returned as an error.
func (c *Catalog) Refresh(ctx context.Context, base string, forceHTTPS bool) ([]ports.ModelEntry, error) {
	base = endpoint.Normalize(base, forceHTTPS)
	key := "models:" + base

	if c.cache != nil {
		if body, ok := c.cache.Get(ctx, key); ok {
			if entries := c.parse(body); len(entries) > 0 {
				return c.set(entries, SourceCache), nil
			}
		}
	}

	body, err := c.dispatcher.Fetch(ctx, endpoint.Join(base, endpoint.ModelsPath))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("backend", base).Msg("model discovery failed")
		if entries := c.loadStored(ctx, base); len(entries) > 0 {
			return c.set(entries, SourceStore), nil
		}
		c.logger.Info().Str("backend", base).Msg("using fallback model list")
		return c.set(FallbackModels(), SourceFallback), nil
	}

	entries := c.parse(body)
	if len(entries) == 0 {
		c.logger.Info().Str("backend", base).Msg("backend returned no models, using fallback model list")
		return c.set(FallbackModels(), SourceFallback), nil
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL); err != nil {
			c.logger.Debug().Err(err).Msg("model listing not cached")
		}
	}
	if c.store != nil {
		snap := ports.CatalogSnapshot{Backend: base, Models: entries, FetchedAt: c.now()}
		if err := c.store.SaveCatalog(ctx, snap); err != nil {
			c.logger.Warn().Err(err).Str("backend", base).Msg("failed to persist model listing")
		}
	}

	c.logger.Info().Int("models", len(entries)).Str("backend", base).Msg("models loaded")
	return c.set(entries, SourceBackend), nil
}

func (c *Catalog) loadStored(ctx context.Context, base string) []ports.ModelEntry {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.LoadCatalog(ctx, base)
	if err != nil {
		c.logger.Warn().Err(err).Str("backend", base).Msg("failed to load persisted model listing")
		return nil
	}
	if snap == nil {
		return nil
	}
	c.logger.Info().Time("fetched_at", snap.FetchedAt).Str("backend", base).Msg("using persisted model listing")
	return snap.Models
}

func (c *Catalog) parse(body []byte) []ports.ModelEntry {
	return parseModels(body, c.owners)
}

func (c *Catalog) set(entries []ports.ModelEntry, src Source) []ports.ModelEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = slices.Clone(entries)
	c.source = src
	return slices.Clone(entries)
}

// Models returns the current catalog in display order.
func (c *Catalog) Models() []ports.ModelEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries)
}

// Names returns the display names in order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Name
	}
	return names
}

// NameToID maps display names to ids.
func (c *Catalog) NameToID() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := make(map[string]string, len(c.entries))
	for _, e := range c.entries {
		m[e.Name] = e.ID
	}
	return m
}

// FallbackPool is consulted when a selected name has no id.
func (c *Catalog) FallbackPool() []ports.ModelEntry {
	return FallbackModels()
}

// ModelID returns the id for name, or "" when it is not in the catalog.
func (c *Catalog) ModelID(name string) string {
	name = strings.TrimSpace(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Name == name {
			return e.ID
		}
	}
	return ""
}

// Select keeps current when the catalog offers it, else picks the first model.
func (c *Catalog) Select(current string) string {
	names := c.Names()
	if len(names) == 0 {
		return current
	}
	if current != "" && slices.Contains(names, current) {
		return current
	}
	return names[0]
}

// Source reports where the current catalog came from.
func (c *Catalog) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// ParseModels reads "result.data" when it is a non-empty array, else "data".
// Entries whose owned_by is not allowed, or that lack an id, are dropped.
// The name defaults to the id. The result is sorted by lower-cased name.
func ParseModels(body []byte, owners []string) []ports.ModelEntry {
	return parseModels(body, ownerSet(owners))
}

func parseModels(body []byte, owners map[string]struct{}) []ports.ModelEntry {
	data := gjson.GetBytes(body, "result.data")
	if !data.IsArray() || len(data.Array()) == 0 {
		data = gjson.GetBytes(body, "data")
	}
	if !data.IsArray() {
		return nil
	}

	var entries []ports.ModelEntry
	for _, item := range data.Array() {
		if !item.IsObject() {
			continue
		}
		owner := strings.ToLower(strings.TrimSpace(item.Get("owned_by").String()))
		if _, ok := owners[owner]; !ok {
			continue
		}
		id := strings.TrimSpace(item.Get("id").String())
		name := strings.TrimSpace(item.Get("name").String())
		if name == "" {
			name = id
		}
		if id == "" || name == "" {
			continue
		}
		entries = append(entries, ports.ModelEntry{Name: name, ID: id, OwnedBy: owner})
	}

	slices.SortStableFunc(entries, func(a, b ports.ModelEntry) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return entries
}

func ownerSet(owners []string) map[string]struct{} {
	set := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			set[o] = struct{}{}
		}
	}
	return set
}
