package harnessports

import (
	"context"
	"time"
)

// ModelEntry is one selectable model: display name and the id sent to the backend.
type ModelEntry struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// CatalogSnapshot is the last successful model listing of one backend.
type CatalogSnapshot struct {
	Backend   string
	Models    []ModelEntry
	FetchedAt time.Time
}

// CatalogStore persists model listings so a restart can survive an offline backend.
type CatalogStore interface {
	SaveCatalog(ctx context.Context, snapshot CatalogSnapshot) error
	LoadCatalog(ctx context.Context, backend string) (*CatalogSnapshot, error) // nil, nil when absent
}
