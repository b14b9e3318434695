package adapters

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// LibSQLCatalogStore implements CatalogStore on a libsql database.
type LibSQLCatalogStore struct {
	db *sql.DB
}

// NewLibSQLCatalogStore applies pending migrations and returns the store.
func NewLibSQLCatalogStore(ctx context.Context, db *sql.DB) (*LibSQLCatalogStore, error) {
	if err := MigrateCatalog(ctx, db); err != nil {
		return nil, err
	}
	return &LibSQLCatalogStore{db: db}, nil
}

// MigrateCatalog runs the embedded goose migrations.
func MigrateCatalog(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectTurso, db, sub)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	return nil
}

// SaveCatalog upserts the listing for snapshot.Backend.
func (s *LibSQLCatalogStore) SaveCatalog(ctx context.Context, snapshot ports.CatalogSnapshot) error {
	modelsJSON, err := json.Marshal(snapshot.Models)
	if err != nil {
		return fmt.Errorf("failed to marshal models: %w", err)
	}
	fetchedAt := snapshot.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	query := `
		INSERT INTO model_catalog (backend, models_json, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(backend) DO UPDATE SET
			models_json = excluded.models_json,
			fetched_at  = excluded.fetched_at
	`
	if _, err := s.db.ExecContext(ctx, query, snapshot.Backend, string(modelsJSON), fetchedAt.Unix()); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	return nil
}

// LoadCatalog returns the stored listing for backend, or nil when none exists.
func (s *LibSQLCatalogStore) LoadCatalog(ctx context.Context, backend string) (*ports.CatalogSnapshot, error) {
	var (
		modelsJSON string
		fetchedAt  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT models_json, fetched_at FROM model_catalog WHERE backend = ?`, backend,
	).Scan(&modelsJSON, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}

	var models []ports.ModelEntry
	if err := json.Unmarshal([]byte(modelsJSON), &models); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	return &ports.CatalogSnapshot{
		Backend:   backend,
		Models:    models,
		FetchedAt: time.Unix(fetchedAt, 0),
	}, nil
}

// Ensure LibSQLCatalogStore implements the CatalogStore interface.
var _ ports.CatalogStore = (*LibSQLCatalogStore)(nil)
