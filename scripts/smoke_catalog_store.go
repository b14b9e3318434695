//go:build integration
// +build integration

package scripts

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ep-code-box/CoE/coe/db"
	"github.com/ep-code-box/CoE/coe/generation/harness/adapters"
	ports "github.com/ep-code-box/CoE/coe/generation/harness/ports"
	"github.com/rs/zerolog"
)

func must(err error, msg string) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}

// RunSmokeCatalogStore checks that the embedded libsql build can run the
// catalog migrations and round-trip a snapshot.
func RunSmokeCatalogStore(dir string) {
	fmt.Println("Smoke test: libsql catalog store")
	ctx := context.Background()
	path := filepath.Join(dir, "smoke.db")
	defer os.Remove(path)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	conn, err := db.ConnectToDB(ctx, path, logger)
	must(err, "connect")
	defer conn.Close()
	fmt.Println("OK: connect")

	store, err := adapters.NewLibSQLCatalogStore(ctx, conn)
	must(err, "migrate")
	fmt.Println("OK: migrations")

	// Running the migrations twice must be a no-op.
	must(adapters.MigrateCatalog(ctx, conn), "re-migrate")
	fmt.Println("OK: migrations idempotent")

	var jsonRes string
	must(conn.QueryRowContext(ctx, "SELECT json_extract('{\"test\":\"value\"}', '$.test')").Scan(&jsonRes), "JSON1 query")
	if jsonRes != "value" {
		log.Fatalf("JSON1 returned unexpected: %v", jsonRes)
	}
	fmt.Println("OK: JSON1")

	snap := ports.CatalogSnapshot{
		Backend:   "http://smoke:8000",
		Models:    []ports.ModelEntry{{Name: "GPT-4o", ID: "gpt-4o", OwnedBy: "openai"}},
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
	must(store.SaveCatalog(ctx, snap), "save snapshot")

	got, err := store.LoadCatalog(ctx, snap.Backend)
	must(err, "load snapshot")
	if got == nil || len(got.Models) != 1 || got.Models[0].ID != "gpt-4o" {
		log.Fatalf("snapshot round trip returned %+v", got)
	}
	fmt.Println("OK: snapshot round trip")

	missing, err := store.LoadCatalog(ctx, "http://unknown:8000")
	must(err, "load missing snapshot")
	if missing != nil {
		log.Fatalf("expected no snapshot for an unknown backend, got %+v", missing)
	}
	fmt.Println("OK: unknown backend")

	fmt.Println("Smoke checks completed.")
}
