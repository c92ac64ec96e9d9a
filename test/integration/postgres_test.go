//go:build integration

// Package integration contains tests that run the full index lifecycle
// against a real PostgreSQL backend, verifying that the store behaves
// identically to the embedded SQLite default.
//
// The tests also skip themselves when PostgreSQL is unavailable. Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"database/sql"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/postgres"
)

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "searchindex_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "searchindex"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// newPostgresStore opens a store over PostgreSQL or skips the test. The
// schema is reset so every test starts from an empty index.
func newPostgresStore(t *testing.T) *store.Store {
	t.Helper()
	client, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	if err := client.Ping(t.Context()); err != nil {
		client.Close()
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	st, err := store.Open(t.Context(), client)
	if err != nil {
		client.Close()
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	err = st.InTx(t.Context(), func(tx *sql.Tx) error {
		return st.Reset(t.Context(), tx)
	})
	if err != nil {
		t.Fatalf("resetting schema: %v", err)
	}
	return st
}

func TestPostgresLifecycle(t *testing.T) {
	st := newPostgresStore(t)
	ctx := t.Context()

	mut := mutation.NewEngine(st, nil)
	q := query.NewEngine(st, nil)

	if err := mut.InsertWithID(ctx, 1, "the cat sat"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mut.InsertWithID(ctx, 2, "the dog sat"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := q.Search(ctx, []string{"cat"}, query.Disjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].DocID != 1 {
		t.Fatalf("search results = %+v, want doc 1", results)
	}

	if err := mut.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	results, err = q.Search(ctx, []string{"cat"}, query.Disjunctive, 10)
	if err != nil {
		t.Fatalf("search after delete: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("tombstoned document surfaced: %+v", results)
	}

	comp := compactor.New(st, nil, config.CompactionConfig{})
	result, err := comp.Compact(ctx)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if result.DocsPurged != 1 {
		t.Errorf("docs purged = %d, want 1", result.DocsPurged)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.LiveDocuments != 1 || stats.TombstonedDocuments != 0 {
		t.Errorf("stats = %+v, want 1 live 0 tombstoned", stats)
	}

	violations, err := st.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
	for _, v := range violations {
		t.Errorf("integrity violation %s: %s", v.Kind, v.Detail)
	}
}

func TestPostgresPlaceholderRebinding(t *testing.T) {
	st := newPostgresStore(t)
	ctx := t.Context()

	// Multi-value statements exercise the ?-to-$n rewrite on every path:
	// batch term resolution, IN-list postings reads, and batch content
	// fetches.
	mut := mutation.NewEngine(st, nil)
	for i := int64(1); i <= 5; i++ {
		if err := mut.InsertWithID(ctx, i, "alpha beta gamma delta epsilon"); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	terms, err := st.ResolveTerms(ctx, st.DB(), []string{"alpha", "gamma", "epsilon"})
	if err != nil {
		t.Fatalf("resolving terms: %v", err)
	}
	for _, term := range []string{"alpha", "gamma", "epsilon"} {
		if terms[term].DF != 5 {
			t.Errorf("df(%s) = %d, want 5", term, terms[term].DF)
		}
	}

	contents, err := st.ContentsForDocs(ctx, st.DB(), []int64{1, 3, 5})
	if err != nil {
		t.Fatalf("contents for docs: %v", err)
	}
	if len(contents) != 3 {
		t.Errorf("fetched %d contents, want 3", len(contents))
	}
}

func TestPostgresConcurrentQueries(t *testing.T) {
	st := newPostgresStore(t)
	ctx := t.Context()

	mut := mutation.NewEngine(st, nil)
	for i := int64(1); i <= 50; i++ {
		if err := mut.InsertWithID(ctx, i, "shared vocabulary for concurrent reads"); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	q := query.NewEngine(st, nil)

	done := make(chan error, 8)
	for w := 0; w < 8; w++ {
		go func() {
			for i := 0; i < 20; i++ {
				if _, err := q.Search(ctx, []string{"shared", "vocabulary"}, query.Conjunctive, 10); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for w := 0; w < 8; w++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent search: %v", err)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
