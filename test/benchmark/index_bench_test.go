// Package benchmark contains Go benchmarks for the mutation engine, the
// query engine, and the tokenizer, measuring throughput and allocation
// behaviour against a real SQLite-backed store.
package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/sqlite"
)

func benchStore(b *testing.B) *store.Store {
	b.Helper()
	client, err := sqlite.New(config.SQLiteConfig{
		Path:        filepath.Join(b.TempDir(), "bench.db"),
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		b.Fatalf("opening sqlite backend: %v", err)
	}
	st, err := store.Open(context.Background(), client)
	if err != nil {
		client.Close()
		b.Fatalf("opening store: %v", err)
	}
	b.Cleanup(func() { st.Close() })
	return st
}

func benchText(i int) string {
	return fmt.Sprintf("document %d covers indexing ranking compaction topic%d topic%d",
		i, i%50, i%13)
}

func seedCorpus(b *testing.B, mut *mutation.Engine, n int) {
	b.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		if err := mut.InsertWithID(ctx, int64(i), benchText(i)); err != nil {
			b.Fatalf("seeding document %d: %v", i, err)
		}
	}
}

// BenchmarkInsert measures per-document insert throughput, including the
// eager df and corpus statistics maintenance.
func BenchmarkInsert(b *testing.B) {
	st := benchStore(b)
	mut := mutation.NewEngine(st, nil)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := mut.InsertWithID(ctx, int64(i+1), benchText(i)); err != nil {
			b.Fatalf("insert: %v", err)
		}
	}
}

// BenchmarkDelete measures tombstoning throughput over a pre-populated
// corpus. Deletion adjusts statistics but leaves the postings in place.
func BenchmarkDelete(b *testing.B) {
	st := benchStore(b)
	mut := mutation.NewEngine(st, nil)
	seedCorpus(b, mut, b.N)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := mut.Delete(ctx, int64(i+1)); err != nil {
			b.Fatalf("delete: %v", err)
		}
	}
}

// BenchmarkModify measures in-place re-indexing throughput.
func BenchmarkModify(b *testing.B) {
	st := benchStore(b)
	mut := mutation.NewEngine(st, nil)
	seedCorpus(b, mut, 1000)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		docID := int64(i%1000 + 1)
		if err := mut.Modify(ctx, docID, benchText(i+7)); err != nil {
			b.Fatalf("modify: %v", err)
		}
	}
}

// BenchmarkCompaction measures one full purge cycle at varying tombstone
// counts. Each iteration rebuilds its own corpus, so only the sub-benchmark
// deltas are meaningful.
func BenchmarkCompaction(b *testing.B) {
	for _, tombstones := range []int{100, 500, 1000} {
		b.Run(fmt.Sprintf("tombstones_%d", tombstones), func(b *testing.B) {
			ctx := context.Background()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				st := benchStore(b)
				mut := mutation.NewEngine(st, nil)
				seedCorpus(b, mut, tombstones*2)
				for d := 1; d <= tombstones; d++ {
					if err := mut.Delete(ctx, int64(d)); err != nil {
						b.Fatalf("delete: %v", err)
					}
				}
				comp := compactor.New(st, nil, config.CompactionConfig{})
				b.StartTimer()

				if _, err := comp.Compact(ctx); err != nil {
					b.Fatalf("compact: %v", err)
				}
			}
		})
	}
}
