package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
)

// BenchmarkSearch measures ranked query latency over 10 000 live documents
// for single-term and multi-term queries in both modes.
func BenchmarkSearch(b *testing.B) {
	st := benchStore(b)
	mut := mutation.NewEngine(st, nil)
	seedCorpus(b, mut, 10000)
	q := query.NewEngine(st, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		terms []string
		mode  query.Mode
	}{
		{"single_term", []string{"topic7"}, query.Disjunctive},
		{"common_term", []string{"indexing"}, query.Disjunctive},
		{"multi_or", []string{"topic7", "topic9", "topic11"}, query.Disjunctive},
		{"multi_and", []string{"topic7", "indexing"}, query.Conjunctive},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				results, err := q.Search(ctx, tc.terms, tc.mode, 10)
				if err != nil {
					b.Fatalf("search: %v", err)
				}
				_ = results
			}
		})
	}
}

// BenchmarkSearchParallel measures concurrent query throughput; the read
// path takes no locks beyond the driver's.
func BenchmarkSearchParallel(b *testing.B) {
	st := benchStore(b)
	mut := mutation.NewEngine(st, nil)
	seedCorpus(b, mut, 10000)
	q := query.NewEngine(st, nil)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			results, err := q.Search(ctx, []string{"indexing", "ranking"}, query.Disjunctive, 10)
			if err != nil {
				b.Fatalf("search: %v", err)
			}
			_ = results
		}
	})
}

// BenchmarkSearchWithTombstones measures how accumulated tombstones degrade
// query latency before compaction, and what compaction buys back. Each
// sub-benchmark queries a 10 000 document corpus with the given fraction
// tombstoned.
func BenchmarkSearchWithTombstones(b *testing.B) {
	const corpus = 10000
	for _, pct := range []int{0, 25, 50, 75} {
		for _, compacted := range []bool{false, true} {
			if pct == 0 && compacted {
				continue
			}
			name := fmt.Sprintf("deleted_%d_pct", pct)
			if compacted {
				name += "_compacted"
			}
			b.Run(name, func(b *testing.B) {
				st := benchStore(b)
				mut := mutation.NewEngine(st, nil)
				seedCorpus(b, mut, corpus)
				ctx := context.Background()

				for d := 1; d <= corpus*pct/100; d++ {
					if err := mut.Delete(ctx, int64(d)); err != nil {
						b.Fatalf("delete: %v", err)
					}
				}
				if compacted {
					comp := compactor.New(st, nil, config.CompactionConfig{})
					if _, err := comp.Compact(ctx); err != nil {
						b.Fatalf("compact: %v", err)
					}
				}
				q := query.NewEngine(st, nil)

				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					results, err := q.Search(ctx, []string{"indexing", "topic7"}, query.Disjunctive, 10)
					if err != nil {
						b.Fatalf("search: %v", err)
					}
					_ = results
				}
			})
		}
	}
}
