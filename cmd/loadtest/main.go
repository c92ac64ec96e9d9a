// loadtest drives the deletion-load benchmark: it (re)builds an index,
// generates or replays a query workload, then runs repeated rounds of
// queries and deletions, recording per-query latency as tombstones
// accumulate and compaction fires at the configured checkpoints. The
// per-round records stream to a JSON-lines file for external comparison
// tooling; a percentile summary prints at the end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/bench"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/builder"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	corpusPath := flag.String("corpus", "", "JSONL corpus to build the index from (omit to generate a synthetic corpus)")
	docs := flag.Int("docs", 1000, "synthetic corpus size when -corpus is not given")
	rounds := flag.Int("rounds", 0, "benchmark rounds (overrides config)")
	queryBatch := flag.Int("query-batch", 0, "queries per round (overrides config)")
	deleteBatch := flag.Int("delete-batch", 0, "documents deleted per round (overrides config)")
	cursor := flag.String("cursor", "", "deletion order: sequential or random (overrides config)")
	seed := flag.Int64("seed", 0, "RNG seed (overrides config)")
	checkpointPct := flag.Float64("checkpoint-pct", -1, "compaction checkpoint percentage, 0 disables (overrides config)")
	mode := flag.String("mode", "", "query mode: and/or (overrides config)")
	topK := flag.Int("topk", 0, "results per query (overrides config)")
	maxTerms := flag.Int("max-terms", 0, "maximum terms per generated query (overrides config)")
	queryFile := flag.String("queries", "", "CSV query set to replay; generated and saved here when missing")
	out := flag.String("out", "", "result JSONL path (default <outputDir>/run-<timestamp>.jsonl)")
	concurrency := flag.Int("concurrency", 1, "concurrent queries within one batch")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(&cfg.Benchmark, *rounds, *queryBatch, *deleteBatch, *cursor, *seed, *checkpointPct, *mode, *topK, *maxTerms, *queryFile)

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenFromConfig(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := buildCorpus(ctx, st, cfg, *corpusPath, *docs); err != nil {
		slog.Error("corpus build failed", "error", err)
		os.Exit(1)
	}

	queryMode, err := query.ParseMode(cfg.Benchmark.Mode)
	if err != nil {
		slog.Error("invalid benchmark mode", "error", err)
		os.Exit(1)
	}
	queries, err := loadOrGenerateQueries(ctx, st, cfg.Benchmark)
	if err != nil {
		slog.Error("preparing query workload failed", "error", err)
		os.Exit(1)
	}

	outPath := *out
	if outPath == "" {
		outPath = filepath.Join(cfg.Benchmark.OutputDir, fmt.Sprintf("run-%d.jsonl", time.Now().Unix()))
	}
	recorder, err := bench.NewRecorder(outPath)
	if err != nil {
		slog.Error("opening result file failed", "error", err)
		os.Exit(1)
	}
	defer recorder.Close()

	runner := bench.NewRunner(
		st,
		query.NewEngine(st, nil),
		mutation.NewEngine(st, nil),
		compactor.New(st, nil, cfg.Compaction),
		recorder,
		bench.Options{
			Rounds:        cfg.Benchmark.Rounds,
			DeleteBatch:   cfg.Benchmark.DeleteBatch,
			Queries:       queries,
			Mode:          queryMode,
			TopK:          cfg.Benchmark.TopK,
			Cursor:        cfg.Benchmark.Cursor,
			Seed:          cfg.Benchmark.Seed,
			CheckpointPct: cfg.Benchmark.CheckpointPct,
			Concurrency:   *concurrency,
		},
	)

	records, err := runner.Run(ctx)
	if err != nil {
		slog.Error("benchmark failed", "error", err, "completed_rounds", len(records))
		os.Exit(1)
	}

	printReport(records, outPath)
}

func applyFlagOverrides(cfg *config.BenchmarkConfig, rounds, queryBatch, deleteBatch int, cursor string, seed int64, checkpointPct float64, mode string, topK, maxTerms int, queryFile string) {
	if rounds > 0 {
		cfg.Rounds = rounds
	}
	if queryBatch > 0 {
		cfg.QueryBatch = queryBatch
	}
	if deleteBatch > 0 {
		cfg.DeleteBatch = deleteBatch
	}
	if cursor != "" {
		cfg.Cursor = cursor
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if checkpointPct >= 0 {
		cfg.CheckpointPct = checkpointPct
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if topK > 0 {
		cfg.TopK = topK
	}
	if maxTerms > 0 {
		cfg.MaxQueryTerms = maxTerms
	}
	if queryFile != "" {
		cfg.QueryFile = queryFile
	}
}

// buildCorpus full-builds the index from a JSONL file, or from a seeded
// synthetic corpus when no file is given, so every run starts from a fully
// live population.
func buildCorpus(ctx context.Context, st *store.Store, cfg *config.Config, corpusPath string, docs int) error {
	b := builder.New(st, cfg.Index)
	var src builder.Source
	if corpusPath != "" {
		f, err := os.Open(corpusPath)
		if err != nil {
			return fmt.Errorf("opening corpus: %w", err)
		}
		defer f.Close()
		src = builder.NewJSONLSource(f)
		slog.Info("building index from corpus file", "path", corpusPath)
	} else {
		src = builder.NewSliceSource(syntheticCorpus(docs, cfg.Benchmark.Seed))
		slog.Info("building index from synthetic corpus", "documents", docs, "seed", cfg.Benchmark.Seed)
	}
	report, err := b.Build(ctx, src)
	if err != nil {
		return err
	}
	slog.Info("index built", "indexed", report.Indexed, "failed", len(report.Failed))
	return nil
}

// syntheticCorpus generates documents over a Zipf-ish vocabulary: low word
// indexes recur across most documents while the tail stays rare, which
// gives the workload both common and selective terms.
func syntheticCorpus(docs int, seed int64) []builder.Document {
	rng := rand.New(rand.NewSource(seed))
	vocabSize := docs / 2
	if vocabSize < 50 {
		vocabSize = 50
	}
	vocab := make([]string, vocabSize)
	for i := range vocab {
		vocab[i] = syntheticWord(rng)
	}
	zipf := rand.NewZipf(rng, 1.2, 1.0, uint64(vocabSize-1))

	corpus := make([]builder.Document, docs)
	for i := range corpus {
		length := 20 + rng.Intn(80)
		words := make([]string, length)
		for j := range words {
			words[j] = vocab[zipf.Uint64()]
		}
		corpus[i] = builder.Document{DocID: int64(i + 1), Text: strings.Join(words, " ")}
	}
	return corpus
}

func syntheticWord(rng *rand.Rand) string {
	length := 3 + rng.Intn(7)
	word := make([]byte, length)
	for i := range word {
		word[i] = byte('a' + rng.Intn(26))
	}
	return string(word)
}

// loadOrGenerateQueries replays the CSV query set when it exists, otherwise
// samples a fresh one from the dictionary and saves it for later runs.
func loadOrGenerateQueries(ctx context.Context, st *store.Store, cfg config.BenchmarkConfig) ([][]string, error) {
	if cfg.QueryFile != "" {
		if _, err := os.Stat(cfg.QueryFile); err == nil {
			queries, err := bench.LoadQueries(cfg.QueryFile)
			if err != nil {
				return nil, err
			}
			slog.Info("query workload loaded", "path", cfg.QueryFile, "queries", len(queries))
			return queries, nil
		}
	}

	vocabulary, err := st.ActiveTerms(ctx, st.DB(), 0)
	if err != nil {
		return nil, err
	}
	queries, err := bench.GenerateQueries(vocabulary, cfg.QueryBatch, cfg.MaxQueryTerms, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if cfg.QueryFile != "" {
		if err := bench.SaveQueries(cfg.QueryFile, queries); err != nil {
			return nil, err
		}
		slog.Info("query workload saved", "path", cfg.QueryFile, "queries", len(queries))
	}
	return queries, nil
}

func printReport(records []bench.Record, outPath string) {
	fmt.Println("=== Deletion-Load Benchmark ===")
	fmt.Printf("%-6s %-10s %-12s %-8s %-10s %-10s %-10s %-10s\n",
		"round", "deleted", "compactions", "queries", "avg_ms", "p50_ms", "p90_ms", "p99_ms")
	for _, record := range records {
		sorted := make([]float64, len(record.LatencyMS))
		copy(sorted, record.LatencyMS)
		sort.Float64s(sorted)
		fmt.Printf("%-6d %-10d %-12d %-8d %-10.3f %-10.3f %-10.3f %-10.3f\n",
			record.Round,
			record.CumulativeDeleted,
			record.Compactions,
			len(sorted),
			mean(sorted),
			percentile(sorted, 50),
			percentile(sorted, 90),
			percentile(sorted, 99),
		)
	}
	fmt.Printf("\nresults written to %s\n", outPath)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
