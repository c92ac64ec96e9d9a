package bench

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
)

// Options configures one benchmark run. Queries must already be generated
// or loaded; the runner never invents workload mid-run, so two runs with
// the same options measure the same thing.
type Options struct {
	Rounds        int
	DeleteBatch   int
	Queries       [][]string
	Mode          query.Mode
	TopK          int
	Cursor        string
	Seed          int64
	CheckpointPct float64
	Concurrency   int
}

// Runner executes the query/delete/compaction loop. Each round queries the
// index, deletes the next cursor batch, fires compaction when the cumulative
// tombstoned fraction crosses the next checkpoint, and appends one Record.
// The loop changes only when compaction fires, never what queries mean.
type Runner struct {
	store     *store.Store
	queries   *query.Engine
	mutations *mutation.Engine
	compactor *compactor.Compactor
	recorder  *Recorder
	logger    *slog.Logger
	opts      Options
}

// NewRunner wires a Runner over already-open components. recorder may be
// nil when the caller only wants the returned records.
func NewRunner(st *store.Store, q *query.Engine, m *mutation.Engine, c *compactor.Compactor, rec *Recorder, opts Options) *Runner {
	if opts.TopK < 1 {
		opts.TopK = 10
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Runner{
		store:     st,
		queries:   q,
		mutations: m,
		compactor: c,
		recorder:  rec,
		logger:    logger.WithComponent("bench"),
		opts:      opts,
	}
}

// Run executes the configured rounds and returns one Record per completed
// round. It stops early once every document from the initial population has
// been deleted.
func (r *Runner) Run(ctx context.Context) ([]Record, error) {
	ids, err := r.store.LiveDocIDs(ctx, r.store.DB())
	if err != nil {
		return nil, err
	}
	cursor, err := NewCursor(ids, r.opts.Cursor, r.opts.Seed)
	if err != nil {
		return nil, err
	}
	if cursor.Size() == 0 {
		return nil, fmt.Errorf("no live documents to benchmark against")
	}

	r.logger.Info("benchmark starting",
		"documents", cursor.Size(),
		"rounds", r.opts.Rounds,
		"delete_batch", r.opts.DeleteBatch,
		"queries_per_round", len(r.opts.Queries),
		"cursor", r.opts.Cursor,
		"checkpoint_pct", r.opts.CheckpointPct,
	)

	var records []Record
	compactions := 0
	nextCheckpoint := r.opts.CheckpointPct

	for round := 1; round <= r.opts.Rounds; round++ {
		latencies, err := r.runQueryBatch(ctx)
		if err != nil {
			return records, fmt.Errorf("round %d query batch: %w", round, err)
		}

		batch := cursor.Next(r.opts.DeleteBatch)
		for _, docID := range batch {
			if err := r.mutations.Delete(ctx, docID); err != nil {
				return records, fmt.Errorf("round %d deleting document %d: %w", round, docID, err)
			}
		}

		if r.opts.CheckpointPct > 0 && r.compactor != nil {
			deletedPct := float64(cursor.Consumed()) / float64(cursor.Size()) * 100
			if deletedPct >= nextCheckpoint {
				if _, err := r.compactor.Compact(ctx); err != nil {
					return records, fmt.Errorf("round %d compaction: %w", round, err)
				}
				compactions++
				for nextCheckpoint <= deletedPct {
					nextCheckpoint += r.opts.CheckpointPct
				}
			}
		}

		record := Record{
			Round:             round,
			CumulativeDeleted: cursor.Consumed(),
			Compactions:       compactions,
			LatencyMS:         latencies,
		}
		if r.recorder != nil {
			if err := r.recorder.Append(record); err != nil {
				return records, err
			}
		}
		records = append(records, record)
		r.logger.Info("round complete",
			"round", round,
			"cumulative_deleted", record.CumulativeDeleted,
			"compactions", compactions,
			"queries", len(latencies),
		)

		if cursor.Remaining() == 0 {
			r.logger.Info("corpus exhausted, stopping early", "round", round)
			break
		}
	}
	return records, nil
}

// runQueryBatch executes the workload, recording wall-clock latency per
// query in milliseconds. Each query writes its own slot, so no lock guards
// the latency slice even with concurrent workers.
func (r *Runner) runQueryBatch(ctx context.Context) ([]float64, error) {
	latencies := make([]float64, len(r.opts.Queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, terms := range r.opts.Queries {
		g.Go(func() error {
			start := time.Now()
			if _, err := r.queries.Search(gctx, terms, r.opts.Mode, r.opts.TopK); err != nil {
				return fmt.Errorf("query %v: %w", terms, err)
			}
			latencies[i] = float64(time.Since(start).Microseconds()) / 1000.0
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return latencies, nil
}
