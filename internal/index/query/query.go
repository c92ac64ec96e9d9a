// Package query evaluates ranked term-set queries against the statistics
// store. Candidate sets are materialised from the live-joined postings and
// scored with BM25 in memory; the corpus aggregates are read from live
// catalog rows inside the same read transaction, so a query never mixes
// statistics from two different index states.
package query

import (
	"context"
	"database/sql"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/metrics"
)

// BM25 parameters.
const (
	k1 = 1.2
	b  = 0.75
)

// Mode selects the candidate-set semantics over the query terms.
type Mode int

const (
	// Disjunctive matches documents containing any query term.
	Disjunctive Mode = iota
	// Conjunctive matches documents containing every query term.
	Conjunctive
)

func (m Mode) String() string {
	if m == Conjunctive {
		return "and"
	}
	return "or"
}

// ParseMode maps the accepted mode spellings to a Mode. Anything else is an
// InvalidQuery.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "or", "disjunctive", "any":
		return Disjunctive, nil
	case "and", "conjunctive", "all":
		return Conjunctive, nil
	default:
		return Disjunctive, apperrors.Newf(apperrors.ErrInvalidQuery, "unsupported mode %q", s)
	}
}

// ScoredDoc is one ranked result.
type ScoredDoc struct {
	DocID int64   `json:"doc_id"`
	Score float64 `json:"score"`
}

// Engine evaluates queries against one store handle. It is read-only and
// safe for concurrent use.
type Engine struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a query engine over the given store. metrics may be nil.
func NewEngine(st *store.Store, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   st,
		logger:  logger.WithComponent("query"),
		metrics: m,
	}
}

// Search returns the topK live documents for the query terms, ordered by
// BM25 score descending with ties broken by ascending doc_id. Terms absent
// from the dictionary match nothing: under Disjunctive they are ignored,
// under Conjunctive they empty the result immediately. An empty term set
// yields an empty result, not an error.
func (e *Engine) Search(ctx context.Context, terms []string, mode Mode, topK int) ([]ScoredDoc, error) {
	if mode != Conjunctive && mode != Disjunctive {
		return nil, apperrors.Newf(apperrors.ErrInvalidQuery, "unsupported mode %d", mode)
	}
	if topK < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidQuery, "topK must be positive, got %d", topK)
	}

	start := time.Now()
	results, err := e.evaluate(ctx, dedupe(terms), mode, topK)
	e.observe(mode, start, len(results), err)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("query evaluated",
		"terms", len(terms),
		"mode", mode.String(),
		"results", len(results),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

func (e *Engine) evaluate(ctx context.Context, terms []string, mode Mode, topK int) ([]ScoredDoc, error) {
	if len(terms) == 0 {
		return []ScoredDoc{}, nil
	}

	var results []ScoredDoc
	err := e.store.InReadTx(ctx, func(tx *sql.Tx) error {
		stats, err := e.store.ResolveTerms(ctx, tx, terms)
		if err != nil {
			return err
		}
		// A term missing from the dictionary has never occurred in any
		// document, so no document can satisfy a conjunction over it.
		if mode == Conjunctive && len(stats) < len(terms) {
			results = []ScoredDoc{}
			return nil
		}
		if len(stats) == 0 {
			results = []ScoredDoc{}
			return nil
		}

		corpus, err := e.store.CorpusStats(ctx, tx)
		if err != nil {
			return err
		}
		if corpus.N == 0 {
			results = []ScoredDoc{}
			return nil
		}

		termIDs := make([]int64, 0, len(stats))
		dfByTermID := make(map[int64]int64, len(stats))
		for _, stat := range stats {
			termIDs = append(termIDs, stat.TermID)
			dfByTermID[stat.TermID] = stat.DF
		}
		postings, err := e.store.PostingsForTerms(ctx, tx, termIDs)
		if err != nil {
			return err
		}

		results = rank(postings, dfByTermID, corpus, mode, len(stats), topK)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// candidate accumulates one document's score and matched-term count across
// the postings scan.
type candidate struct {
	score   float64
	matched int
}

// rank folds the live postings into per-document BM25 scores and returns the
// topK. required is the distinct resolved term count; under Conjunctive a
// document qualifies only when it matched all of them.
func rank(postings []store.Posting, dfByTermID map[int64]int64, corpus store.CorpusStats, mode Mode, required, topK int) []ScoredDoc {
	candidates := make(map[int64]*candidate)
	for _, p := range postings {
		idf := idf(corpus.N, dfByTermID[p.TermID])
		c, ok := candidates[p.DocID]
		if !ok {
			c = &candidate{}
			candidates[p.DocID] = c
		}
		c.score += idf * tfNorm(float64(p.TF), float64(p.DocLength), corpus.AvgDL)
		c.matched++
	}

	results := make([]ScoredDoc, 0, len(candidates))
	for docID, c := range candidates {
		if mode == Conjunctive && c.matched < required {
			continue
		}
		results = append(results, ScoredDoc{DocID: docID, Score: c.score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// idf is the exact BM25 inverse document frequency. It goes negative when a
// term appears in more than half the corpus; clamping it would distort the
// relative ranking, so it is returned as-is.
func idf(n, df int64) float64 {
	return math.Log((float64(n) - float64(df) + 0.5) / (float64(df) + 0.5))
}

func tfNorm(tf, docLength, avgDL float64) float64 {
	if avgDL == 0 {
		return 0
	}
	return (tf * (k1 + 1)) / (tf + k1*(1-b+b*docLength/avgDL))
}

// dedupe preserves first-seen order while dropping repeated terms, so a
// duplicated query term neither double-scores a match nor inflates the
// conjunctive match requirement.
func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

func (e *Engine) observe(mode Mode, start time.Time, resultCount int, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case resultCount == 0:
		outcome = "empty"
	}
	e.metrics.QueriesTotal.WithLabelValues(mode.String(), outcome).Inc()
	e.metrics.QueryDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	if err == nil {
		e.metrics.QueryResultsCount.Observe(float64(resultCount))
	}
}
