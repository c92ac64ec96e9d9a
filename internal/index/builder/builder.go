// Package builder bulk-constructs the statistics store from a corpus
// snapshot and folds delta corpora into an existing store. It streams input
// in bounded batches so memory stays flat regardless of corpus size; the
// full build finalises document frequencies with one terminal aggregation,
// while delta imports maintain them eagerly per document the way the
// mutation engine does.
package builder

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
)

// Document is one corpus entry. DocID must be positive: the builder
// preserves source ids and never assigns them.
type Document struct {
	DocID int64  `json:"doc_id"`
	Text  string `json:"text"`
}

// Source yields corpus documents one at a time. ok is false once the source
// is exhausted; a non-nil error aborts the run.
type Source interface {
	Next() (doc Document, ok bool, err error)
}

// DocError records one document the builder skipped and why. The run
// continues past it.
type DocError struct {
	DocID int64  `json:"doc_id"`
	Err   string `json:"error"`
}

// Report summarises one build or import run.
type Report struct {
	Indexed     int        `json:"indexed"`
	Replaced    int        `json:"replaced"`
	Resurrected int        `json:"resurrected"`
	Failed      []DocError `json:"failed,omitempty"`
}

// Builder streams corpora into a store handle.
type Builder struct {
	store      *store.Store
	batchSize  int
	maxContent int
	logger     *slog.Logger
}

// New creates a Builder. Batch size and the content ceiling come from the
// index config section.
func New(st *store.Store, cfg config.IndexConfig) *Builder {
	batch := cfg.BuildBatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Builder{
		store:      st,
		batchSize:  batch,
		maxContent: cfg.MaxContentLength,
		logger:     logger.WithComponent("builder"),
	}
}

// Build replaces the store's content with the given corpus. The first batch
// transaction clears every relation; subsequent batches append. When the
// same doc_id appears more than once in the input, the later occurrence
// wins. Document frequencies are derived once at the end from the final
// postings state.
func (b *Builder) Build(ctx context.Context, src Source) (Report, error) {
	var report Report
	reset := true
	err := b.stream(ctx, src, &report, func(ctx context.Context, tx *sql.Tx, docs []Document, report *Report) error {
		if reset {
			if err := b.store.Reset(ctx, tx); err != nil {
				return err
			}
			reset = false
		}
		for _, doc := range docs {
			_, found, err := b.store.GetDocument(ctx, tx, doc.DocID)
			if err != nil {
				return err
			}
			// found means the id already appeared earlier in this same
			// input: drop its rows and index the newer version.
			if found {
				if _, err := b.store.DeletePostingsForDoc(ctx, tx, doc.DocID); err != nil {
					return err
				}
				report.Replaced++
			} else {
				report.Indexed++
			}
			if err := b.writeDocument(ctx, tx, doc, found, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	// One pure aggregation over the final state; cheaper and simpler than
	// tracking per-term contributions across batches and replacements.
	err = b.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := b.store.RecomputeDF(ctx, tx); err != nil {
			return err
		}
		_, err := b.store.BumpMutationSeq(ctx, tx)
		return err
	})
	if err != nil {
		return report, err
	}
	b.logger.Info("full build complete",
		"indexed", report.Indexed,
		"replaced", report.Replaced,
		"failed", len(report.Failed),
	)
	return report, nil
}

// ImportDelta folds a delta corpus into the existing store. Unknown ids are
// inserted, live ids re-indexed under the same id, and tombstoned ids
// resurrected with the new content. Statistics are maintained eagerly per
// document, exactly like the mutation engine's operations.
func (b *Builder) ImportDelta(ctx context.Context, src Source) (Report, error) {
	var report Report
	err := b.stream(ctx, src, &report, func(ctx context.Context, tx *sql.Tx, docs []Document, report *Report) error {
		for _, doc := range docs {
			existing, found, err := b.store.GetDocument(ctx, tx, doc.DocID)
			if err != nil {
				return err
			}
			switch {
			case !found:
				report.Indexed++
			case existing.Status == store.StatusLive:
				// Modify semantics: retire the old statistics first.
				oldTermIDs, err := b.store.TermIDsForDoc(ctx, tx, doc.DocID)
				if err != nil {
					return err
				}
				if err := b.store.AdjustDF(ctx, tx, oldTermIDs, -1); err != nil {
					return err
				}
				if _, err := b.store.DeletePostingsForDoc(ctx, tx, doc.DocID); err != nil {
					return err
				}
				report.Replaced++
			default:
				// Implicit resurrect: the tombstoned postings never counted
				// toward df, so only the physical rows need replacing.
				if _, err := b.store.DeletePostingsForDoc(ctx, tx, doc.DocID); err != nil {
					return err
				}
				report.Resurrected++
			}
			if err := b.writeDocument(ctx, tx, doc, found, true); err != nil {
				return err
			}
		}
		_, err := b.store.BumpMutationSeq(ctx, tx)
		return err
	})
	if err != nil {
		return report, err
	}
	b.logger.Info("delta import complete",
		"indexed", report.Indexed,
		"replaced", report.Replaced,
		"resurrected", report.Resurrected,
		"failed", len(report.Failed),
	)
	return report, nil
}

// batchFn applies one validated batch inside its transaction.
type batchFn func(ctx context.Context, tx *sql.Tx, docs []Document, report *Report) error

// stream drains the source in batches, one transaction per batch. Documents
// that fail validation are recorded in the report and skipped; a later
// duplicate inside one batch supersedes the earlier occurrence before the
// batch is applied.
func (b *Builder) stream(ctx context.Context, src Source, report *Report, apply batchFn) error {
	batch := make([]Document, 0, b.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		docs := collapseBatch(batch)
		err := b.store.InTx(ctx, func(tx *sql.Tx) error {
			return apply(ctx, tx, docs, report)
		})
		batch = batch[:0]
		return err
	}

	for {
		doc, ok, err := src.Next()
		if err != nil {
			return fmt.Errorf("reading corpus: %w", err)
		}
		if !ok {
			break
		}
		if err := b.validate(doc); err != nil {
			report.Failed = append(report.Failed, DocError{DocID: doc.DocID, Err: err.Error()})
			continue
		}
		batch = append(batch, doc)
		if len(batch) >= b.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// writeDocument indexes one document's rows. revive updates an existing
// catalog row; adjustDF pushes df eagerly (delta import) instead of leaving
// it for a terminal aggregation (full build).
func (b *Builder) writeDocument(ctx context.Context, tx *sql.Tx, doc Document, revive, adjustDF bool) error {
	counts, total := tokenizer.Counts(doc.Text)
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	ids, err := b.store.EnsureTerms(ctx, tx, terms)
	if err != nil {
		return err
	}

	if revive {
		err = b.store.ReviveDocument(ctx, tx, doc.DocID, int64(total))
	} else {
		err = b.store.InsertDocument(ctx, tx, doc.DocID, int64(total))
	}
	if err != nil {
		return err
	}

	tfByTermID := make(map[int64]int64, len(counts))
	termIDs := make([]int64, 0, len(counts))
	for term, tf := range counts {
		tfByTermID[ids[term]] = int64(tf)
		termIDs = append(termIDs, ids[term])
	}
	if err := b.store.InsertPostings(ctx, tx, doc.DocID, tfByTermID); err != nil {
		return err
	}
	if adjustDF {
		if err := b.store.AdjustDF(ctx, tx, termIDs, 1); err != nil {
			return err
		}
	}
	if err := b.store.UpsertContent(ctx, tx, doc.DocID, doc.Text); err != nil {
		return err
	}
	return b.store.EnsureNextDocIDAbove(ctx, tx, doc.DocID)
}

func (b *Builder) validate(doc Document) error {
	if doc.DocID <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "doc_id must be positive, got %d", doc.DocID)
	}
	if len(doc.Text) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, "text is required")
	}
	if b.maxContent > 0 && len(doc.Text) > b.maxContent {
		return apperrors.Newf(apperrors.ErrInvalidInput, "text exceeds %d bytes", b.maxContent)
	}
	return nil
}

// collapseBatch keeps only the last occurrence of each doc_id, preserving
// input order of the survivors. Within one transaction the first insert
// would otherwise collide with the duplicate's.
func collapseBatch(batch []Document) []Document {
	last := make(map[int64]int, len(batch))
	for i, doc := range batch {
		last[doc.DocID] = i
	}
	out := make([]Document, 0, len(last))
	for i, doc := range batch {
		if last[doc.DocID] == i {
			out = append(out, doc)
		}
	}
	return out
}

// SliceSource adapts an in-memory corpus to the Source interface.
type SliceSource struct {
	docs []Document
	pos  int
}

// NewSliceSource wraps docs without copying.
func NewSliceSource(docs []Document) *SliceSource {
	return &SliceSource{docs: docs}
}

func (s *SliceSource) Next() (Document, bool, error) {
	if s.pos >= len(s.docs) {
		return Document{}, false, nil
	}
	doc := s.docs[s.pos]
	s.pos++
	return doc, true, nil
}

// JSONLSource streams a JSON-lines corpus: one {"doc_id": n, "text": "..."}
// object per line. Blank lines are skipped.
type JSONLSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewJSONLSource wraps a reader. The scanner buffer is sized for documents
// up to 16 MiB per line.
func NewJSONLSource(r io.Reader) *JSONLSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONLSource{scanner: scanner}
}

func (s *JSONLSource) Next() (Document, bool, error) {
	for s.scanner.Scan() {
		s.line++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return Document{}, false, fmt.Errorf("parsing corpus line %d: %w", s.line, err)
		}
		return doc, true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Document{}, false, fmt.Errorf("reading corpus: %w", err)
	}
	return Document{}, false, nil
}
