// Package mutation implements insert, delete, and modify as transactional,
// statistics-preserving operations against the statistics store. It owns
// the tombstone lifecycle: deletes adjust df and corpus statistics eagerly
// and leave postings in place for the compactor, so query correctness never
// depends on compaction having run.
package mutation

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/metrics"
)

// Engine applies mutations through a store handle. One logical writer is
// expected; the store's transaction boundary provides atomicity and the
// backend provides isolation from concurrent readers.
type Engine struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a mutation engine over the given store. metrics may be
// nil for callers that do not export them (tests, the benchmark harness).
func NewEngine(st *store.Store, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   st,
		logger:  logger.WithComponent("mutation"),
		metrics: m,
	}
}

// Insert indexes text under the next unused document id and returns it.
func (e *Engine) Insert(ctx context.Context, text string) (int64, error) {
	start := time.Now()
	var docID int64
	err := e.store.InTx(ctx, func(tx *sql.Tx) error {
		id, err := e.store.NextDocID(ctx, tx)
		if err != nil {
			return err
		}
		docID = id
		if err := e.indexDocument(ctx, tx, id, text, false); err != nil {
			return err
		}
		_, err = e.store.BumpMutationSeq(ctx, tx)
		return err
	})
	e.observe(ctx, "insert", start, err)
	if err != nil {
		return 0, err
	}
	e.logger.Debug("document inserted", "doc_id", docID)
	return docID, nil
}

// InsertWithID indexes text under an explicit id. A live id fails with
// DuplicateLiveDocument. A tombstoned id is resurrected: its stale postings
// are replaced inside the same transaction and the catalog row returns to
// live with the new length.
func (e *Engine) InsertWithID(ctx context.Context, docID int64, text string) error {
	if docID <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "doc_id must be positive, got %d", docID)
	}
	start := time.Now()
	err := e.store.InTx(ctx, func(tx *sql.Tx) error {
		doc, found, err := e.store.GetDocument(ctx, tx, docID)
		if err != nil {
			return err
		}
		switch {
		case found && doc.Status == store.StatusLive:
			return apperrors.Newf(apperrors.ErrDuplicateLiveDocument, "document %d", docID)
		case found:
			// Resurrection. The tombstoned postings describe superseded
			// content; replacing them here keeps the (term_id, doc_id) key
			// unique and the live postings exact.
			if _, err := e.store.DeletePostingsForDoc(ctx, tx, docID); err != nil {
				return err
			}
			if err := e.indexDocument(ctx, tx, docID, text, true); err != nil {
				return err
			}
		default:
			if err := e.indexDocument(ctx, tx, docID, text, false); err != nil {
				return err
			}
		}
		if err := e.store.EnsureNextDocIDAbove(ctx, tx, docID); err != nil {
			return err
		}
		_, err = e.store.BumpMutationSeq(ctx, tx)
		return err
	})
	e.observe(ctx, "insert", start, err)
	if err == nil {
		e.logger.Debug("document inserted", "doc_id", docID)
	}
	return err
}

// Delete tombstones a live document. Document frequencies and the corpus
// aggregates reflect the deletion immediately; the postings and content
// rows stay behind for the compactor.
func (e *Engine) Delete(ctx context.Context, docID int64) error {
	start := time.Now()
	err := e.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireLive(ctx, tx, docID); err != nil {
			return err
		}
		termIDs, err := e.store.TermIDsForDoc(ctx, tx, docID)
		if err != nil {
			return err
		}
		if err := e.store.AdjustDF(ctx, tx, termIDs, -1); err != nil {
			return err
		}
		if err := e.store.TombstoneDocument(ctx, tx, docID); err != nil {
			return err
		}
		_, err = e.store.BumpMutationSeq(ctx, tx)
		return err
	})
	e.observe(ctx, "delete", start, err)
	if err == nil {
		e.logger.Debug("document tombstoned", "doc_id", docID)
	}
	return err
}

// Modify re-indexes a live document's content under the same id as one
// transaction: the old postings are retired and the new ones written with
// no observable window where the document is absent. A non-live id fails
// with UnknownDocument; modify never creates.
func (e *Engine) Modify(ctx context.Context, docID int64, text string) error {
	start := time.Now()
	err := e.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireLive(ctx, tx, docID); err != nil {
			return err
		}
		oldTermIDs, err := e.store.TermIDsForDoc(ctx, tx, docID)
		if err != nil {
			return err
		}
		if err := e.store.AdjustDF(ctx, tx, oldTermIDs, -1); err != nil {
			return err
		}
		if _, err := e.store.DeletePostingsForDoc(ctx, tx, docID); err != nil {
			return err
		}
		if err := e.indexDocument(ctx, tx, docID, text, true); err != nil {
			return err
		}
		_, err = e.store.BumpMutationSeq(ctx, tx)
		return err
	})
	e.observe(ctx, "modify", start, err)
	if err == nil {
		e.logger.Debug("document modified", "doc_id", docID)
	}
	return err
}

// indexDocument writes one document's rows in dictionary, catalog,
// postings, content order. revive updates the existing catalog row instead
// of inserting one.
func (e *Engine) indexDocument(ctx context.Context, tx *sql.Tx, docID int64, text string, revive bool) error {
	counts, total := tokenizer.Counts(text)
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}

	ids, err := e.store.EnsureTerms(ctx, tx, terms)
	if err != nil {
		return err
	}

	if revive {
		err = e.store.ReviveDocument(ctx, tx, docID, int64(total))
	} else {
		err = e.store.InsertDocument(ctx, tx, docID, int64(total))
	}
	if err != nil {
		return err
	}

	tfByTermID := make(map[int64]int64, len(counts))
	termIDs := make([]int64, 0, len(counts))
	for term, tf := range counts {
		id := ids[term]
		tfByTermID[id] = int64(tf)
		termIDs = append(termIDs, id)
	}
	if err := e.store.InsertPostings(ctx, tx, docID, tfByTermID); err != nil {
		return err
	}
	if err := e.store.AdjustDF(ctx, tx, termIDs, 1); err != nil {
		return err
	}
	return e.store.UpsertContent(ctx, tx, docID, text)
}

// requireLive fails with UnknownDocument unless docID denotes a live
// document. A tombstoned document is as unknown to mutations as an
// unassigned id.
func (e *Engine) requireLive(ctx context.Context, tx *sql.Tx, docID int64) error {
	doc, found, err := e.store.GetDocument(ctx, tx, docID)
	if err != nil {
		return err
	}
	if !found || doc.Status != store.StatusLive {
		return apperrors.Newf(apperrors.ErrUnknownDocument, "document %d", docID)
	}
	return nil
}

func (e *Engine) observe(ctx context.Context, op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.MutationsTotal.WithLabelValues(op, status).Inc()
	e.metrics.MutationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return
	}
	if live, tombstoned, gaugeErr := e.store.CountsByStatus(ctx, e.store.DB()); gaugeErr == nil {
		e.metrics.LiveDocuments.Set(float64(live))
		e.metrics.TombstonedDocuments.Set(float64(tombstoned))
	}
}
