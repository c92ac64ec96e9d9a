package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CorpusStats carries the two derived aggregates BM25 needs. They are
// computed from live catalog rows at read time, every time; caching them
// across mutations is exactly the staleness bug this store exists to avoid.
type CorpusStats struct {
	N     int64
	AvgDL float64
}

// CorpusStats computes N and avgdl over live documents. An empty corpus
// reports zero for both.
func (s *Store) CorpusStats(ctx context.Context, q Querier) (CorpusStats, error) {
	query := s.rebind(`SELECT COUNT(*), COALESCE(AVG(length), 0) FROM documents WHERE status = ?`)
	var stats CorpusStats
	if err := q.QueryRowContext(ctx, query, StatusLive).Scan(&stats.N, &stats.AvgDL); err != nil {
		return CorpusStats{}, fmt.Errorf("computing corpus stats: %w", err)
	}
	return stats, nil
}

// Stats is the operational snapshot served by the stats endpoint and the
// CLI.
type Stats struct {
	LiveDocuments       int64   `json:"live_documents"`
	TombstonedDocuments int64   `json:"tombstoned_documents"`
	Terms               int64   `json:"terms"`
	Postings            int64   `json:"postings"`
	AvgDocLength        float64 `json:"avg_doc_length"`
	MutationSeq         int64   `json:"mutation_seq"`
	LastCompactionUnix  int64   `json:"last_compaction_unix"`
}

// Stats gathers the operational snapshot inside one read transaction so the
// numbers are mutually consistent.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.InReadTx(ctx, func(tx *sql.Tx) error {
		live, tombstoned, err := s.CountsByStatus(ctx, tx)
		if err != nil {
			return err
		}
		stats.LiveDocuments = live
		stats.TombstonedDocuments = tombstoned

		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM terms`).Scan(&stats.Terms); err != nil {
			return fmt.Errorf("counting terms: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings`).Scan(&stats.Postings); err != nil {
			return fmt.Errorf("counting postings: %w", err)
		}

		corpus, err := s.CorpusStats(ctx, tx)
		if err != nil {
			return err
		}
		stats.AvgDocLength = corpus.AvgDL

		if stats.MutationSeq, err = s.MutationSeq(ctx, tx); err != nil {
			return err
		}
		if stats.LastCompactionUnix, err = s.LastCompaction(ctx, tx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}
