package store

import (
	"context"
	"fmt"
)

// Posting is one inverted-list entry joined with the owning document's
// length, which BM25 needs for every candidate anyway.
type Posting struct {
	TermID    int64
	DocID     int64
	TF        int64
	DocLength int64
}

// postingInsertChunk bounds placeholder count per statement; three markers
// per row keeps well inside both backends' limits.
const postingInsertChunk = 300

// InsertPostings writes one posting per distinct term of a document.
func (s *Store) InsertPostings(ctx context.Context, tx Querier, docID int64, tfByTermID map[int64]int64) error {
	if len(tfByTermID) == 0 {
		return nil
	}
	type row struct {
		termID int64
		tf     int64
	}
	batch := make([]row, 0, len(tfByTermID))
	for termID, tf := range tfByTermID {
		batch = append(batch, row{termID, tf})
	}
	for start := 0; start < len(batch); start += postingInsertChunk {
		end := start + postingInsertChunk
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]
		query := `INSERT INTO postings (term_id, doc_id, term_frequency) VALUES `
		args := make([]any, 0, len(chunk)*3)
		for i, r := range chunk {
			if i > 0 {
				query += ", "
			}
			query += "(?, ?, ?)"
			args = append(args, r.termID, docID, r.tf)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
			return fmt.Errorf("inserting postings for document %d: %w", docID, err)
		}
	}
	return nil
}

// DeletePostingsForDoc removes every posting of one document. Modify and
// resurrection use this to replace stale lists inside their transaction;
// ordinary deletes never call it — their postings wait for the compactor.
func (s *Store) DeletePostingsForDoc(ctx context.Context, tx Querier, docID int64) (int64, error) {
	query := s.rebind(`DELETE FROM postings WHERE doc_id = ?`)
	res, err := tx.ExecContext(ctx, query, docID)
	if err != nil {
		return 0, fmt.Errorf("deleting postings for document %d: %w", docID, err)
	}
	return res.RowsAffected()
}

// TermIDsForDoc returns the distinct term ids present in a document's
// postings. The delete path decrements df for exactly these.
func (s *Store) TermIDsForDoc(ctx context.Context, q Querier, docID int64) ([]int64, error) {
	query := s.rebind(`SELECT term_id FROM postings WHERE doc_id = ? ORDER BY term_id`)
	rows, err := q.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("reading term ids for document %d: %w", docID, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning term id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PostingsForTerms fetches the inverted lists for the given term ids,
// restricted to live documents. This join is the tombstone-exclusion
// boundary: postings of tombstoned documents are physically present until
// compaction but can never appear here.
func (s *Store) PostingsForTerms(ctx context.Context, q Querier, termIDs []int64) ([]Posting, error) {
	var postings []Posting
	err := inChunks(termIDs, func(chunk []int64) error {
		query := s.rebind(`SELECT p.term_id, p.doc_id, p.term_frequency, d.length
			FROM postings p
			JOIN documents d ON d.doc_id = p.doc_id
			WHERE d.status = ? AND p.term_id IN (` + placeholders(len(chunk)) + `)
			ORDER BY p.doc_id`)
		args := make([]any, 0, len(chunk)+1)
		args = append(args, StatusLive)
		for _, id := range chunk {
			args = append(args, id)
		}
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("reading postings: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var p Posting
			if err := rows.Scan(&p.TermID, &p.DocID, &p.TF, &p.DocLength); err != nil {
				return fmt.Errorf("scanning posting: %w", err)
			}
			postings = append(postings, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return postings, nil
}

// PurgeTombstonedPostings removes postings belonging to tombstoned
// documents.
func (s *Store) PurgeTombstonedPostings(ctx context.Context, tx Querier) (int64, error) {
	query := s.rebind(`DELETE FROM postings WHERE doc_id IN (
		SELECT doc_id FROM documents WHERE status = ?)`)
	res, err := tx.ExecContext(ctx, query, StatusTombstoned)
	if err != nil {
		return 0, fmt.Errorf("purging tombstoned postings: %w", err)
	}
	return res.RowsAffected()
}
