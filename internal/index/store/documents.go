package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Status is the lifecycle state of a document record.
type Status string

const (
	StatusLive       Status = "live"
	StatusTombstoned Status = "tombstoned"
)

// Document is one row of the document catalog.
type Document struct {
	DocID  int64
	Length int64
	Status Status
}

// GetDocument fetches one catalog row regardless of status. found is false
// when the id has never been assigned.
func (s *Store) GetDocument(ctx context.Context, q Querier, docID int64) (Document, bool, error) {
	query := s.rebind(`SELECT doc_id, length, status FROM documents WHERE doc_id = ?`)
	var doc Document
	err := q.QueryRowContext(ctx, query, docID).Scan(&doc.DocID, &doc.Length, &doc.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("reading document %d: %w", docID, err)
	}
	return doc, true, nil
}

// InsertDocument creates a live catalog row.
func (s *Store) InsertDocument(ctx context.Context, tx Querier, docID, length int64) error {
	query := s.rebind(`INSERT INTO documents (doc_id, length, status) VALUES (?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query, docID, length, StatusLive); err != nil {
		return fmt.Errorf("inserting document %d: %w", docID, err)
	}
	return nil
}

// ReviveDocument returns an existing row to live with a new length. Used by
// modify (same status) and by resurrection of a tombstoned id.
func (s *Store) ReviveDocument(ctx context.Context, tx Querier, docID, length int64) error {
	query := s.rebind(`UPDATE documents SET length = ?, status = ? WHERE doc_id = ?`)
	res, err := tx.ExecContext(ctx, query, length, StatusLive, docID)
	if err != nil {
		return fmt.Errorf("reviving document %d: %w", docID, err)
	}
	return oneRowAffected(res, docID)
}

// TombstoneDocument marks a document logically deleted. The row and its
// postings stay physically present until the compactor runs.
func (s *Store) TombstoneDocument(ctx context.Context, tx Querier, docID int64) error {
	query := s.rebind(`UPDATE documents SET status = ? WHERE doc_id = ?`)
	res, err := tx.ExecContext(ctx, query, StatusTombstoned, docID)
	if err != nil {
		return fmt.Errorf("tombstoning document %d: %w", docID, err)
	}
	return oneRowAffected(res, docID)
}

// PurgeTombstonedDocuments removes tombstoned catalog rows, returning the
// purge count. Postings and contents must be purged first in the same
// transaction or the tombstone join that identifies them loses its anchor.
func (s *Store) PurgeTombstonedDocuments(ctx context.Context, tx Querier) (int64, error) {
	query := s.rebind(`DELETE FROM documents WHERE status = ?`)
	res, err := tx.ExecContext(ctx, query, StatusTombstoned)
	if err != nil {
		return 0, fmt.Errorf("purging tombstoned documents: %w", err)
	}
	return res.RowsAffected()
}

// CountsByStatus returns the live and tombstoned row counts in one scan.
func (s *Store) CountsByStatus(ctx context.Context, q Querier) (live, tombstoned int64, err error) {
	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return 0, 0, fmt.Errorf("counting documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return 0, 0, fmt.Errorf("scanning document counts: %w", err)
		}
		switch status {
		case StatusLive:
			live = count
		case StatusTombstoned:
			tombstoned = count
		}
	}
	return live, tombstoned, rows.Err()
}

// LiveDocIDs returns every live doc_id in ascending order. The benchmark
// harness seeds its deletion cursor from this.
func (s *Store) LiveDocIDs(ctx context.Context, q Querier) ([]int64, error) {
	query := s.rebind(`SELECT doc_id FROM documents WHERE status = ? ORDER BY doc_id`)
	rows, err := q.QueryContext(ctx, query, StatusLive)
	if err != nil {
		return nil, fmt.Errorf("listing live documents: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning doc_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func oneRowAffected(res sql.Result, docID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for document %d: %w", docID, err)
	}
	if n != 1 {
		return fmt.Errorf("expected one row updated for document %d, got %d", docID, n)
	}
	return nil
}
