package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Violation describes one broken invariant found by VerifyIntegrity.
type Violation struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// VerifyIntegrity audits the store against its invariants inside one read
// transaction: df equals the distinct live documents carrying each term,
// every live document's length equals the sum of its posting frequencies,
// no posting dangles, and every live document has a content row. An empty
// slice means the store is consistent.
func (s *Store) VerifyIntegrity(ctx context.Context) ([]Violation, error) {
	var violations []Violation
	err := s.InReadTx(ctx, func(tx *sql.Tx) error {
		checks := []func(context.Context, *sql.Tx) ([]Violation, error){
			s.checkDocumentFrequencies,
			s.checkDocumentLengths,
			s.checkReferences,
			s.checkContents,
		}
		for _, check := range checks {
			found, err := check(ctx, tx)
			if err != nil {
				return err
			}
			violations = append(violations, found...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return violations, nil
}

// checkDocumentFrequencies compares each stored df against the count of
// live documents actually holding a posting for the term.
func (s *Store) checkDocumentFrequencies(ctx context.Context, tx *sql.Tx) ([]Violation, error) {
	query := s.rebind(`SELECT t.term, t.document_frequency, (
			SELECT COUNT(*) FROM postings p
			JOIN documents d ON d.doc_id = p.doc_id
			WHERE p.term_id = t.term_id AND d.status = ?) AS actual
		FROM terms t
		WHERE t.document_frequency <> (
			SELECT COUNT(*) FROM postings p
			JOIN documents d ON d.doc_id = p.doc_id
			WHERE p.term_id = t.term_id AND d.status = ?)`)
	rows, err := tx.QueryContext(ctx, query, StatusLive, StatusLive)
	if err != nil {
		return nil, fmt.Errorf("auditing document frequencies: %w", err)
	}
	defer rows.Close()
	var violations []Violation
	for rows.Next() {
		var term string
		var stored, actual int64
		if err := rows.Scan(&term, &stored, &actual); err != nil {
			return nil, fmt.Errorf("scanning df violation: %w", err)
		}
		violations = append(violations, Violation{
			Kind:   "df_mismatch",
			Detail: fmt.Sprintf("term %q: stored df=%d, live postings=%d", term, stored, actual),
		})
	}
	return violations, rows.Err()
}

// checkDocumentLengths verifies length == Σ term_frequency for live
// documents.
func (s *Store) checkDocumentLengths(ctx context.Context, tx *sql.Tx) ([]Violation, error) {
	query := s.rebind(`SELECT d.doc_id, d.length, COALESCE((
			SELECT SUM(term_frequency) FROM postings p WHERE p.doc_id = d.doc_id), 0) AS tf_sum
		FROM documents d
		WHERE d.status = ? AND d.length <> COALESCE((
			SELECT SUM(term_frequency) FROM postings p WHERE p.doc_id = d.doc_id), 0)`)
	rows, err := tx.QueryContext(ctx, query, StatusLive)
	if err != nil {
		return nil, fmt.Errorf("auditing document lengths: %w", err)
	}
	defer rows.Close()
	var violations []Violation
	for rows.Next() {
		var docID, length, tfSum int64
		if err := rows.Scan(&docID, &length, &tfSum); err != nil {
			return nil, fmt.Errorf("scanning length violation: %w", err)
		}
		violations = append(violations, Violation{
			Kind:   "length_mismatch",
			Detail: fmt.Sprintf("document %d: stored length=%d, posting tf sum=%d", docID, length, tfSum),
		})
	}
	return violations, rows.Err()
}

// checkReferences finds postings pointing at term or document rows that do
// not exist.
func (s *Store) checkReferences(ctx context.Context, tx *sql.Tx) ([]Violation, error) {
	query := `SELECT p.term_id, p.doc_id,
			(t.term_id IS NULL) AS missing_term,
			(d.doc_id IS NULL) AS missing_doc
		FROM postings p
		LEFT JOIN terms t ON t.term_id = p.term_id
		LEFT JOIN documents d ON d.doc_id = p.doc_id
		WHERE t.term_id IS NULL OR d.doc_id IS NULL`
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("auditing references: %w", err)
	}
	defer rows.Close()
	var violations []Violation
	for rows.Next() {
		var termID, docID int64
		var missingTerm, missingDoc bool
		if err := rows.Scan(&termID, &docID, &missingTerm, &missingDoc); err != nil {
			return nil, fmt.Errorf("scanning reference violation: %w", err)
		}
		switch {
		case missingTerm:
			violations = append(violations, Violation{
				Kind:   "dangling_term",
				Detail: fmt.Sprintf("posting (%d, %d) references missing term_id %d", termID, docID, termID),
			})
		case missingDoc:
			violations = append(violations, Violation{
				Kind:   "dangling_document",
				Detail: fmt.Sprintf("posting (%d, %d) references missing doc_id %d", termID, docID, docID),
			})
		}
	}
	return violations, rows.Err()
}

// checkContents verifies every live document has a content row and no
// content row dangles without a catalog row. Tombstoned documents keeping
// their content until compaction is expected, not a violation.
func (s *Store) checkContents(ctx context.Context, tx *sql.Tx) ([]Violation, error) {
	var violations []Violation

	missing := s.rebind(`SELECT d.doc_id FROM documents d
		LEFT JOIN contents c ON c.doc_id = d.doc_id
		WHERE d.status = ? AND c.doc_id IS NULL`)
	rows, err := tx.QueryContext(ctx, missing, StatusLive)
	if err != nil {
		return nil, fmt.Errorf("auditing missing contents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var docID int64
		if err := rows.Scan(&docID); err != nil {
			return nil, fmt.Errorf("scanning missing content: %w", err)
		}
		violations = append(violations, Violation{
			Kind:   "missing_content",
			Detail: fmt.Sprintf("live document %d has no content row", docID),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orphaned := `SELECT c.doc_id FROM contents c
		LEFT JOIN documents d ON d.doc_id = c.doc_id
		WHERE d.doc_id IS NULL`
	orphanRows, err := tx.QueryContext(ctx, orphaned)
	if err != nil {
		return nil, fmt.Errorf("auditing orphaned contents: %w", err)
	}
	defer orphanRows.Close()
	for orphanRows.Next() {
		var docID int64
		if err := orphanRows.Scan(&docID); err != nil {
			return nil, fmt.Errorf("scanning orphaned content: %w", err)
		}
		violations = append(violations, Violation{
			Kind:   "orphaned_content",
			Detail: fmt.Sprintf("content row %d has no catalog row", docID),
		})
	}
	return violations, orphanRows.Err()
}
