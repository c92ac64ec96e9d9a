package store

import (
	"context"
	"fmt"
	"sort"
)

// TermStat is one resolved dictionary entry.
type TermStat struct {
	TermID int64
	DF     int64
}

// EnsureTerms resolves every term to its id, creating dictionary rows with
// df=0 for terms seen for the first time. Dictionary rows are never
// deleted and ids never recycled, so a term resolves to the same id for
// the lifetime of the store.
func (s *Store) EnsureTerms(ctx context.Context, tx Querier, terms []string) (map[string]int64, error) {
	ids, err := s.lookupTermIDs(ctx, tx, terms)
	if err != nil {
		return nil, err
	}

	var missing []string
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, ok := ids[term]; ok {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		missing = append(missing, term)
	}
	// Sorted allocation keeps term_id assignment deterministic for a given
	// batch, which makes rebuilds comparable.
	sort.Strings(missing)

	insert := s.rebind(`INSERT INTO terms (term_id, term, document_frequency) VALUES (?, ?, 0)`)
	for _, term := range missing {
		id, err := s.NextTermID(ctx, tx)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, insert, id, term); err != nil {
			return nil, fmt.Errorf("inserting term %q: %w", term, err)
		}
		ids[term] = id
	}
	return ids, nil
}

func (s *Store) lookupTermIDs(ctx context.Context, q Querier, terms []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(terms))
	err := inChunks(terms, func(chunk []string) error {
		query := s.rebind(`SELECT term, term_id FROM terms WHERE term IN (` + placeholders(len(chunk)) + `)`)
		args := make([]any, len(chunk))
		for i, term := range chunk {
			args[i] = term
		}
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("resolving terms: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var term string
			var id int64
			if err := rows.Scan(&term, &id); err != nil {
				return fmt.Errorf("scanning term row: %w", err)
			}
			ids[term] = id
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ResolveTerms returns the dictionary stats for the given terms. Terms
// absent from the dictionary are absent from the result; the query engine
// treats them as matching nothing.
func (s *Store) ResolveTerms(ctx context.Context, q Querier, terms []string) (map[string]TermStat, error) {
	stats := make(map[string]TermStat, len(terms))
	err := inChunks(terms, func(chunk []string) error {
		query := s.rebind(`SELECT term, term_id, document_frequency FROM terms WHERE term IN (` + placeholders(len(chunk)) + `)`)
		args := make([]any, len(chunk))
		for i, term := range chunk {
			args[i] = term
		}
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("resolving term stats: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var term string
			var stat TermStat
			if err := rows.Scan(&term, &stat.TermID, &stat.DF); err != nil {
				return fmt.Errorf("scanning term stats: %w", err)
			}
			stats[term] = stat
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// AdjustDF shifts document_frequency by delta for every given term id.
// Mutations call this with +1 at insert and -1 at delete, keeping df
// exactly equal to the count of live documents carrying each term.
func (s *Store) AdjustDF(ctx context.Context, tx Querier, termIDs []int64, delta int64) error {
	return inChunks(termIDs, func(chunk []int64) error {
		query := s.rebind(`UPDATE terms SET document_frequency = document_frequency + ?
			WHERE term_id IN (` + placeholders(len(chunk)) + `)`)
		args := make([]any, 0, len(chunk)+1)
		args = append(args, delta)
		for _, id := range chunk {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("adjusting document frequencies: %w", err)
		}
		return nil
	})
}

// RecomputeDF derives every document_frequency from the final postings and
// catalog state in one aggregation. The full build finalises with this
// instead of maintaining df incrementally across batches.
func (s *Store) RecomputeDF(ctx context.Context, tx Querier) error {
	query := s.rebind(`UPDATE terms SET document_frequency = (
		SELECT COUNT(*) FROM postings p
		JOIN documents d ON d.doc_id = p.doc_id
		WHERE p.term_id = terms.term_id AND d.status = ?)`)
	if _, err := tx.ExecContext(ctx, query, StatusLive); err != nil {
		return fmt.Errorf("recomputing document frequencies: %w", err)
	}
	return nil
}

// ActiveTerms returns terms with document_frequency > 0 in dictionary
// order. The benchmark query generator samples from this list.
func (s *Store) ActiveTerms(ctx context.Context, q Querier, limit int) ([]string, error) {
	query := `SELECT term FROM terms WHERE document_frequency > 0 ORDER BY term_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing active terms: %w", err)
	}
	defer rows.Close()
	var terms []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, fmt.Errorf("scanning term: %w", err)
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}
