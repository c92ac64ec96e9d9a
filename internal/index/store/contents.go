package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertContent stores the raw text of a document, replacing any previous
// version (modify and resurrection overwrite in place).
func (s *Store) UpsertContent(ctx context.Context, tx Querier, docID int64, content string) error {
	query := s.rebind(`INSERT INTO contents (doc_id, content) VALUES (?, ?)
		ON CONFLICT (doc_id) DO UPDATE SET content = excluded.content`)
	if _, err := tx.ExecContext(ctx, query, docID, content); err != nil {
		return fmt.Errorf("storing content for document %d: %w", docID, err)
	}
	return nil
}

// GetContent returns the stored text of a document. found is false when no
// content row exists.
func (s *Store) GetContent(ctx context.Context, q Querier, docID int64) (string, bool, error) {
	query := s.rebind(`SELECT content FROM contents WHERE doc_id = ?`)
	var content string
	err := q.QueryRowContext(ctx, query, docID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading content for document %d: %w", docID, err)
	}
	return content, true, nil
}

// ContentsForDocs batch-fetches content rows for the given ids. Missing ids
// are simply absent from the result map.
func (s *Store) ContentsForDocs(ctx context.Context, q Querier, docIDs []int64) (map[int64]string, error) {
	contents := make(map[int64]string, len(docIDs))
	err := inChunks(docIDs, func(chunk []int64) error {
		query := s.rebind(`SELECT doc_id, content FROM contents WHERE doc_id IN (` + placeholders(len(chunk)) + `)`)
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("reading contents: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			var content string
			if err := rows.Scan(&id, &content); err != nil {
				return fmt.Errorf("scanning content row: %w", err)
			}
			contents[id] = content
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return contents, nil
}

// PurgeTombstonedContents removes content rows belonging to tombstoned
// documents.
func (s *Store) PurgeTombstonedContents(ctx context.Context, tx Querier) (int64, error) {
	query := s.rebind(`DELETE FROM contents WHERE doc_id IN (
		SELECT doc_id FROM documents WHERE status = ?)`)
	res, err := tx.ExecContext(ctx, query, StatusTombstoned)
	if err != nil {
		return 0, fmt.Errorf("purging tombstoned contents: %w", err)
	}
	return res.RowsAffected()
}
