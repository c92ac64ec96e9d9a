package store

import (
	"context"
	"fmt"
)

// ReclaimStorage runs the backend's physical rewrite primitive so scans no
// longer touch purged rows. It must run outside any transaction: SQLite's
// VACUUM and PostgreSQL's VACUUM both refuse to execute inside one.
func (s *Store) ReclaimStorage(ctx context.Context) error {
	db := s.backend.DB()
	if s.driver == "postgres" {
		for _, table := range []string{"postings", "contents", "documents", "terms"} {
			if _, err := db.ExecContext(ctx, "VACUUM ANALYZE "+table); err != nil {
				return fmt.Errorf("vacuuming %s: %w", table, err)
			}
		}
		return nil
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuuming database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("truncating wal: %w", err)
	}
	return nil
}
