package store

import (
	"context"
	"fmt"
)

// The schema is shared between SQLite and PostgreSQL: BIGINT carries
// INTEGER affinity under SQLite, and both accept the same ON CONFLICT
// clause for seeding. Referential integrity across the relations is audited
// by VerifyIntegrity rather than enforced with foreign keys, because the
// tombstone lifecycle keeps postings of purged-but-not-yet-compacted
// documents physically present on purpose.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS terms (
		term_id            BIGINT PRIMARY KEY,
		term               TEXT   NOT NULL UNIQUE,
		document_frequency BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		doc_id BIGINT PRIMARY KEY,
		length BIGINT NOT NULL,
		status TEXT   NOT NULL CHECK (status IN ('live', 'tombstoned'))
	)`,
	`CREATE TABLE IF NOT EXISTS postings (
		term_id        BIGINT NOT NULL,
		doc_id         BIGINT NOT NULL,
		term_frequency BIGINT NOT NULL,
		PRIMARY KEY (term_id, doc_id)
	)`,
	`CREATE TABLE IF NOT EXISTS contents (
		doc_id  BIGINT PRIMARY KEY,
		content TEXT   NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS index_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_postings_doc ON postings (doc_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status)`,
}

// migrate applies the schema and seeds the metadata counters. Safe to run
// against an already-initialised database.
func (s *Store) migrate(ctx context.Context) error {
	db := s.backend.DB()
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	seed := s.rebind(`INSERT INTO index_meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`)
	for key, value := range map[string]string{
		metaNextDocID:      "1",
		metaNextTermID:     "1",
		metaMutationSeq:    "0",
		metaLastCompaction: "0",
	} {
		if _, err := db.ExecContext(ctx, seed, key, value); err != nil {
			return fmt.Errorf("seeding %s: %w", key, err)
		}
	}
	return nil
}
