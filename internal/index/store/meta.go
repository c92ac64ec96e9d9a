package store

import (
	"context"
	"fmt"
	"strconv"
)

// Metadata keys. The id counters are the only id source: allocating from
// MAX()+1 would recycle ids after compaction purges the tail of the
// catalog, which the lifecycle forbids.
const (
	metaNextDocID      = "next_doc_id"
	metaNextTermID     = "next_term_id"
	metaMutationSeq    = "mutation_seq"
	metaLastCompaction = "last_compaction_unix"
)

func (s *Store) metaInt(ctx context.Context, q Querier, key string) (int64, error) {
	return s.readMeta(ctx, q, key, false)
}

// metaIntLocked reads a counter with a row lock under PostgreSQL, so the
// read-increment-write in the allocators is safe even if a second writer
// ever appears. SQLite serialises writers at the connection, so the plain
// read suffices there.
func (s *Store) metaIntLocked(ctx context.Context, q Querier, key string) (int64, error) {
	return s.readMeta(ctx, q, key, true)
}

func (s *Store) readMeta(ctx context.Context, q Querier, key string, locked bool) (int64, error) {
	query := `SELECT value FROM index_meta WHERE key = ?`
	if locked && s.driver == "postgres" {
		query += ` FOR UPDATE`
	}
	var raw string
	if err := q.QueryRowContext(ctx, s.rebind(query), key).Scan(&raw); err != nil {
		return 0, fmt.Errorf("reading meta %s: %w", key, err)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing meta %s=%q: %w", key, raw, err)
	}
	return value, nil
}

func (s *Store) setMetaInt(ctx context.Context, q Querier, key string, value int64) error {
	query := s.rebind(`UPDATE index_meta SET value = ? WHERE key = ?`)
	if _, err := q.ExecContext(ctx, query, strconv.FormatInt(value, 10), key); err != nil {
		return fmt.Errorf("writing meta %s: %w", key, err)
	}
	return nil
}

// NextDocID allocates the next document id inside the given transaction.
// The counter only moves forward; an aborted transaction may leave a gap,
// never a reuse.
func (s *Store) NextDocID(ctx context.Context, tx Querier) (int64, error) {
	id, err := s.metaIntLocked(ctx, tx, metaNextDocID)
	if err != nil {
		return 0, err
	}
	if err := s.setMetaInt(ctx, tx, metaNextDocID, id+1); err != nil {
		return 0, err
	}
	return id, nil
}

// NextTermID allocates the next term id inside the given transaction.
func (s *Store) NextTermID(ctx context.Context, tx Querier) (int64, error) {
	id, err := s.metaIntLocked(ctx, tx, metaNextTermID)
	if err != nil {
		return 0, err
	}
	if err := s.setMetaInt(ctx, tx, metaNextTermID, id+1); err != nil {
		return 0, err
	}
	return id, nil
}

// EnsureNextDocIDAbove raises the document counter past an explicitly
// chosen id, so later counter-assigned inserts can never collide with it.
func (s *Store) EnsureNextDocIDAbove(ctx context.Context, tx Querier, docID int64) error {
	current, err := s.metaIntLocked(ctx, tx, metaNextDocID)
	if err != nil {
		return err
	}
	if docID >= current {
		return s.setMetaInt(ctx, tx, metaNextDocID, docID+1)
	}
	return nil
}

// BumpMutationSeq advances the mutation sequence and returns the new value.
// Every committed mutation transaction carries exactly one bump; result
// caches key on the sequence, so a commit implicitly invalidates everything
// cached before it.
func (s *Store) BumpMutationSeq(ctx context.Context, tx Querier) (int64, error) {
	seq, err := s.metaIntLocked(ctx, tx, metaMutationSeq)
	if err != nil {
		return 0, err
	}
	seq++
	if err := s.setMetaInt(ctx, tx, metaMutationSeq, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// MutationSeq reads the current mutation sequence.
func (s *Store) MutationSeq(ctx context.Context, q Querier) (int64, error) {
	return s.metaInt(ctx, q, metaMutationSeq)
}

// SetLastCompaction records when the compactor last ran.
func (s *Store) SetLastCompaction(ctx context.Context, tx Querier, unix int64) error {
	return s.setMetaInt(ctx, tx, metaLastCompaction, unix)
}

// LastCompaction returns the unix timestamp of the last compaction, zero if
// none has run.
func (s *Store) LastCompaction(ctx context.Context, q Querier) (int64, error) {
	return s.metaInt(ctx, q, metaLastCompaction)
}
