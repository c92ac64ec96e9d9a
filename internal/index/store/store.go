// Package store persists the inverted index: the term dictionary, the
// document catalog, the postings relation, the document content relation,
// and the metadata counters. All statistics are derived from live rows at
// read time; nothing here caches an aggregate that a mutation could leave
// stale.
//
// The package is dialect-aware. Queries are written with ? placeholders and
// rebound for PostgreSQL; the embedded SQLite backend is the default and the
// two are interchangeable behind the Backend interface.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
)

// Backend is the transactional storage collaborator. pkg/sqlite.Client and
// pkg/postgres.Client both satisfy it.
type Backend interface {
	DB() *sql.DB
	Driver() string
	InTx(ctx context.Context, fn func(*sql.Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Querier is the read surface shared by *sql.DB and *sql.Tx, so snapshot
// reads can run either inside an explicit transaction or directly on the
// pool.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is the handle every component operates through. Open one per
// process (or per test) and pass it explicitly; there is no package-level
// instance.
type Store struct {
	backend Backend
	driver  string
	logger  *slog.Logger
}

// Open applies the schema to the backend and returns a ready Store. The
// schema is idempotent, so opening an already-initialised database is safe.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	s := &Store{
		backend: backend,
		driver:  backend.Driver(),
		logger:  logger.WithComponent("store"),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	s.logger.Info("store opened", "driver", s.driver)
	return s, nil
}

// DB exposes the underlying pool for read-only snapshot queries.
func (s *Store) DB() *sql.DB {
	return s.backend.DB()
}

// Driver returns the backend driver name ("sqlite" or "postgres").
func (s *Store) Driver() string {
	return s.driver
}

// Ping probes the backend connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// InTx runs fn inside one write transaction. Domain errors returned by fn
// (unknown document, duplicate, invalid input) pass through untouched so
// callers can match on them; infrastructure failures — begin, statement,
// commit, rollback — surface as ErrStorageTransaction with the underlying
// cause in the message.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := s.backend.InTx(ctx, fn)
	if err == nil || apperrors.IsDomain(err) {
		return err
	}
	return apperrors.Newf(apperrors.ErrStorageTransaction, "%v", err)
}

// InReadTx runs fn inside a read-only transaction, giving multi-statement
// reads (query evaluation, integrity audit, snapshot export) one consistent
// view of the index even while the writer commits.
func (s *Store) InReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.backend.DB().BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return apperrors.Newf(apperrors.ErrStorageTransaction, "beginning read transaction: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		if apperrors.IsDomain(err) {
			return err
		}
		return apperrors.Newf(apperrors.ErrStorageTransaction, "%v", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Newf(apperrors.ErrStorageTransaction, "committing read transaction: %v", err)
	}
	return nil
}

// Reset empties every relation and reseeds the counters. The full build
// uses it to replace existing store content under the same handle.
func (s *Store) Reset(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"postings", "contents", "documents", "terms"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	for key, value := range map[string]int64{
		metaNextDocID:  1,
		metaNextTermID: 1,
	} {
		if err := s.setMetaInt(ctx, tx, key, value); err != nil {
			return err
		}
	}
	// The mutation counter survives a rebuild so cache keys from the old
	// corpus can never alias results from the new one.
	if _, err := s.BumpMutationSeq(ctx, tx); err != nil {
		return err
	}
	return nil
}

// rebind converts ? placeholders to the $n form lib/pq expects. SQLite
// statements run unchanged.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns a comma-joined run of n ? markers for IN clauses and
// multi-row inserts.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// inListChunk bounds placeholder count per IN clause. SQLite caps bound
// variables per statement, so a document with an unusually large vocabulary
// must not expand into one giant list.
const inListChunk = 500

// inChunks invokes fn over successive sub-slices of at most inListChunk
// elements.
func inChunks[T any](items []T, fn func([]T) error) error {
	for start := 0; start < len(items); start += inListChunk {
		end := start + inListChunk
		if end > len(items) {
			end = len(items)
		}
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// ErrNoRows reports whether err is the empty-result sentinel from a
// QueryRow scan.
func ErrNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
