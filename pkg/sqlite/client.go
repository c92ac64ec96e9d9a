// Package sqlite provides the embedded SQLite backend for the statistics
// store, using the pure-Go modernc.org/sqlite driver. WAL journaling gives
// snapshot-isolated readers concurrent with the single writer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
)

type Client struct {
	db   *sql.DB
	path string
}

func New(cfg config.SQLiteConfig) (*Client, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path not configured")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite supports one writer; serialize all access through a single
	// connection so BeginTx never races another writer in-process.
	db.SetMaxOpenConns(1)

	busyMs := int64(5000)
	if cfg.BusyTimeout > 0 {
		busyMs = cfg.BusyTimeout.Milliseconds()
	}
	cacheKB := 65536
	if cfg.CacheKB > 0 {
		cacheKB = cfg.CacheKB
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyMs),
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheKB),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	return &Client{db: db, path: cfg.Path}, nil
}

// DB exposes the underlying connection for read queries.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Driver identifies the backend dialect for SQL placeholder rendering.
func (c *Client) Driver() string {
	return "sqlite"
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close truncates the WAL into the main database file before closing.
func (c *Client) Close() error {
	if _, err := c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		c.db.Close()
		return fmt.Errorf("checkpointing wal: %w", err)
	}
	return c.db.Close()
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
