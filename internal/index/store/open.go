package store

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/sqlite"
)

// OpenFromConfig selects the backend named by the storage config, connects
// it, and opens a Store over it. Closing the Store closes the backend.
func OpenFromConfig(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Driver {
	case "", "sqlite":
		backend, err = sqlite.New(cfg.SQLite)
	case "postgres":
		backend, err = postgres.New(cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting %s backend: %w", cfg.Driver, err)
	}

	s, err := Open(ctx, backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}
