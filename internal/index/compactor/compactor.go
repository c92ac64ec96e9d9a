// Package compactor physically reclaims tombstoned data. Statistics were
// already adjusted eagerly at delete time, so compaction is pure storage
// reclamation: it deletes the tombstoned postings, contents, and catalog
// rows in one transaction, then runs the backend's rewrite primitive so
// later scans no longer touch the purged pages.
package compactor

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/resilience"
)

// Result reports what one compaction run reclaimed.
type Result struct {
	DocsPurged     int64         `json:"docs_purged"`
	PostingsPurged int64         `json:"postings_purged"`
	ContentsPurged int64         `json:"contents_purged"`
	Duration       time.Duration `json:"duration"`
}

// Compactor reclaims tombstoned rows from one store handle. At most one
// compaction runs at a time; a concurrent attempt is rejected with
// CompactionInProgress rather than queued.
type Compactor struct {
	store          *store.Store
	threshold      float64
	interval       time.Duration
	reclaimTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	inFlight       atomic.Bool
}

// New creates a Compactor with the configured threshold policy. metrics may
// be nil.
func New(st *store.Store, m *metrics.Metrics, cfg config.CompactionConfig) *Compactor {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Compactor{
		store:          st,
		threshold:      cfg.Threshold,
		interval:       interval,
		reclaimTimeout: cfg.ReclaimTimeout,
		logger:         logger.WithComponent("compactor"),
		metrics:        m,
	}
}

// Compact removes all tombstoned rows and rewrites the physical storage.
// It never touches a statistic: df, N, and avgdl already excluded the
// tombstoned documents. With no tombstones present it is a no-op, which
// makes back-to-back invocations idempotent.
func (c *Compactor) Compact(ctx context.Context) (Result, error) {
	return c.run(ctx, "manual")
}

// MaybeCompact compacts when the tombstoned fraction of the catalog has
// reached the threshold. ran reports whether a compaction actually fired.
func (c *Compactor) MaybeCompact(ctx context.Context) (result Result, ran bool, err error) {
	if c.threshold <= 0 {
		return Result{}, false, nil
	}
	live, tombstoned, err := c.store.CountsByStatus(ctx, c.store.DB())
	if err != nil {
		return Result{}, false, err
	}
	total := live + tombstoned
	if tombstoned == 0 || float64(tombstoned)/float64(total) < c.threshold {
		return Result{}, false, nil
	}
	result, err = c.run(ctx, "threshold")
	if err != nil {
		return Result{}, false, err
	}
	return result, true, nil
}

// Start runs the automatic threshold check until ctx is cancelled. A check
// that loses the single-flight race to a manual compaction is skipped
// silently; it will be rechecked next tick.
func (c *Compactor) Start(ctx context.Context) {
	c.logger.Info("automatic compaction started",
		"threshold", c.threshold,
		"check_interval", c.interval,
	)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("automatic compaction stopped")
			return
		case <-ticker.C:
			result, ran, err := c.MaybeCompact(ctx)
			switch {
			case errors.Is(err, apperrors.ErrCompactionInProgress):
			case err != nil:
				c.logger.Error("automatic compaction failed", "error", err)
			case ran:
				c.logger.Info("automatic compaction complete",
					"docs_purged", result.DocsPurged,
					"duration", result.Duration,
				)
			}
		}
	}
}

func (c *Compactor) run(ctx context.Context, trigger string) (Result, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.observe(trigger, "rejected", Result{})
		return Result{}, apperrors.New(apperrors.ErrCompactionInProgress, "compaction already running")
	}
	defer c.inFlight.Store(false)

	start := time.Now()
	var result Result
	err := c.store.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		// Postings and contents go first: once the catalog rows are gone
		// the status join that identifies them has nothing to anchor on.
		if result.PostingsPurged, err = c.store.PurgeTombstonedPostings(ctx, tx); err != nil {
			return err
		}
		if result.ContentsPurged, err = c.store.PurgeTombstonedContents(ctx, tx); err != nil {
			return err
		}
		if result.DocsPurged, err = c.store.PurgeTombstonedDocuments(ctx, tx); err != nil {
			return err
		}
		return c.store.SetLastCompaction(ctx, tx, time.Now().Unix())
	})
	if err != nil {
		c.observe(trigger, "error", Result{})
		return Result{}, err
	}

	if result.DocsPurged > 0 {
		// The storage rewrite scans the whole file; bound it so a stalled
		// VACUUM cannot pin the single-flight slot forever.
		err := resilience.WithTimeout(ctx, "reclaim storage", c.reclaimTimeout, c.store.ReclaimStorage)
		if err != nil {
			c.observe(trigger, "error", result)
			return Result{}, err
		}
	}

	result.Duration = time.Since(start)
	c.observe(trigger, "success", result)
	c.logger.Info("compaction complete",
		"trigger", trigger,
		"docs_purged", result.DocsPurged,
		"postings_purged", result.PostingsPurged,
		"contents_purged", result.ContentsPurged,
		"duration", result.Duration,
	)
	return result, nil
}

func (c *Compactor) observe(trigger, status string, result Result) {
	if c.metrics == nil {
		return
	}
	c.metrics.CompactionsTotal.WithLabelValues(trigger, status).Inc()
	if status != "success" {
		return
	}
	c.metrics.CompactionDuration.Observe(result.Duration.Seconds())
	c.metrics.CompactionRowsPurged.WithLabelValues("documents").Add(float64(result.DocsPurged))
	c.metrics.CompactionRowsPurged.WithLabelValues("postings").Add(float64(result.PostingsPurged))
	c.metrics.CompactionRowsPurged.WithLabelValues("contents").Add(float64(result.ContentsPurged))
}
