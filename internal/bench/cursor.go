// Package bench drives the deletion-load benchmark: repeated rounds of
// query batches and delete batches against a live index, with optional
// threshold-triggered compaction, recording per-query latency as tombstones
// accumulate.
package bench

import (
	"math/rand"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
)

// Cursor walks the initial live document population in a fixed order and
// hands out deletion batches. It only advances, so every document is
// deleted at most once per run.
type Cursor struct {
	ids []int64
	pos int
}

// NewCursor orders ids for deletion. mode "sequential" deletes in ascending
// id order; "random" applies a seeded permutation, so the same seed replays
// the same deletion order.
func NewCursor(ids []int64, mode string, seed int64) (*Cursor, error) {
	ordered := make([]int64, len(ids))
	copy(ordered, ids)
	switch mode {
	case "", "sequential":
		sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	case "random":
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "unsupported cursor mode %q", mode)
	}
	return &Cursor{ids: ordered}, nil
}

// Next returns up to n ids and advances past them. It returns nil once the
// population is exhausted.
func (c *Cursor) Next(n int) []int64 {
	if c.pos >= len(c.ids) || n <= 0 {
		return nil
	}
	end := c.pos + n
	if end > len(c.ids) {
		end = len(c.ids)
	}
	batch := c.ids[c.pos:end]
	c.pos = end
	return batch
}

// Consumed reports how many ids have been handed out.
func (c *Cursor) Consumed() int {
	return c.pos
}

// Remaining reports how many ids are left.
func (c *Cursor) Remaining() int {
	return len(c.ids) - c.pos
}

// Size is the initial population size.
func (c *Cursor) Size() int {
	return len(c.ids)
}
