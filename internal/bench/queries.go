package bench

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
)

// GenerateQueries samples count queries of 1..maxTerms terms each from the
// dictionary vocabulary, using a seeded generator so the workload is
// reproducible. Terms within one query are distinct.
func GenerateQueries(vocabulary []string, count, maxTerms int, seed int64) ([][]string, error) {
	if len(vocabulary) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "empty vocabulary: build the index before generating queries")
	}
	if maxTerms < 1 {
		maxTerms = 1
	}
	if maxTerms > len(vocabulary) {
		maxTerms = len(vocabulary)
	}
	rng := rand.New(rand.NewSource(seed))
	queries := make([][]string, 0, count)
	for i := 0; i < count; i++ {
		n := 1 + rng.Intn(maxTerms)
		picked := make(map[int]struct{}, n)
		terms := make([]string, 0, n)
		for len(terms) < n {
			idx := rng.Intn(len(vocabulary))
			if _, ok := picked[idx]; ok {
				continue
			}
			picked[idx] = struct{}{}
			terms = append(terms, vocabulary[idx])
		}
		queries = append(queries, terms)
	}
	return queries, nil
}

// SaveQueries persists a query set as CSV, one query per row, one term per
// column, so the same workload can be replayed against another backend or a
// later index state.
func SaveQueries(path string, queries [][]string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating query file directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating query file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, terms := range queries {
		if err := w.Write(terms); err != nil {
			return fmt.Errorf("writing query row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing query file: %w", err)
	}
	return f.Close()
}

// LoadQueries reads a query set saved by SaveQueries.
func LoadQueries(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening query file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing query file: %w", err)
	}
	queries := make([][]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		queries = append(queries, row)
	}
	return queries, nil
}
