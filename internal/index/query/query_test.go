package query

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/sqlite"
)

func newTestIndex(t *testing.T, docs map[int64]string) (*Engine, *mutation.Engine, *store.Store) {
	t.Helper()
	client, err := sqlite.New(config.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "index.db"),
		BusyTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("opening sqlite backend: %v", err)
	}
	st, err := store.Open(t.Context(), client)
	if err != nil {
		client.Close()
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mut := mutation.NewEngine(st, nil)
	// Insert in ascending id order so tests are deterministic.
	ids := make([]int64, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	for _, id := range ids {
		if err := mut.InsertWithID(t.Context(), id, docs[id]); err != nil {
			t.Fatalf("inserting document %d: %v", id, err)
		}
	}
	return NewEngine(st, nil), mut, st
}

func docIDs(results []ScoredDoc) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.DocID
	}
	return ids
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", Disjunctive, false},
		{"or", Disjunctive, false},
		{"OR", Disjunctive, false},
		{"disjunctive", Disjunctive, false},
		{"and", Conjunctive, false},
		{"Conjunctive", Conjunctive, false},
		{"xor", Disjunctive, true},
		{"not", Disjunctive, true},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.in)
		if tc.wantErr {
			if !errors.Is(err, apperrors.ErrInvalidQuery) {
				t.Errorf("ParseMode(%q): expected ErrInvalidQuery, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDisjunctiveScenario(t *testing.T) {
	// Background documents keep df(cat) below N/2, where the unclamped idf
	// is positive.
	engine, _, _ := newTestIndex(t, map[int64]string{
		1: "the cat sat",
		2: "the dog sat",
		3: "the bird flew",
		4: "the fish swam",
		5: "the fox ran",
	})

	results, err := engine.Search(t.Context(), []string{"cat"}, Disjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].DocID != 1 {
		t.Fatalf("expected [doc 1], got %v", docIDs(results))
	}
	if results[0].Score <= 0 {
		t.Errorf("score = %f, want > 0", results[0].Score)
	}
}

func TestConjunctiveRequiresEveryTerm(t *testing.T) {
	engine, _, _ := newTestIndex(t, map[int64]string{
		1: "the cat sat",
		2: "the dog sat",
	})

	// No document contains both cat and dog.
	results, err := engine.Search(t.Context(), []string{"cat", "dog"}, Conjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result, got %v", docIDs(results))
	}

	results, err = engine.Search(t.Context(), []string{"the", "sat"}, Conjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both documents, got %v", docIDs(results))
	}
}

func TestUnknownTermHandling(t *testing.T) {
	engine, _, _ := newTestIndex(t, map[int64]string{
		1: "the cat sat",
	})

	// Unknown term under Conjunctive empties the result immediately.
	results, err := engine.Search(t.Context(), []string{"cat", "unicorn"}, Conjunctive, 10)
	if err != nil {
		t.Fatalf("conjunctive search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result, got %v", docIDs(results))
	}

	// Under Disjunctive it just contributes nothing.
	results, err = engine.Search(t.Context(), []string{"cat", "unicorn"}, Disjunctive, 10)
	if err != nil {
		t.Fatalf("disjunctive search: %v", err)
	}
	if len(results) != 1 || results[0].DocID != 1 {
		t.Fatalf("expected [doc 1], got %v", docIDs(results))
	}
}

func TestEmptyQueryYieldsEmptyResult(t *testing.T) {
	engine, _, _ := newTestIndex(t, map[int64]string{1: "alpha"})

	results, err := engine.Search(t.Context(), nil, Disjunctive, 10)
	if err != nil {
		t.Fatalf("empty search errored: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result, got %v", docIDs(results))
	}
}

func TestInvalidTopK(t *testing.T) {
	engine, _, _ := newTestIndex(t, map[int64]string{1: "alpha"})

	if _, err := engine.Search(t.Context(), []string{"alpha"}, Disjunctive, 0); !errors.Is(err, apperrors.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for topK=0, got %v", err)
	}
}

func TestDeletedDocumentsAreExcluded(t *testing.T) {
	engine, mut, st := newTestIndex(t, map[int64]string{
		1: "the cat sat",
		2: "the dog sat",
	})

	if err := mut.Delete(t.Context(), 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	results, err := engine.Search(t.Context(), []string{"cat"}, Disjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("tombstoned document surfaced: %v", docIDs(results))
	}

	// The postings row still exists physically; only the live join hides it.
	stats, err := st.ResolveTerms(t.Context(), st.DB(), []string{"cat", "sat"})
	if err != nil {
		t.Fatalf("resolving terms: %v", err)
	}
	if stats["cat"].DF != 0 {
		t.Errorf("df(cat) = %d, want 0", stats["cat"].DF)
	}
	if stats["sat"].DF != 1 {
		t.Errorf("df(sat) = %d, want 1", stats["sat"].DF)
	}
}

func TestRankingOrderAndTieBreak(t *testing.T) {
	// Docs 4-7 keep df(apple) below N/2, so its idf is positive and higher
	// term frequency means a higher score.
	engine, _, _ := newTestIndex(t, map[int64]string{
		1: "apple apple apple banana",
		2: "apple banana cherry durian",
		3: "apple apple apple banana", // identical to 1: same score, tie on id
		4: "elderberry fig grape melon",
		5: "melon fig grape kiwi",
		6: "kiwi lime mango nectarine",
		7: "orange papaya quince raisin",
	})

	results, err := engine.Search(t.Context(), []string{"apple"}, Disjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// Docs 1 and 3 have higher tf with equal lengths, so they outrank 2;
	// between them the lower id wins the tie.
	if results[0].DocID != 1 || results[1].DocID != 3 || results[2].DocID != 2 {
		t.Errorf("ranking order = %v, want [1 3 2]", docIDs(results))
	}
	if results[0].Score != results[1].Score {
		t.Errorf("identical documents scored differently: %f vs %f", results[0].Score, results[1].Score)
	}
	if results[1].Score <= results[2].Score {
		t.Errorf("higher tf did not outrank: %f vs %f", results[1].Score, results[2].Score)
	}
}

func TestTopKTruncation(t *testing.T) {
	engine, _, _ := newTestIndex(t, map[int64]string{
		1: "common alpha",
		2: "common beta",
		3: "common gamma",
		4: "common delta",
	})

	results, err := engine.Search(t.Context(), []string{"common"}, Disjunctive, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// Fewer candidates than topK returns all of them.
	results, err = engine.Search(t.Context(), []string{"alpha"}, Disjunctive, 50)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestNegativeIDFIsNotClamped(t *testing.T) {
	// "common" appears in every document, so idf = ln(0.5/(N+0.5)) < 0.
	engine, _, _ := newTestIndex(t, map[int64]string{
		1: "common alpha",
		2: "common beta",
		3: "common gamma",
	})

	results, err := engine.Search(t.Context(), []string{"common"}, Disjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Score >= 0 {
			t.Errorf("doc %d score = %f, want negative for a term in every document", r.DocID, r.Score)
		}
	}
}

func TestDuplicateQueryTermsAreDeduplicated(t *testing.T) {
	engine, _, _ := newTestIndex(t, map[int64]string{
		1: "the cat sat",
	})

	single, err := engine.Search(t.Context(), []string{"cat"}, Conjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	doubled, err := engine.Search(t.Context(), []string{"cat", "cat"}, Conjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(single) != 1 || len(doubled) != 1 {
		t.Fatalf("expected one result from both, got %d and %d", len(single), len(doubled))
	}
	if single[0].Score != doubled[0].Score {
		t.Errorf("duplicated term changed the score: %f vs %f", single[0].Score, doubled[0].Score)
	}
}

func TestQueryMonotonicity(t *testing.T) {
	docs := map[int64]string{
		1: "alpha beta gamma",
		2: "beta gamma delta",
		3: "gamma delta epsilon",
	}
	engine, _, _ := newTestIndex(t, docs)
	ctx := t.Context()

	contains := func(results []ScoredDoc, id int64) bool {
		for _, r := range results {
			if r.DocID == id {
				return true
			}
		}
		return false
	}

	// Disjunctive: adding a term never shrinks the candidate set.
	base, err := engine.Search(ctx, []string{"alpha"}, Disjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	widened, err := engine.Search(ctx, []string{"alpha", "delta"}, Disjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range base {
		if !contains(widened, r.DocID) {
			t.Errorf("disjunctive widening dropped doc %d", r.DocID)
		}
	}

	// Conjunctive: adding a term never grows the candidate set.
	loose, err := engine.Search(ctx, []string{"gamma"}, Conjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	tightened, err := engine.Search(ctx, []string{"gamma", "delta"}, Conjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range tightened {
		if !contains(loose, r.DocID) {
			t.Errorf("conjunctive tightening produced new doc %d", r.DocID)
		}
	}
}

func TestBM25MatchesFormula(t *testing.T) {
	// Two documents, query term in one of them: check the exact value.
	engine, _, _ := newTestIndex(t, map[int64]string{
		1: "cat cat dog",
		2: "dog dog dog",
	})

	results, err := engine.Search(t.Context(), []string{"cat"}, Disjunctive, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	// N=2, df=1, tf=2, len=3, avgdl=3.
	idf := math.Log((2 - 1 + 0.5) / (1 + 0.5))
	tfNorm := (2 * (k1 + 1)) / (2 + k1*(1-b+b*1.0))
	want := idf * tfNorm
	if diff := math.Abs(results[0].Score - want); diff > 1e-12 {
		t.Errorf("score = %.15f, want %.15f (diff %g)", results[0].Score, want, diff)
	}
}
