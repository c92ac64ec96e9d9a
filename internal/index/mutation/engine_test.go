package mutation

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/sqlite"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
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
	return NewEngine(st, nil), st
}

func df(t *testing.T, st *store.Store, term string) int64 {
	t.Helper()
	stats, err := st.ResolveTerms(t.Context(), st.DB(), []string{term})
	if err != nil {
		t.Fatalf("resolving term %q: %v", term, err)
	}
	stat, ok := stats[term]
	if !ok {
		t.Fatalf("term %q not in dictionary", term)
	}
	return stat.DF
}

func requireConsistent(t *testing.T, st *store.Store) {
	t.Helper()
	violations, err := st.VerifyIntegrity(t.Context())
	if err != nil {
		t.Fatalf("verifying integrity: %v", err)
	}
	for _, v := range violations {
		t.Errorf("integrity violation: %s: %s", v.Kind, v.Detail)
	}
}

func TestInsertAssignsSequentialIDs(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := t.Context()

	first, err := engine.Insert(ctx, "the cat sat")
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	second, err := engine.Insert(ctx, "the dog sat")
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if second != first+1 {
		t.Errorf("expected sequential ids, got %d then %d", first, second)
	}
	requireConsistent(t, st)
}

func TestInsertMaintainsStatistics(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := t.Context()

	if err := engine.InsertWithID(ctx, 1, "the cat sat"); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if err := engine.InsertWithID(ctx, 2, "the dog sat"); err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	if got := df(t, st, "sat"); got != 2 {
		t.Errorf("df(sat) = %d, want 2", got)
	}
	if got := df(t, st, "cat"); got != 1 {
		t.Errorf("df(cat) = %d, want 1", got)
	}

	doc, found, err := st.GetDocument(ctx, st.DB(), 1)
	if err != nil || !found {
		t.Fatalf("reading document 1: found=%v err=%v", found, err)
	}
	if doc.Length != 3 {
		t.Errorf("document 1 length = %d, want 3", doc.Length)
	}
	requireConsistent(t, st)
}

func TestInsertDuplicateLiveFails(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := t.Context()

	if err := engine.InsertWithID(ctx, 5, "alpha beta"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := engine.InsertWithID(ctx, 5, "gamma delta")
	if !errors.Is(err, apperrors.ErrDuplicateLiveDocument) {
		t.Fatalf("expected ErrDuplicateLiveDocument, got %v", err)
	}

	// The failed insert must leave the original statistics untouched.
	if got := df(t, st, "alpha"); got != 1 {
		t.Errorf("df(alpha) = %d, want 1", got)
	}
	stats, err := st.ResolveTerms(ctx, st.DB(), []string{"gamma"})
	if err != nil {
		t.Fatalf("resolving gamma: %v", err)
	}
	if _, ok := stats["gamma"]; ok {
		t.Error("failed insert leaked dictionary rows")
	}
	requireConsistent(t, st)
}

func TestDeleteAdjustsStatisticsEagerly(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := t.Context()

	if err := engine.InsertWithID(ctx, 1, "the cat sat"); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if err := engine.InsertWithID(ctx, 2, "the dog sat"); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if err := engine.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Statistics reflect the delete before any compaction runs.
	if got := df(t, st, "cat"); got != 0 {
		t.Errorf("df(cat) = %d, want 0", got)
	}
	if got := df(t, st, "sat"); got != 1 {
		t.Errorf("df(sat) = %d, want 1", got)
	}
	corpus, err := st.CorpusStats(ctx, st.DB())
	if err != nil {
		t.Fatalf("corpus stats: %v", err)
	}
	if corpus.N != 1 {
		t.Errorf("N = %d, want 1", corpus.N)
	}

	// The tombstoned document's postings are physically present but
	// excluded from reads.
	live, tombstoned, err := st.CountsByStatus(ctx, st.DB())
	if err != nil {
		t.Fatalf("counting documents: %v", err)
	}
	if live != 1 || tombstoned != 1 {
		t.Errorf("live=%d tombstoned=%d, want 1 and 1", live, tombstoned)
	}
	requireConsistent(t, st)
}

func TestDeleteUnknownFails(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := t.Context()

	if err := engine.Delete(ctx, 42); !errors.Is(err, apperrors.ErrUnknownDocument) {
		t.Fatalf("expected ErrUnknownDocument, got %v", err)
	}

	if err := engine.InsertWithID(ctx, 1, "alpha"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := engine.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// A tombstoned document is as unknown to delete as an unused id.
	if err := engine.Delete(ctx, 1); !errors.Is(err, apperrors.ErrUnknownDocument) {
		t.Fatalf("expected ErrUnknownDocument on double delete, got %v", err)
	}
}

func TestDeleteInsertRoundTripRestoresDF(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := t.Context()

	const text = "the quick brown fox jumps"
	if err := engine.InsertWithID(ctx, 1, text); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := engine.InsertWithID(ctx, 2, "the slow brown bear"); err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	before := map[string]int64{}
	for _, term := range []string{"the", "quick", "brown", "fox", "jumps"} {
		before[term] = df(t, st, term)
	}

	if err := engine.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := engine.InsertWithID(ctx, 1, text); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	for term, want := range before {
		if got := df(t, st, term); got != want {
			t.Errorf("df(%s) = %d after round trip, want %d", term, got, want)
		}
	}
	requireConsistent(t, st)
}

func TestResurrectionReplacesStalePostings(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := t.Context()

	if err := engine.InsertWithID(ctx, 1, "alpha beta"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := engine.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := engine.InsertWithID(ctx, 1, "gamma delta"); err != nil {
		t.Fatalf("resurrect: %v", err)
	}

	if got := df(t, st, "alpha"); got != 0 {
		t.Errorf("df(alpha) = %d, want 0", got)
	}
	if got := df(t, st, "gamma"); got != 1 {
		t.Errorf("df(gamma) = %d, want 1", got)
	}
	doc, found, err := st.GetDocument(ctx, st.DB(), 1)
	if err != nil || !found {
		t.Fatalf("reading document: found=%v err=%v", found, err)
	}
	if doc.Status != store.StatusLive {
		t.Errorf("status = %s, want live", doc.Status)
	}
	requireConsistent(t, st)
}

func TestModifyReindexesUnderSameID(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := t.Context()

	if err := engine.InsertWithID(ctx, 1, "the cat sat"); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if err := engine.InsertWithID(ctx, 2, "the dog sat"); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if err := engine.Modify(ctx, 2, "the dog ran"); err != nil {
		t.Fatalf("modify: %v", err)
	}

	if got := df(t, st, "sat"); got != 1 {
		t.Errorf("df(sat) = %d, want 1", got)
	}
	if got := df(t, st, "ran"); got != 1 {
		t.Errorf("df(ran) = %d, want 1", got)
	}
	doc, _, err := st.GetDocument(ctx, st.DB(), 2)
	if err != nil {
		t.Fatalf("reading document 2: %v", err)
	}
	if doc.Length != 3 {
		t.Errorf("document 2 length = %d, want 3", doc.Length)
	}
	requireConsistent(t, st)
}

func TestModifyUnknownFails(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := t.Context()

	if err := engine.Modify(ctx, 9, "text"); !errors.Is(err, apperrors.ErrUnknownDocument) {
		t.Fatalf("expected ErrUnknownDocument, got %v", err)
	}

	// No create-on-modify for tombstoned documents either.
	if err := engine.InsertWithID(ctx, 9, "alpha"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := engine.Delete(ctx, 9); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := engine.Modify(ctx, 9, "beta"); !errors.Is(err, apperrors.ErrUnknownDocument) {
		t.Fatalf("expected ErrUnknownDocument on tombstoned modify, got %v", err)
	}
}

func TestInvariantsHoldAcrossMutationSequence(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := t.Context()

	texts := []string{
		"alpha beta gamma",
		"beta gamma delta",
		"gamma delta epsilon",
		"delta epsilon alpha",
	}
	for i, text := range texts {
		if err := engine.InsertWithID(ctx, int64(i+1), text); err != nil {
			t.Fatalf("insert %d: %v", i+1, err)
		}
		requireConsistent(t, st)
	}
	if err := engine.Delete(ctx, 2); err != nil {
		t.Fatalf("delete 2: %v", err)
	}
	requireConsistent(t, st)
	if err := engine.Modify(ctx, 3, "zeta eta theta"); err != nil {
		t.Fatalf("modify 3: %v", err)
	}
	requireConsistent(t, st)
	if err := engine.InsertWithID(ctx, 2, "beta reborn"); err != nil {
		t.Fatalf("resurrect 2: %v", err)
	}
	requireConsistent(t, st)
}

func TestEachMutationBumpsSequence(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := t.Context()

	seqAt := func() int64 {
		seq, err := st.MutationSeq(ctx, st.DB())
		if err != nil {
			t.Fatalf("reading mutation seq: %v", err)
		}
		return seq
	}

	start := seqAt()
	if _, err := engine.Insert(ctx, "alpha"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := seqAt(); got != start+1 {
		t.Errorf("seq after insert = %d, want %d", got, start+1)
	}
	if err := engine.Modify(ctx, 1, "beta"); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if err := engine.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := seqAt(); got != start+3 {
		t.Errorf("seq after three mutations = %d, want %d", got, start+3)
	}
}
