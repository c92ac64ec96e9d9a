package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/sqlite"
)

func newTestServer(t *testing.T) (*httptest.Server, *mutation.Engine) {
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
	comp := compactor.New(st, nil, config.CompactionConfig{})
	handler := NewHandler(st, query.NewEngine(st, nil), mut, comp, nil, config.QueryConfig{
		DefaultLimit: 10,
		MaxResults:   100,
	})
	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st, true))

	srv := httptest.NewServer(NewRouter(handler, checker, nil, 5*time.Second))
	t.Cleanup(srv.Close)
	return srv, mut
}

func doRequest(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp.StatusCode, payload
}

func TestSearchEndpoint(t *testing.T) {
	srv, mut := newTestServer(t)
	ctx := t.Context()

	if err := mut.InsertWithID(ctx, 1, "the cat sat on the mat"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mut.InsertWithID(ctx, 2, "the dog sat"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	status, payload := doRequest(t, http.MethodGet, srv.URL+"/api/v1/search?q=cat", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", status, payload)
	}
	if payload["total_hits"].(float64) != 1 {
		t.Errorf("total_hits = %v, want 1", payload["total_hits"])
	}
	results := payload["results"].([]any)
	hit := results[0].(map[string]any)
	if hit["doc_id"].(float64) != 1 {
		t.Errorf("doc_id = %v, want 1", hit["doc_id"])
	}
	if hit["snippet"] != "the cat sat on the mat" {
		t.Errorf("snippet = %q", hit["snippet"])
	}

	// The query string goes through the same tokenizer as documents.
	status, payload = doRequest(t, http.MethodGet, srv.URL+"/api/v1/search?q=CAT!", "")
	if status != http.StatusOK || payload["total_hits"].(float64) != 1 {
		t.Errorf("normalised query: status=%d payload=%v", status, payload)
	}

	// Conjunctive mode via the mode parameter.
	status, payload = doRequest(t, http.MethodGet, srv.URL+"/api/v1/search?q=cat+dog&mode=and", "")
	if status != http.StatusOK || payload["total_hits"].(float64) != 0 {
		t.Errorf("conjunctive query: status=%d payload=%v", status, payload)
	}
}

func TestSearchValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		path string
	}{
		{"missing q", "/api/v1/search"},
		{"bad mode", "/api/v1/search?q=cat&mode=xor"},
		{"bad limit", "/api/v1/search?q=cat&limit=zero"},
		{"zero limit", "/api/v1/search?q=cat&limit=0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := doRequest(t, http.MethodGet, srv.URL+tc.path, "")
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %v", status, payload)
			}
		})
	}
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	status, payload := doRequest(t, http.MethodPost, srv.URL+"/api/v1/documents", `{"text": "the cat sat"}`)
	if status != http.StatusCreated {
		t.Fatalf("insert status = %d: %v", status, payload)
	}
	docID := int64(payload["doc_id"].(float64))
	if docID <= 0 {
		t.Fatalf("assigned doc_id = %d", docID)
	}
	docPath := fmt.Sprintf("%s/api/v1/documents/%d", srv.URL, docID)

	status, _ = doRequest(t, http.MethodPut, docPath, `{"text": "the cat ran"}`)
	if status != http.StatusOK {
		t.Fatalf("modify status = %d", status)
	}

	status, payload = doRequest(t, http.MethodGet, srv.URL+"/api/v1/search?q=ran", "")
	if status != http.StatusOK || payload["total_hits"].(float64) != 1 {
		t.Fatalf("search after modify: status=%d payload=%v", status, payload)
	}

	status, _ = doRequest(t, http.MethodDelete, docPath, "")
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}

	status, payload = doRequest(t, http.MethodGet, srv.URL+"/api/v1/search?q=ran", "")
	if status != http.StatusOK || payload["total_hits"].(float64) != 0 {
		t.Errorf("search after delete: status=%d payload=%v", status, payload)
	}
}

func TestMutationErrorMapping(t *testing.T) {
	srv, mut := newTestServer(t)

	if err := mut.InsertWithID(t.Context(), 1, "existing"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"duplicate insert", http.MethodPost, "/api/v1/documents", `{"doc_id": 1, "text": "dup"}`, http.StatusConflict},
		{"insert without text", http.MethodPost, "/api/v1/documents", `{"doc_id": 5}`, http.StatusBadRequest},
		{"insert bad json", http.MethodPost, "/api/v1/documents", `{`, http.StatusBadRequest},
		{"delete unknown", http.MethodDelete, "/api/v1/documents/999", "", http.StatusNotFound},
		{"delete bad id", http.MethodDelete, "/api/v1/documents/abc", "", http.StatusBadRequest},
		{"modify unknown", http.MethodPut, "/api/v1/documents/999", `{"text": "x"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := doRequest(t, tc.method, srv.URL+tc.path, tc.body)
			if status != tc.want {
				t.Errorf("status = %d, want %d: %v", status, tc.want, payload)
			}
			if _, ok := payload["error"]; !ok {
				t.Errorf("error body missing: %v", payload)
			}
		})
	}
}

func TestCompactEndpoint(t *testing.T) {
	srv, mut := newTestServer(t)
	ctx := t.Context()

	if err := mut.InsertWithID(ctx, 1, "doomed document"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mut.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}

	status, payload := doRequest(t, http.MethodPost, srv.URL+"/api/v1/compact", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d: %v", status, payload)
	}
	if payload["docs_purged"].(float64) != 1 {
		t.Errorf("docs_purged = %v, want 1", payload["docs_purged"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, mut := newTestServer(t)

	if err := mut.InsertWithID(t.Context(), 1, "one two three"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	status, payload := doRequest(t, http.MethodGet, srv.URL+"/api/v1/stats", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d: %v", status, payload)
	}
	if payload["live_documents"].(float64) != 1 {
		t.Errorf("live_documents = %v, want 1", payload["live_documents"])
	}
	if payload["terms"].(float64) != 3 {
		t.Errorf("terms = %v, want 3", payload["terms"])
	}
}

func TestCacheEndpointsWithoutRedis(t *testing.T) {
	srv, _ := newTestServer(t)

	status, payload := doRequest(t, http.MethodGet, srv.URL+"/api/v1/cache/stats", "")
	if status != http.StatusOK || payload["status"] != "disabled" {
		t.Errorf("cache stats: status=%d payload=%v", status, payload)
	}

	status, _ = doRequest(t, http.MethodPost, srv.URL+"/api/v1/cache/invalidate", "")
	if status != http.StatusBadRequest {
		t.Errorf("cache invalidate status = %d, want 400", status)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatalf("live probe: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatalf("ready probe: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d", resp.StatusCode)
	}

	if id := resp.Header.Get("X-Request-ID"); id == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestSnippetKeepsRuneBoundary(t *testing.T) {
	if got := snippet("plain ascii"); got != "plain ascii" {
		t.Errorf("short content altered: %q", got)
	}

	aligned := strings.Repeat("b", snippetLength) + "tail"
	if got := snippet(aligned); got != strings.Repeat("b", snippetLength) {
		t.Errorf("aligned cut = %d bytes, want %d", len(got), snippetLength)
	}

	// A multi-byte rune straddles the cut point; the snippet must back off
	// instead of emitting a torn sequence.
	straddled := strings.Repeat("a", snippetLength-1) + "日本語"
	got := snippet(straddled)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet is not valid UTF-8: %q", got)
	}
	if len(got) != snippetLength-1 {
		t.Errorf("snippet = %d bytes, want %d", len(got), snippetLength-1)
	}
}
