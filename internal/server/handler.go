// Package server exposes the index engine over HTTP: ranked search, the
// mutation operations, compaction, stats, and the Redis-backed query cache.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/tracing"
)

const snippetLength = 200

// SearchResponse is the payload of the search endpoint (and the unit the
// query cache stores).
type SearchResponse struct {
	Query     string         `json:"query"`
	Mode      string         `json:"mode"`
	TotalHits int            `json:"total_hits"`
	Results   []SearchResult `json:"results"`
}

// SearchResult is one ranked hit with a content snippet.
type SearchResult struct {
	DocID   int64   `json:"doc_id"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// Handler serves the engine's HTTP API.
type Handler struct {
	store     *store.Store
	queries   *query.Engine
	mutations *mutation.Engine
	compactor *compactor.Compactor
	cache     *QueryCache
	cfg       config.QueryConfig
	logger    *slog.Logger
}

// NewHandler wires the API over already-open components. cache may be nil,
// in which case every query evaluates directly.
func NewHandler(st *store.Store, q *query.Engine, m *mutation.Engine, c *compactor.Compactor, cache *QueryCache, cfg config.QueryConfig) *Handler {
	return &Handler{
		store:     st,
		queries:   q,
		mutations: m,
		compactor: c,
		cache:     cache,
		cfg:       cfg,
		logger:    logger.WithComponent("http"),
	}
}

// Search evaluates GET /api/v1/search. The q parameter is tokenized with
// the index's own tokenizer so query terms normalise exactly like document
// terms.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "search", logger.RequestIDFromContext(r.Context()))
	defer func() {
		span.End()
		span.Log()
	}()
	log := logger.FromContext(ctx)

	rawQuery := r.URL.Query().Get("q")
	if rawQuery == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidQuery, "query parameter 'q' is required"))
		return
	}
	mode, err := query.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	topK := h.cfg.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidQuery, "limit must be a positive integer"))
			return
		}
		if parsed > h.cfg.MaxResults {
			parsed = h.cfg.MaxResults
		}
		topK = parsed
	}

	terms := tokenizer.Tokenize(rawQuery)
	span.SetAttr("terms", len(terms))
	span.SetAttr("mode", mode.String())

	compute := func() (*SearchResponse, error) {
		_, execSpan := tracing.StartChildSpan(ctx, "execute")
		defer execSpan.End()
		results, err := h.queries.Search(ctx, terms, mode, topK)
		if err != nil {
			return nil, err
		}
		return h.buildResponse(r, rawQuery, mode, results)
	}

	var response *SearchResponse
	cacheHit := false
	if h.cache != nil {
		cacheCtx, cacheSpan := tracing.StartChildSpan(ctx, "cache")
		seq, seqErr := h.store.MutationSeq(cacheCtx, h.store.DB())
		if seqErr != nil {
			cacheSpan.End()
			h.writeError(w, seqErr)
			return
		}
		response, cacheHit, err = h.cache.GetOrCompute(cacheCtx, seq, terms, mode.String(), topK, compute)
		cacheSpan.SetAttr("hit", cacheHit)
		cacheSpan.End()
	} else {
		response, err = compute()
	}
	if err != nil {
		log.Error("search failed", "query", rawQuery, "error", err)
		h.writeError(w, err)
		return
	}

	log.Info("search completed",
		"query", rawQuery,
		"mode", mode.String(),
		"hits", response.TotalHits,
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) buildResponse(r *http.Request, rawQuery string, mode query.Mode, results []query.ScoredDoc) (*SearchResponse, error) {
	response := &SearchResponse{
		Query:     rawQuery,
		Mode:      mode.String(),
		TotalHits: len(results),
		Results:   make([]SearchResult, 0, len(results)),
	}
	docIDs := make([]int64, 0, len(results))
	for _, doc := range results {
		docIDs = append(docIDs, doc.DocID)
	}
	contents, err := h.store.ContentsForDocs(r.Context(), h.store.DB(), docIDs)
	if err != nil {
		return nil, err
	}
	for _, doc := range results {
		response.Results = append(response.Results, SearchResult{
			DocID:   doc.DocID,
			Score:   doc.Score,
			Snippet: snippet(contents[doc.DocID]),
		})
	}
	return response, nil
}

// insertRequest is the POST /api/v1/documents body. DocID zero lets the
// engine assign one.
type insertRequest struct {
	DocID int64  `json:"doc_id,omitempty"`
	Text  string `json:"text"`
}

// InsertDocument handles POST /api/v1/documents.
func (h *Handler) InsertDocument(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, "decoding request body: %v", err))
		return
	}
	if req.Text == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, "text is required"))
		return
	}

	docID := req.DocID
	var err error
	if docID > 0 {
		err = h.mutations.InsertWithID(r.Context(), docID, req.Text)
	} else {
		docID, err = h.mutations.Insert(r.Context(), req.Text)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]int64{"doc_id": docID})
}

// modifyRequest is the PUT /api/v1/documents/{id} body.
type modifyRequest struct {
	Text string `json:"text"`
}

// ModifyDocument handles PUT /api/v1/documents/{id}.
func (h *Handler) ModifyDocument(w http.ResponseWriter, r *http.Request) {
	docID, err := pathDocID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, "decoding request body: %v", err))
		return
	}
	if req.Text == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, "text is required"))
		return
	}
	if err := h.mutations.Modify(r.Context(), docID, req.Text); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"doc_id": docID})
}

// DeleteDocument handles DELETE /api/v1/documents/{id}.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID, err := pathDocID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.mutations.Delete(r.Context(), docID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"doc_id": docID})
}

// Compact handles POST /api/v1/compact.
func (h *Handler) Compact(w http.ResponseWriter, r *http.Request) {
	result, err := h.compactor.Compact(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"docs_purged":     result.DocsPurged,
		"postings_purged": result.PostingsPurged,
		"contents_purged": result.ContentsPurged,
		"duration_ms":     result.Duration.Milliseconds(),
	})
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": strconv.FormatFloat(hitRate, 'f', 1, 64) + "%",
	})
}

// CacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, "caching is disabled"))
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"keys_deleted": deleted})
}

func pathDocID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	docID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || docID <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, "invalid document id %q", raw)
	}
	return docID, nil
}

func snippet(content string) string {
	if len(content) <= snippetLength {
		return content
	}
	// Back off to a rune boundary so the cut never splits a multi-byte
	// character.
	end := snippetLength
	for end > 0 && !utf8.RuneStart(content[end]) {
		end--
	}
	return content[:end]
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": err.Error()})
}
