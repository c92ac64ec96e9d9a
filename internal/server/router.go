package server

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/middleware"
)

// NewRouter assembles the HTTP surface: the API routes, the health probes,
// and the middleware chain (request id outermost, then metrics, then the
// per-request timeout).
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/documents", h.InsertDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.ModifyDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)
	mux.HandleFunc("POST /api/v1/compact", h.Compact)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(requestTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID(chain)
	return chain
}
