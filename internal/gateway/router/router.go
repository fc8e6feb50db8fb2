// Package router wires the gateway routes and applies the middleware chain
// (RequestID → CORS → Auth → RateLimit).
package router

import (
	"net/http"

	"github.com/corpusware/termstat/internal/auth/ratelimit"
	gwhandler "github.com/corpusware/termstat/internal/gateway/handler"
	gwmw "github.com/corpusware/termstat/internal/gateway/middleware"
	"github.com/corpusware/termstat/pkg/config"
	pkgmw "github.com/corpusware/termstat/pkg/middleware"
)

// New builds the gateway HTTP handler.
//
// Route table:
//
//	POST   /api/v1/corpora/{corpus}/documents                  → ingestion (proxy)
//	GET    /api/v1/corpora                                     → corpus catalogue (direct DB)
//	GET    /api/v1/corpora/{corpus}/documents/{document}       → document metadata (direct DB)
//	GET    /api/v1/corpora/{corpus}/stats                      → stats service (proxy)
//	GET    /api/v1/corpora/{corpus}/documents/{document}/terms → stats service (proxy)
//	GET    /api/v1/corpora/{corpus}/terms/{term}               → stats service (proxy)
//	GET    /api/v1/corpora/{corpus}/rankings                   → stats service (proxy)
//	GET    /api/v1/cache/stats                                 → stats service (proxy)
//	POST   /api/v1/cache/invalidate                            → stats service (proxy)
//	GET    /api/v1/analytics                                   → analytics service (proxy)
//	GET    /api/v1/analytics/history                           → analytics service (proxy)
//	POST   /api/v1/admin/keys                                  → create API key (admin)
//	GET    /api/v1/admin/keys                                  → list API keys (admin)
//	DELETE /api/v1/admin/keys/{id}                             → revoke API key (admin)
//	GET    /health                                             → upstream fan-out health
//
// Middleware chain, outermost first: RequestID → CORS → Auth → RateLimit.
// Admin routes additionally require a key whose hash is in gateway.adminKeys.
func New(h *gwhandler.Handler, validator gwmw.KeyValidator, limiter *ratelimit.Limiter, cfg config.GatewayConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /api/v1/corpora/{corpus}/documents", h.ProxyIngest)
	mux.HandleFunc("GET /api/v1/corpora", h.ListCorpora)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/documents/{document}", h.GetDocument)

	mux.HandleFunc("GET /api/v1/corpora/{corpus}/stats", h.ProxyStats)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/documents/{document}/terms", h.ProxyStats)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/terms/{term}", h.ProxyStats)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/rankings", h.ProxyStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.ProxyStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.ProxyStats)

	mux.HandleFunc("GET /api/v1/analytics", h.ProxyAnalytics)
	mux.HandleFunc("GET /api/v1/analytics/history", h.ProxyAnalytics)

	admin := gwmw.Admin(cfg.AdminKeys)
	mux.Handle("POST /api/v1/admin/keys", admin(http.HandlerFunc(h.CreateAPIKey)))
	mux.Handle("GET /api/v1/admin/keys", admin(http.HandlerFunc(h.ListAPIKeys)))
	mux.Handle("DELETE /api/v1/admin/keys/{id}", admin(http.HandlerFunc(h.RevokeAPIKey)))

	var chain http.Handler = mux
	chain = gwmw.RateLimit(limiter)(chain)
	chain = gwmw.Auth(validator)(chain)
	chain = gwmw.CORS(gwmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
