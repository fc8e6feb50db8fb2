// Package handler implements the gateway's HTTP surface: reverse proxies to
// the ingestion, stats, and analytics services, a few direct PostgreSQL
// reads, and API key administration.
package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/corpusware/termstat/internal/auth/apikey"
	"github.com/corpusware/termstat/pkg/logger"
	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/middleware"
	"github.com/corpusware/termstat/pkg/postgres"
	"github.com/corpusware/termstat/pkg/resilience"
)

const upstreamRetryAfter = 10 * time.Second

// Config holds the URLs of the services the gateway fronts.
type Config struct {
	IngestionURL string
	StatsURL     string
	AnalyticsURL string
}

// Handler implements the gateway endpoints.
type Handler struct {
	ingestion *proxyTarget
	stats     *proxyTarget
	analytics *proxyTarget
	db        *postgres.Client
	keys      *apikey.Validator
	health    *http.Client
	logger    *slog.Logger
}

// New creates a gateway Handler proxying to the configured upstreams. Each
// upstream gets its own circuit breaker; consecutive connect failures or
// 5xx responses trip it and callers get 503 until the upstream recovers.
func New(cfg Config, db *postgres.Client, keys *apikey.Validator, m *metrics.Metrics) *Handler {
	h := &Handler{
		db:     db,
		keys:   keys,
		health: &http.Client{Timeout: 2 * time.Second},
		logger: slog.Default().With("component", "gateway-handler"),
	}
	h.ingestion = h.newProxyTarget("ingestion", cfg.IngestionURL, m)
	h.stats = h.newProxyTarget("statsapi", cfg.StatsURL, m)
	h.analytics = h.newProxyTarget("analytics", cfg.AnalyticsURL, m)
	return h
}

// proxyErrKey carries a per-request error slot through the proxy so the
// shared ErrorHandler and ModifyResponse hooks can report into the circuit
// breaker wrapping this particular request.
type proxyErrKey struct{}

type proxyTarget struct {
	name    string
	url     string
	proxy   *httputil.ReverseProxy
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func (h *Handler) newProxyTarget(name, target string, m *metrics.Metrics) *proxyTarget {
	u, err := url.Parse(target)
	if err != nil {
		h.logger.Error("invalid upstream url", "upstream", name, "url", target, "error", err)
		u = &url.URL{Scheme: "http", Host: "localhost"}
	}

	t := &proxyTarget{
		name:   name,
		url:    target,
		proxy:  httputil.NewSingleHostReverseProxy(u),
		logger: h.logger.With("upstream", name),
	}
	t.breaker = resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     upstreamRetryAfter,
		OnStateChange: func(s resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
			}
		},
	})

	director := t.proxy.Director
	t.proxy.Director = func(req *http.Request) {
		director(req)
		// Credentials stay at the edge; downstream services trust the mesh.
		req.Header.Del("X-API-Key")
		req.Header.Del("Authorization")
		if id := logger.RequestIDFromContext(req.Context()); id != "" {
			req.Header.Set(middleware.HeaderRequestID, id)
		}
	}
	t.proxy.ModifyResponse = func(resp *http.Response) error {
		if resp.StatusCode >= http.StatusInternalServerError {
			if slot, ok := resp.Request.Context().Value(proxyErrKey{}).(*error); ok {
				*slot = fmt.Errorf("upstream %s returned %d", name, resp.StatusCode)
			}
		}
		return nil
	}
	t.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if slot, ok := r.Context().Value(proxyErrKey{}).(*error); ok {
			*slot = err
		}
		t.logger.Error("proxy request failed", "path", r.URL.Path, "error", err)
		writeErrorTo(w, http.StatusBadGateway, "upstream unreachable")
	}
	return t
}

// ServeHTTP forwards the request through the target's circuit breaker.
// Upstream 5xx responses pass through to the client unchanged but still
// count as failures.
func (t *proxyTarget) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var reqErr error
	ctx := context.WithValue(r.Context(), proxyErrKey{}, &reqErr)

	err := t.breaker.Execute(func() error {
		t.proxy.ServeHTTP(w, r.WithContext(ctx))
		return reqErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		w.Header().Set("Retry-After", strconv.Itoa(int(upstreamRetryAfter.Seconds())))
		writeErrorTo(w, http.StatusServiceUnavailable, t.name+" temporarily unavailable")
	}
}

// ProxyIngest forwards document submissions to the ingestion service.
func (h *Handler) ProxyIngest(w http.ResponseWriter, r *http.Request) {
	h.ingestion.ServeHTTP(w, r)
}

// ProxyStats forwards statistics reads to the stats service.
func (h *Handler) ProxyStats(w http.ResponseWriter, r *http.Request) {
	h.stats.ServeHTTP(w, r)
}

// ProxyAnalytics forwards usage-analytics reads to the analytics service.
func (h *Handler) ProxyAnalytics(w http.ResponseWriter, r *http.Request) {
	h.analytics.ServeHTTP(w, r)
}

// ListCorpora returns every corpus summary straight from PostgreSQL. The
// gateway answers this aggregate itself so a stats service outage does not
// take down the catalogue view.
func (h *Handler) ListCorpora(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.DB.QueryContext(r.Context(),
		`SELECT corpus, document_count, vocabulary_size, term_occurrences, computed_at
	FROM corpus_stats ORDER BY corpus`)
	if err != nil {
		h.logger.Error("failed to list corpora", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list corpora")
		return
	}
	defer rows.Close()

	type corpusSummary struct {
		Corpus          string    `json:"corpus"`
		DocumentCount   int64     `json:"document_count"`
		VocabularySize  int64     `json:"vocabulary_size"`
		TermOccurrences int64     `json:"term_occurrences"`
		ComputedAt      time.Time `json:"computed_at"`
	}

	corpora := make([]corpusSummary, 0)
	for rows.Next() {
		var c corpusSummary
		if err := rows.Scan(&c.Corpus, &c.DocumentCount, &c.VocabularySize, &c.TermOccurrences, &c.ComputedAt); err != nil {
			h.logger.Error("failed to scan corpus row", "error", err)
			continue
		}
		corpora = append(corpora, c)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"corpora": corpora,
		"count":   len(corpora),
	})
}

// GetDocument returns one document's ingestion metadata, including its
// processing status and any analysis failure reason.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	corpus := r.PathValue("corpus")
	docID := r.PathValue("document")

	var doc struct {
		ID         string     `json:"id"`
		Corpus     string     `json:"corpus"`
		Title      string     `json:"title"`
		SizeBytes  int64      `json:"size_bytes"`
		Status     string     `json:"status"`
		TermCount  *int64     `json:"term_count,omitempty"`
		Error      *string    `json:"error,omitempty"`
		ReceivedAt time.Time  `json:"received_at"`
		AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
	}

	err := h.db.DB.QueryRowContext(r.Context(),
		`SELECT id, corpus, title, size_bytes, status, term_count, error, received_at, analyzed_at
	FROM documents WHERE corpus = $1 AND id = $2`, corpus, docID).
		Scan(&doc.ID, &doc.Corpus, &doc.Title, &doc.SizeBytes, &doc.Status,
			&doc.TermCount, &doc.Error, &doc.ReceivedAt, &doc.AnalyzedAt)
	if err == sql.ErrNoRows {
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch document", "document", docID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch document")
		return
	}

	h.writeJSON(w, http.StatusOK, doc)
}

// CreateAPIKey creates a new API key and returns the raw key, shown once.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		RateLimit int    `json:"rate_limit"`
		ExpiresIn string `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.RateLimit <= 0 {
		req.RateLimit = 100
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid expires_in duration")
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	key, err := h.keys.CreateKey(r.Context(), req.Name, req.RateLimit, expiresAt)
	if err != nil {
		h.logger.Error("failed to create api key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{
		"api_key": key,
		"name":    req.Name,
		"message": "store this key securely, it cannot be retrieved again",
	})
}

// ListAPIKeys returns all active API keys without their hashes.
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list api keys", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// RevokeAPIKey deactivates a key by ID.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		h.writeError(w, http.StatusBadRequest, "key id must be numeric")
		return
	}
	if err := h.keys.RevokeByID(r.Context(), id); err != nil {
		if errors.Is(err, apikey.ErrInvalidKey) {
			h.writeError(w, http.StatusNotFound, "api key not found")
			return
		}
		h.logger.Error("failed to revoke api key", "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to revoke api key")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "id": id})
}

// Health probes every upstream's health endpoint in parallel and reports
// per-service status. Any unreachable upstream degrades the overall status
// to 503 so load balancers stop routing here.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	upstreams := map[string]string{
		"ingestion": h.ingestion.url,
		"statsapi":  h.stats.url,
		"analytics": h.analytics.url,
	}

	var mu sync.Mutex
	services := make(map[string]string, len(upstreams))
	var wg sync.WaitGroup
	for name, base := range upstreams {
		wg.Add(1)
		go func(name, base string) {
			defer wg.Done()
			status := h.probe(r.Context(), base)
			mu.Lock()
			services[name] = status
			mu.Unlock()
		}(name, base)
	}
	wg.Wait()

	overall := "ok"
	code := http.StatusOK
	for _, s := range services {
		if s != "ok" {
			overall = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	h.writeJSON(w, code, map[string]any{
		"status":   overall,
		"services": services,
	})
}

func (h *Handler) probe(ctx context.Context, base string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return "unreachable"
	}
	resp, err := h.health.Do(req)
	if err != nil {
		return "unreachable"
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("unhealthy (%d)", resp.StatusCode)
	}
	return "ok"
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func writeErrorTo(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
