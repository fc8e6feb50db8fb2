package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/corpusware/termstat/internal/analytics"
	"github.com/corpusware/termstat/internal/analyzer"
	"github.com/corpusware/termstat/internal/statsapi/cache"
	"github.com/corpusware/termstat/internal/statsapi/store"
	"github.com/corpusware/termstat/pkg/config"
	apperrors "github.com/corpusware/termstat/pkg/errors"
	"github.com/corpusware/termstat/pkg/logger"
	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/resilience"
	"github.com/corpusware/termstat/pkg/rpc"
	"github.com/corpusware/termstat/pkg/tracing"
)

// StatsReader reads computed statistics. Satisfied by *store.Store.
type StatsReader interface {
	DocumentTerms(ctx context.Context, corpus, docID string, limit int) (*store.DocumentTermsResult, error)
	TermAcrossCorpus(ctx context.Context, corpus, term string, limit int) (*store.TermStatsResult, error)
	TopPerDocument(ctx context.Context, corpus string, perDoc int) (*store.RankingsResult, error)
	Summary(ctx context.Context, corpus string) (*store.CorpusSummary, error)
	ListCorpora(ctx context.Context) ([]store.CorpusSummary, error)
}

// CorporaResponse wraps the corpus listing.
type CorporaResponse struct {
	Corpora []store.CorpusSummary `json:"corpora"`
}

// SummaryResponse is a persisted corpus summary, optionally joined with the
// analyzer's in-memory state when the caller asks for live=1.
type SummaryResponse struct {
	store.CorpusSummary
	Live      *analyzer.CorpusState `json:"live,omitempty"`
	LiveError string                `json:"live_error,omitempty"`
}

type Handler struct {
	store    StatsReader
	cache    *cache.Cache
	analyzer *rpc.Client
	breaker  *resilience.CircuitBreaker
	events   *analytics.Collector
	metrics  *metrics.Metrics
	tracer   *tracing.Tracer
	cfg      config.StatsConfig
	logger   *slog.Logger
}

func New(st StatsReader, responseCache *cache.Cache, analyzerRPC *rpc.Client, events *analytics.Collector, m *metrics.Metrics, tracer *tracing.Tracer, cfg config.StatsConfig) *Handler {
	h := &Handler{
		store:    st,
		cache:    responseCache,
		analyzer: analyzerRPC,
		events:   events,
		metrics:  m,
		tracer:   tracer,
		cfg:      cfg,
		logger:   slog.Default().With("component", "stats-handler"),
	}
	h.breaker = resilience.NewCircuitBreaker("analyzer-rpc", resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(s resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues("analyzer-rpc").Set(float64(s))
			}
		},
	})
	return h
}

// ListCorpora serves GET /api/v1/corpora.
func (h *Handler) ListCorpora(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	result, hit, err := getCached(ctx, h.cache, cache.Key(cache.CorpusAll, "corpora"), func() (*CorporaResponse, error) {
		summaries, err := h.store.ListCorpora(ctx)
		if err != nil {
			return nil, err
		}
		return &CorporaResponse{Corpora: summaries}, nil
	})
	if err != nil {
		h.serveError(w, log, "listing corpora", err)
		return
	}

	h.observe(ctx, cache.CorpusAll, "", len(result.Corpora), hit, start)
	h.writeJSON(w, http.StatusOK, result)
}

// Summary serves GET /api/v1/corpora/{corpus}/stats. With live=1 it also
// asks the analyzer for its in-memory state; a failure there degrades to
// live_error rather than failing the whole request.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	corpus := r.PathValue("corpus")

	summary, hit, err := getCached(ctx, h.cache, cache.Key(corpus, "summary"), func() (*store.CorpusSummary, error) {
		return h.store.Summary(ctx, corpus)
	})
	if err != nil {
		h.serveError(w, log, "reading corpus summary", err)
		return
	}

	resp := &SummaryResponse{CorpusSummary: *summary}
	if live := r.URL.Query().Get("live"); live == "1" || live == "true" {
		h.attachLiveState(ctx, corpus, resp, log)
	}

	h.observe(ctx, corpus, "", 1, hit, start)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) attachLiveState(ctx context.Context, corpus string, resp *SummaryResponse, log *slog.Logger) {
	if h.analyzer == nil {
		resp.LiveError = "live state unavailable"
		return
	}
	var result analyzer.CorpusStateResult
	err := h.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, h.cfg.LiveTimeout, "analyzer-live-state", func(callCtx context.Context) error {
			var callErr error
			result, callErr = rpc.Call[analyzer.CorpusStateResult](callCtx, h.analyzer,
				analyzer.MethodCorpusState, analyzer.CorpusParams{Corpus: corpus})
			return callErr
		})
	})
	switch {
	case err != nil:
		log.Warn("live state fetch failed", "corpus", corpus, "error", err)
		resp.LiveError = "analyzer unavailable"
	case !result.Found:
		resp.LiveError = "corpus not loaded in analyzer"
	default:
		resp.Live = &result.State
	}
}

// DocumentTerms serves GET /api/v1/corpora/{corpus}/documents/{document}/terms.
func (h *Handler) DocumentTerms(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	corpus := r.PathValue("corpus")
	docID := r.PathValue("document")

	limit, ok := h.intParam(w, r, "limit", h.cfg.DefaultLimit, h.cfg.MaxLimit)
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(ctx, "stats.document_terms", logger.RequestIDFromContext(ctx))
	span.SetAttr("corpus", corpus)
	span.SetAttr("document", docID)
	defer func() { span.End(); span.Log() }()

	key := cache.Key(corpus, "doc-terms", docID, strconv.Itoa(limit))
	result, hit, err := getCached(ctx, h.cache, key, func() (*store.DocumentTermsResult, error) {
		return h.store.DocumentTerms(ctx, corpus, docID, limit)
	})
	if err != nil {
		h.serveError(w, log, "reading document terms", err)
		return
	}
	span.SetAttr("cache_hit", hit)

	h.observe(ctx, corpus, docID, len(result.Terms), hit, start)
	h.writeJSON(w, http.StatusOK, result)
}

// TermStats serves GET /api/v1/corpora/{corpus}/terms/{term}. A term the
// corpus has never seen is a valid query with an empty result, not an error.
func (h *Handler) TermStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	corpus := r.PathValue("corpus")
	term := strings.ToLower(strings.TrimSpace(r.PathValue("term")))
	if term == "" {
		h.writeError(w, http.StatusBadRequest, "term must not be empty")
		return
	}

	limit, ok := h.intParam(w, r, "limit", h.cfg.DefaultLimit, h.cfg.MaxLimit)
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(ctx, "stats.term", logger.RequestIDFromContext(ctx))
	span.SetAttr("corpus", corpus)
	span.SetAttr("term", term)
	defer func() { span.End(); span.Log() }()

	key := cache.Key(corpus, "term", term, strconv.Itoa(limit))
	result, hit, err := getCached(ctx, h.cache, key, func() (*store.TermStatsResult, error) {
		return h.store.TermAcrossCorpus(ctx, corpus, term, limit)
	})
	if err != nil {
		h.serveError(w, log, "reading term stats", err)
		return
	}
	span.SetAttr("cache_hit", hit)
	span.SetAttr("doc_freq", result.DocFreq)

	if result.DocFreq == 0 {
		h.events.Record(analytics.Event{
			Type:      analytics.EventZeroResult,
			Corpus:    corpus,
			Target:    term,
			RequestID: logger.RequestIDFromContext(ctx),
			Timestamp: time.Now().UTC(),
		})
	}
	h.observe(ctx, corpus, term, len(result.Documents), hit, start)
	h.writeJSON(w, http.StatusOK, result)
}

// Rankings serves GET /api/v1/corpora/{corpus}/rankings.
func (h *Handler) Rankings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	corpus := r.PathValue("corpus")

	perDoc, ok := h.intParam(w, r, "per_doc", h.cfg.DefaultPerDoc, h.cfg.MaxPerDoc)
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(ctx, "stats.rankings", logger.RequestIDFromContext(ctx))
	span.SetAttr("corpus", corpus)
	defer func() { span.End(); span.Log() }()

	key := cache.Key(corpus, "rankings", strconv.Itoa(perDoc))
	result, hit, err := getCached(ctx, h.cache, key, func() (*store.RankingsResult, error) {
		return h.store.TopPerDocument(ctx, corpus, perDoc)
	})
	if err != nil {
		h.serveError(w, log, "reading rankings", err)
		return
	}
	span.SetAttr("cache_hit", hit)

	h.observe(ctx, corpus, "", len(result.Rankings), hit, start)
	h.writeJSON(w, http.StatusOK, result)
}

// CacheStats serves GET /api/v1/cache/stats.
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
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate serves POST /api/v1/cache/invalidate. An optional corpus
// query parameter narrows the flush to one corpus.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	var (
		deleted int64
		err     error
	)
	if corpus := r.URL.Query().Get("corpus"); corpus != "" {
		deleted, err = h.cache.InvalidateCorpus(r.Context(), corpus)
	} else {
		deleted, err = h.cache.InvalidateAll(r.Context())
	}
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "invalidated",
		"keys_deleted": deleted,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getCached serves a typed result through the response cache, falling back
// to a direct store read when caching is disabled.
func getCached[T any](ctx context.Context, c *cache.Cache, key string, compute func() (*T, error)) (*T, bool, error) {
	if c == nil {
		v, err := compute()
		return v, false, err
	}
	data, hit, err := c.GetOrCompute(ctx, key, func() (json.RawMessage, error) {
		v, err := compute()
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return nil, false, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("decoding cached payload: %w", err)
	}
	return &v, hit, nil
}

// intParam parses a positive integer query parameter, applying the default
// when absent and clamping to max. Returns false after writing a 400.
func (h *Handler) intParam(w http.ResponseWriter, r *http.Request, name string, def, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a positive integer", name))
		return 0, false
	}
	if parsed > max {
		parsed = max
	}
	return parsed, true
}

func (h *Handler) observe(ctx context.Context, corpus, target string, results int, cacheHit bool, start time.Time) {
	latency := time.Since(start)
	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	if h.metrics != nil {
		h.metrics.QueryLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
		h.metrics.QueryResultsCount.Observe(float64(results))
		resultType := "hit"
		if results == 0 {
			resultType = "zero_result"
		}
		h.metrics.StatsQueriesTotal.WithLabelValues(resultType).Inc()
	}
	h.events.Record(analytics.Event{
		Type:      analytics.EventStatsQuery,
		Corpus:    corpus,
		Target:    target,
		LatencyMS: float64(latency.Microseconds()) / 1000.0,
		CacheHit:  cacheHit,
		Results:   results,
		RequestID: logger.RequestIDFromContext(ctx),
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) serveError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	if h.metrics != nil {
		h.metrics.StatsQueriesTotal.WithLabelValues("error").Inc()
	}
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Error(op+" failed", "error", err)
		h.writeError(w, status, "statistics query failed")
		return
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, status, appErr.Message)
		return
	}
	h.writeError(w, status, err.Error())
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
