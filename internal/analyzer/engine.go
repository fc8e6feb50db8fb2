// Package analyzer maintains per-corpus term count tables and recomputes
// corpus statistics from them, persisting the results and notifying the
// rest of the platform.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corpusware/termstat/internal/analytics"
	"github.com/corpusware/termstat/internal/analyzer/store"
	"github.com/corpusware/termstat/internal/corpus"
	"github.com/corpusware/termstat/internal/termstats"
	"github.com/corpusware/termstat/pkg/kafka"
	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/resilience"
	"github.com/corpusware/termstat/pkg/tracing"
)

// Store persists recomputed statistics and reloads per-document term
// counts at startup. Satisfied by *store.Store.
type Store interface {
	ReplaceTermStats(ctx context.Context, corpus string, stats []termstats.TermStats, sum store.Summary) error
	LoadDocumentTerms(ctx context.Context) ([]store.DocumentTerms, error)
}

// Engine owns one corpus: its in-memory count table and the recompute
// pipeline that turns the table into persisted statistics.
type Engine struct {
	corpus     string
	table      *corpus.Table
	store      Store
	statsOut   *kafka.Producer
	invalidate *kafka.Producer
	events     *analytics.Collector
	metrics    *metrics.Metrics
	tracer     *tracing.Tracer
	logger     *slog.Logger

	// recomputeMu serializes recomputes so interval ticks, threshold
	// triggers, and forced RPC recomputes never interleave.
	recomputeMu   sync.Mutex
	pending       atomic.Int64
	lastRecompute atomic.Int64 // unix millis, 0 = never
}

func newEngine(name string, deps engineDeps) *Engine {
	return &Engine{
		corpus:     name,
		table:      corpus.NewTable(),
		store:      deps.store,
		statsOut:   deps.statsOut,
		invalidate: deps.invalidate,
		events:     deps.events,
		metrics:    deps.metrics,
		tracer:     deps.tracer,
		logger:     slog.Default().With("component", "analyzer", "corpus", name),
	}
}

// engineDeps bundles the shared dependencies the Registry hands each Engine.
type engineDeps struct {
	store      Store
	statsOut   *kafka.Producer
	invalidate *kafka.Producer
	events     *analytics.Collector
	metrics    *metrics.Metrics
	tracer     *tracing.Tracer
}

// AddDocument adds a freshly analyzed document's term counts to the table
// and marks the corpus dirty for the next recompute.
func (e *Engine) AddDocument(docID string, counts map[string]int64) error {
	if err := e.table.Add(docID, counts); err != nil {
		return err
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	e.pending.Add(1)
	e.metrics.TermsCountedTotal.Add(float64(total))
	e.logger.Debug("document added",
		"doc_id", docID,
		"terms", len(counts),
		"documents", e.table.DocumentCount(),
	)
	return nil
}

// Restore re-adds a document's stored term counts during startup
// rehydration. Unlike AddDocument it does not mark the corpus dirty.
func (e *Engine) Restore(docID string, counts map[string]int64) error {
	return e.table.Add(docID, counts)
}

// Pending reports how many documents were added since the last recompute.
func (e *Engine) Pending() int64 {
	return e.pending.Load()
}

// Contains reports whether the table holds the given document.
func (e *Engine) Contains(docID string) bool {
	return e.table.Contains(docID)
}

// CorpusState is the live in-memory view of one corpus, served over RPC.
type CorpusState struct {
	Corpus        string    `json:"corpus"`
	Documents     int64     `json:"documents"`
	Vocabulary    int64     `json:"vocabulary"`
	Occurrences   int64     `json:"occurrences"`
	Pending       int64     `json:"pending"`
	LastRecompute time.Time `json:"last_recompute"`
}

// State returns the engine's current in-memory counters.
func (e *Engine) State() CorpusState {
	s := CorpusState{
		Corpus:      e.corpus,
		Documents:   e.table.DocumentCount(),
		Vocabulary:  e.table.VocabularySize(),
		Occurrences: e.table.TermOccurrences(),
		Pending:     e.pending.Load(),
	}
	if ms := e.lastRecompute.Load(); ms > 0 {
		s.LastRecompute = time.UnixMilli(ms).UTC()
	}
	return s
}

// RecomputeResult summarizes one completed recompute.
type RecomputeResult struct {
	Corpus     string  `json:"corpus"`
	Documents  int64   `json:"documents"`
	Terms      int     `json:"terms"`
	DurationMS float64 `json:"duration_ms"`
}

// Recompute snapshots the table, computes fresh statistics, persists them,
// and publishes completion plus cache invalidation events. An empty corpus
// is a no-op.
func (e *Engine) Recompute(ctx context.Context) (RecomputeResult, error) {
	e.recomputeMu.Lock()
	defer e.recomputeMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "analyzer.recompute", "")
	defer span.End()
	span.SetAttr("corpus", e.corpus)

	start := time.Now()
	// Read the dirty counter before snapshotting: a document the consumer
	// adds between these two points is included in the snapshot and its
	// pending mark cleared below; one added after the snapshot keeps its
	// mark so the next dirty sweep picks it up.
	pendingAtSnapshot := e.pending.Load()
	snapshot := e.table.Snapshot()
	if len(snapshot) == 0 {
		e.logger.Debug("recompute skipped, empty corpus")
		return RecomputeResult{Corpus: e.corpus}, nil
	}

	stats, err := termstats.Compute(snapshot)
	if err != nil {
		e.metrics.RecomputesTotal.WithLabelValues("failed").Inc()
		return RecomputeResult{}, fmt.Errorf("computing stats for corpus %s: %w", e.corpus, err)
	}

	sum := store.Summary{
		Documents:   e.table.DocumentCount(),
		Vocabulary:  e.table.VocabularySize(),
		Occurrences: e.table.TermOccurrences(),
	}
	err = resilience.Retry(ctx, "persist-term-stats", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return e.store.ReplaceTermStats(ctx, e.corpus, stats, sum)
	})
	if err != nil {
		e.metrics.RecomputesTotal.WithLabelValues("failed").Inc()
		return RecomputeResult{}, fmt.Errorf("persisting stats for corpus %s: %w", e.corpus, err)
	}

	e.pending.Add(-pendingAtSnapshot)
	now := time.Now()
	e.lastRecompute.Store(now.UnixMilli())
	duration := now.Sub(start)

	result := RecomputeResult{
		Corpus:     e.corpus,
		Documents:  sum.Documents,
		Terms:      len(stats),
		DurationMS: float64(duration.Microseconds()) / 1000.0,
	}
	e.announce(ctx, result, sum, now)

	e.metrics.RecomputesTotal.WithLabelValues("ok").Inc()
	e.metrics.RecomputeDuration.Observe(duration.Seconds())
	e.metrics.CorpusDocuments.WithLabelValues(e.corpus).Set(float64(sum.Documents))
	span.SetAttr("documents", sum.Documents)
	span.SetAttr("rows", len(stats))

	e.logger.Info("corpus recomputed",
		"documents", sum.Documents,
		"vocabulary", sum.Vocabulary,
		"rows", len(stats),
		"duration", duration,
	)
	return result, nil
}

// announce publishes the completion event, the cache invalidation, and the
// usage event. Publish failures are logged, never escalated: the stats are
// already persisted and caches expire by TTL anyway.
func (e *Engine) announce(ctx context.Context, result RecomputeResult, sum store.Summary, at time.Time) {
	if e.statsOut != nil {
		err := e.statsOut.Publish(ctx, kafka.Event{Key: e.corpus, Value: StatsRecomputedEvent{
			Corpus:     e.corpus,
			Documents:  sum.Documents,
			Vocabulary: sum.Vocabulary,
			Terms:      result.Terms,
			DurationMS: result.DurationMS,
			ComputedAt: at.UTC(),
		}})
		if err != nil {
			e.logger.Error("failed to publish stats-complete event", "error", err)
		}
	}
	if e.invalidate != nil {
		err := e.invalidate.Publish(ctx, kafka.Event{Key: e.corpus, Value: CacheInvalidateEvent{
			Corpus: e.corpus,
			Reason: "recompute",
			At:     at.UTC(),
		}})
		if err != nil {
			e.logger.Error("failed to publish cache invalidation", "error", err)
		}
	}
	e.events.Record(analytics.Event{
		Type:      analytics.EventCorpusRecomputed,
		Corpus:    e.corpus,
		LatencyMS: result.DurationMS,
	})
}
