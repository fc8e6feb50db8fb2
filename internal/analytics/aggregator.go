package analytics

import (
	"container/heap"
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corpusware/termstat/pkg/kafka"
)

// reservoirSize bounds the latency sample kept for percentile estimation.
const reservoirSize = 10000

// AggregatedStats is the JSON snapshot served by the analytics API and
// persisted to the analytics_snapshots table.
type AggregatedStats struct {
	TotalStatsQueries int64        `json:"total_stats_queries"`
	TotalDocsIngested int64        `json:"total_docs_ingested"`
	TotalRecomputes   int64        `json:"total_recomputes"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMS      float64      `json:"avg_latency_ms"`
	P50LatencyMS      float64      `json:"p50_latency_ms"`
	P95LatencyMS      float64      `json:"p95_latency_ms"`
	P99LatencyMS      float64      `json:"p99_latency_ms"`
	AvgRecomputeMS    float64      `json:"avg_recompute_ms"`
	TopCorpora        []EntryCount `json:"top_corpora"`
	TopTerms          []EntryCount `json:"top_terms"`
	ZeroResultTerms   []EntryCount `json:"zero_result_terms"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	UptimeSeconds     float64      `json:"uptime_seconds"`
}

// EntryCount pairs a corpus or term with how often it was seen.
type EntryCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Aggregator folds usage events into in-memory aggregates. Counter fields
// use atomics so the hot path stays cheap; the distribution state (latency
// reservoir, per-name counts) is guarded by the mutex.
type Aggregator struct {
	mu sync.RWMutex

	statsQueries atomic.Int64
	docsIngested atomic.Int64
	recomputes   atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	zeroResults  atomic.Int64

	latencies       []float64
	latencySeen     int64
	latencySumMS    float64
	recomputeSumMS  float64
	corpusCounts    map[string]int64
	termCounts      map[string]int64
	zeroResultTerms map[string]int64

	topN      int
	startTime time.Time

	logger *slog.Logger
}

// NewAggregator creates an empty Aggregator. topN controls how many entries
// the top-corpora and top-terms lists carry. The caller owns the Kafka
// consumer and feeds it through HandleEvent.
func NewAggregator(topN int) *Aggregator {
	if topN <= 0 {
		topN = 10
	}
	return &Aggregator{
		latencies:       make([]float64, 0, 1024),
		corpusCounts:    make(map[string]int64),
		termCounts:      make(map[string]int64),
		zeroResultTerms: make(map[string]int64),
		topN:            topN,
		startTime:       time.Now(),
		logger:          slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent adapts an Aggregator to the Kafka consumer callback.
// Undecodable events are logged and skipped, never retried.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			agg.logger.Error("failed to decode usage event", "error", err)
			return nil
		}
		agg.Record(ev)
		return nil
	}
}

// Record folds one event into the aggregates.
func (a *Aggregator) Record(ev Event) {
	switch ev.Type {
	case EventStatsQuery:
		a.statsQueries.Add(1)
		if ev.CacheHit {
			a.cacheHits.Add(1)
		} else {
			a.cacheMisses.Add(1)
		}
		a.mu.Lock()
		a.observeLatency(ev.LatencyMS)
		if ev.Corpus != "" {
			a.corpusCounts[ev.Corpus]++
		}
		if ev.Target != "" {
			a.termCounts[ev.Target]++
		}
		a.mu.Unlock()

	case EventZeroResult:
		a.zeroResults.Add(1)
		a.mu.Lock()
		if ev.Target != "" {
			a.zeroResultTerms[ev.Target]++
		}
		a.mu.Unlock()

	case EventDocumentIngested:
		a.docsIngested.Add(1)

	case EventCorpusRecomputed:
		a.recomputes.Add(1)
		a.mu.Lock()
		a.recomputeSumMS += ev.LatencyMS
		a.mu.Unlock()

	default:
		a.logger.Debug("unknown event type", "type", ev.Type)
	}
}

// observeLatency keeps a uniform sample of query latencies once the
// reservoir is full. Callers must hold a.mu.
func (a *Aggregator) observeLatency(ms float64) {
	a.latencySeen++
	a.latencySumMS += ms
	if len(a.latencies) < reservoirSize {
		a.latencies = append(a.latencies, ms)
		return
	}
	if j := rand.Int64N(a.latencySeen); j < reservoirSize {
		a.latencies[j] = ms
	}
}

// Seed restores running totals from a persisted snapshot so counters
// survive restarts. Distribution state (latencies, per-name counts)
// starts fresh.
func (a *Aggregator) Seed(prev *AggregatedStats) {
	if prev == nil {
		return
	}
	a.statsQueries.Store(prev.TotalStatsQueries)
	a.docsIngested.Store(prev.TotalDocsIngested)
	a.recomputes.Store(prev.TotalRecomputes)
	a.cacheHits.Store(prev.CacheHits)
	a.cacheMisses.Store(prev.CacheMisses)
	a.zeroResults.Store(prev.ZeroResultCount)
	// AvgRecomputeMS divides the duration sum by the all-time recompute
	// count, so the sum must be restored alongside the count.
	a.mu.Lock()
	a.recomputeSumMS = prev.AvgRecomputeMS * float64(prev.TotalRecomputes)
	a.mu.Unlock()
	a.logger.Info("aggregator seeded from snapshot",
		"stats_queries", prev.TotalStatsQueries,
		"docs_ingested", prev.TotalDocsIngested,
	)
}

// Stats assembles a consistent snapshot of all aggregates.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalStatsQueries: a.statsQueries.Load(),
		TotalDocsIngested: a.docsIngested.Load(),
		TotalRecomputes:   a.recomputes.Load(),
		CacheHits:         a.cacheHits.Load(),
		CacheMisses:       a.cacheMisses.Load(),
		ZeroResultCount:   a.zeroResults.Load(),
		UptimeSeconds:     time.Since(a.startTime).Seconds(),
	}
	if a.latencySeen > 0 {
		sorted := make([]float64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Float64s(sorted)
		stats.AvgLatencyMS = a.latencySumMS / float64(a.latencySeen)
		stats.P50LatencyMS = percentile(sorted, 50)
		stats.P95LatencyMS = percentile(sorted, 95)
		stats.P99LatencyMS = percentile(sorted, 99)
	}
	if n := stats.TotalRecomputes; n > 0 {
		stats.AvgRecomputeMS = a.recomputeSumMS / float64(n)
	}
	stats.TopCorpora = topN(a.corpusCounts, a.topN)
	stats.TopTerms = topN(a.termCounts, a.topN)
	stats.ZeroResultTerms = topN(a.zeroResultTerms, a.topN)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalStatsQueries) / elapsed
	}
	return stats
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// entryHeap is a min-heap ordered by count, then reverse name so that on
// count ties the alphabetically first name is the last evicted.
type entryHeap []EntryCount

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Count != h[j].Count {
		return h[i].Count < h[j].Count
	}
	return h[i].Name > h[j].Name
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(EntryCount)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topN returns the n highest-count entries, ordered by count descending
// and name ascending on ties.
func topN(counts map[string]int64, n int) []EntryCount {
	h := make(entryHeap, 0, n+1)
	for name, count := range counts {
		heap.Push(&h, EntryCount{Name: name, Count: count})
		if h.Len() > n {
			heap.Pop(&h)
		}
	}
	result := make([]EntryCount, h.Len())
	for i := h.Len() - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(EntryCount)
	}
	return result
}
