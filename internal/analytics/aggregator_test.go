package analytics

import (
	"testing"
	"time"
)

func queryEvent(corpus, term string, latencyMS float64, hit bool, results int) Event {
	return Event{
		Type:      EventStatsQuery,
		Corpus:    corpus,
		Target:    term,
		LatencyMS: latencyMS,
		CacheHit:  hit,
		Results:   results,
		Timestamp: time.Now().UTC(),
	}
}

func TestAggregatorCounters(t *testing.T) {
	agg := NewAggregator(10)

	agg.Record(queryEvent("melville", "whale", 4, false, 7))
	agg.Record(queryEvent("melville", "whale", 2, true, 7))
	agg.Record(queryEvent("austen", "ball", 6, false, 3))
	agg.Record(Event{Type: EventZeroResult, Corpus: "austen", Target: "kraken"})
	agg.Record(Event{Type: EventDocumentIngested, Corpus: "melville"})
	agg.Record(Event{Type: EventDocumentIngested, Corpus: "melville"})
	agg.Record(Event{Type: EventCorpusRecomputed, Corpus: "melville", LatencyMS: 120})
	agg.Record(Event{Type: EventCorpusRecomputed, Corpus: "melville", LatencyMS: 80})

	stats := agg.Stats()
	if stats.TotalStatsQueries != 3 {
		t.Errorf("TotalStatsQueries = %d, want 3", stats.TotalStatsQueries)
	}
	if stats.TotalDocsIngested != 2 {
		t.Errorf("TotalDocsIngested = %d, want 2", stats.TotalDocsIngested)
	}
	if stats.TotalRecomputes != 2 {
		t.Errorf("TotalRecomputes = %d, want 2", stats.TotalRecomputes)
	}
	if stats.CacheHits != 1 || stats.CacheMisses != 2 {
		t.Errorf("cache hits/misses = %d/%d, want 1/2", stats.CacheHits, stats.CacheMisses)
	}
	if stats.ZeroResultCount != 1 {
		t.Errorf("ZeroResultCount = %d, want 1", stats.ZeroResultCount)
	}
	if stats.AvgLatencyMS != 4 {
		t.Errorf("AvgLatencyMS = %v, want 4", stats.AvgLatencyMS)
	}
	if stats.AvgRecomputeMS != 100 {
		t.Errorf("AvgRecomputeMS = %v, want 100", stats.AvgRecomputeMS)
	}
	if stats.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %v, want >= 0", stats.UptimeSeconds)
	}
}

func TestAggregatorTopLists(t *testing.T) {
	agg := NewAggregator(2)

	for i := 0; i < 5; i++ {
		agg.Record(queryEvent("melville", "whale", 1, true, 1))
	}
	for i := 0; i < 3; i++ {
		agg.Record(queryEvent("austen", "ball", 1, true, 1))
	}
	agg.Record(queryEvent("dickens", "fog", 1, true, 1))

	stats := agg.Stats()
	if len(stats.TopCorpora) != 2 {
		t.Fatalf("TopCorpora = %v, want 2 entries", stats.TopCorpora)
	}
	if stats.TopCorpora[0].Name != "melville" || stats.TopCorpora[0].Count != 5 {
		t.Errorf("TopCorpora[0] = %+v, want {melville 5}", stats.TopCorpora[0])
	}
	if stats.TopCorpora[1].Name != "austen" || stats.TopCorpora[1].Count != 3 {
		t.Errorf("TopCorpora[1] = %+v, want {austen 3}", stats.TopCorpora[1])
	}
	if stats.TopTerms[0].Name != "whale" {
		t.Errorf("TopTerms[0] = %+v, want whale first", stats.TopTerms[0])
	}
}

func TestAggregatorTopListTieBreak(t *testing.T) {
	agg := NewAggregator(2)
	agg.Record(queryEvent("c-corpus", "t", 1, true, 1))
	agg.Record(queryEvent("a-corpus", "t", 1, true, 1))
	agg.Record(queryEvent("b-corpus", "t", 1, true, 1))

	stats := agg.Stats()
	if len(stats.TopCorpora) != 2 {
		t.Fatalf("TopCorpora = %v, want 2 entries", stats.TopCorpora)
	}
	if stats.TopCorpora[0].Name != "a-corpus" || stats.TopCorpora[1].Name != "b-corpus" {
		t.Errorf("TopCorpora = %v, want alphabetical on equal counts", stats.TopCorpora)
	}
}

func TestAggregatorZeroResultTerms(t *testing.T) {
	agg := NewAggregator(10)
	agg.Record(Event{Type: EventZeroResult, Corpus: "melville", Target: "kraken"})
	agg.Record(Event{Type: EventZeroResult, Corpus: "melville", Target: "kraken"})
	agg.Record(Event{Type: EventZeroResult, Corpus: "melville", Target: "unicorn"})

	stats := agg.Stats()
	if stats.ZeroResultCount != 3 {
		t.Errorf("ZeroResultCount = %d, want 3", stats.ZeroResultCount)
	}
	if len(stats.ZeroResultTerms) != 2 || stats.ZeroResultTerms[0].Name != "kraken" {
		t.Errorf("ZeroResultTerms = %v, want kraken first", stats.ZeroResultTerms)
	}
}

func TestAggregatorPercentiles(t *testing.T) {
	agg := NewAggregator(10)
	for i := 1; i <= 100; i++ {
		agg.Record(queryEvent("melville", "whale", float64(i), true, 1))
	}

	stats := agg.Stats()
	if stats.P50LatencyMS != 51 {
		t.Errorf("P50LatencyMS = %v, want 51", stats.P50LatencyMS)
	}
	if stats.P95LatencyMS != 96 {
		t.Errorf("P95LatencyMS = %v, want 96", stats.P95LatencyMS)
	}
	if stats.P99LatencyMS != 100 {
		t.Errorf("P99LatencyMS = %v, want 100", stats.P99LatencyMS)
	}
	if stats.AvgLatencyMS != 50.5 {
		t.Errorf("AvgLatencyMS = %v, want 50.5", stats.AvgLatencyMS)
	}
}

func TestAggregatorSeed(t *testing.T) {
	agg := NewAggregator(10)
	agg.Seed(&AggregatedStats{
		TotalStatsQueries: 100,
		TotalDocsIngested: 40,
		TotalRecomputes:   4,
		AvgRecomputeMS:    250,
		CacheHits:         60,
		CacheMisses:       40,
		ZeroResultCount:   5,
	})
	agg.Record(queryEvent("melville", "whale", 3, true, 1))

	stats := agg.Stats()
	if stats.TotalStatsQueries != 101 {
		t.Errorf("TotalStatsQueries = %d, want 101", stats.TotalStatsQueries)
	}
	if stats.CacheHits != 61 {
		t.Errorf("CacheHits = %d, want 61", stats.CacheHits)
	}
	if stats.TotalDocsIngested != 40 {
		t.Errorf("TotalDocsIngested = %d, want 40", stats.TotalDocsIngested)
	}
	// The recompute average survives the restart: sum and count are
	// restored together.
	if stats.AvgRecomputeMS != 250 {
		t.Errorf("AvgRecomputeMS = %v, want 250 right after seeding", stats.AvgRecomputeMS)
	}
	agg.Record(Event{Type: EventCorpusRecomputed, Corpus: "melville", LatencyMS: 500})
	if got := agg.Stats().AvgRecomputeMS; got != 300 {
		t.Errorf("AvgRecomputeMS = %v, want (4*250+500)/5 = 300", got)
	}
}

func TestAggregatorSeedNil(t *testing.T) {
	agg := NewAggregator(10)
	agg.Seed(nil)
	if got := agg.Stats().TotalStatsQueries; got != 0 {
		t.Errorf("TotalStatsQueries = %d, want 0", got)
	}
}
