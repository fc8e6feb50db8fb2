// Package analytics collects usage events from the other services and
// aggregates them into platform-wide statistics.
package analytics

import "time"

type EventType string

const (
	EventStatsQuery       EventType = "stats_query"
	EventDocumentIngested EventType = "document_ingested"
	EventCorpusRecomputed EventType = "corpus_recomputed"
	EventZeroResult       EventType = "zero_result"
)

// Event is the single usage-event schema shared by all producers. Fields
// that do not apply to an event type are left zero and omitted from JSON.
type Event struct {
	Type      EventType `json:"type"`
	Corpus    string    `json:"corpus,omitempty"`
	Target    string    `json:"target,omitempty"`
	LatencyMS float64   `json:"latency_ms,omitempty"`
	CacheHit  bool      `json:"cache_hit,omitempty"`
	Results   int       `json:"results,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
