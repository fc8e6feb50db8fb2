package analyzer

import "time"

// StatsRecomputedEvent announces on termstat.stats-complete that a corpus
// has fresh statistics in PostgreSQL.
type StatsRecomputedEvent struct {
	Corpus     string    `json:"corpus"`
	Documents  int64     `json:"documents"`
	Vocabulary int64     `json:"vocabulary"`
	Terms      int       `json:"terms"`
	DurationMS float64   `json:"duration_ms"`
	ComputedAt time.Time `json:"computed_at"`
}

// CacheInvalidateEvent tells the stats service to drop cached responses
// for a corpus.
type CacheInvalidateEvent struct {
	Corpus string    `json:"corpus"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
