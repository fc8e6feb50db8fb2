// Package ingestion defines the request/response types and Kafka event
// schemas used by the document ingestion pipeline.
package ingestion

import "time"

// Document lifecycle states. A document is RECEIVED when the ingestion
// service persists it, and moves to ANALYZED or FAILED once the analyzer
// has consumed its event.
const (
	StatusReceived = "RECEIVED"
	StatusAnalyzed = "ANALYZED"
	StatusFailed   = "FAILED"
)

// IngestRequest is the JSON body accepted by the ingestion HTTP endpoint.
// The target corpus comes from the URL path, not the body.
type IngestRequest struct {
	Title          string `json:"title"`
	Text           string `json:"text"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// IngestResponse is returned to the caller after a document is accepted.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Corpus     string `json:"corpus"`
	Status     string `json:"status"`
}

// DocumentEvent is the Kafka message payload produced after a document is
// persisted and ready for term analysis. Events are keyed by corpus so
// every document of a corpus lands on the same partition in order.
type DocumentEvent struct {
	DocumentID string    `json:"document_id"`
	Corpus     string    `json:"corpus"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	IngestedAt time.Time `json:"ingested_at"`
}
