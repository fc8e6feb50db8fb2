// Package publisher persists documents to PostgreSQL and publishes document
// events to Kafka for term analysis. Writes are idempotent: repeating a
// request with the same idempotency key replays the stored response instead
// of inserting a second document.
package publisher

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/corpusware/termstat/internal/ingestion"
	apperrors "github.com/corpusware/termstat/pkg/errors"
	"github.com/corpusware/termstat/pkg/kafka"
	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/postgres"
)

// Publisher coordinates document persistence and Kafka event production.
type Publisher struct {
	db       *postgres.Client
	producer *kafka.Producer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Publisher with the given database and Kafka producer.
func New(db *postgres.Client, producer *kafka.Producer, m *metrics.Metrics) *Publisher {
	return &Publisher{
		db:       db,
		producer: producer,
		metrics:  m,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Ingest persists the document in PostgreSQL and publishes a DocumentEvent
// to Kafka keyed by corpus. The returned bool reports whether the response
// was replayed from an earlier request with the same idempotency key.
func (p *Publisher) Ingest(ctx context.Context, corpus string, req *ingestion.IngestRequest) (*ingestion.IngestResponse, bool, error) {
	if req.IdempotencyKey != "" {
		existing, err := p.findByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("checking idempotency key: %w", err)
		}
		if existing != nil {
			p.logger.Info("duplicate ingestion detected",
				"idempotency_key", req.IdempotencyKey,
				"existing_id", existing.DocumentID,
			)
			return existing, true, nil
		}
	}

	docID := ulid.Make().String()
	contentHash := fmt.Sprintf("%x", sha256.Sum256([]byte(req.Text)))
	err := p.db.InTx(ctx, func(tx *sql.Tx) error {
		var inserted string
		err := tx.QueryRowContext(ctx,
			`INSERT INTO documents (id, corpus, title, content_hash, size_bytes, idempotency_key, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`,
			docID, corpus, req.Title, contentHash, len(req.Text),
			nullableString(req.IdempotencyKey), ingestion.StatusReceived).Scan(&inserted)
		if err == sql.ErrNoRows {
			return apperrors.New(apperrors.ErrIdempotencyConflict, 409, "idempotency key already in use")
		}
		return err
	})
	if err != nil {
		// A concurrent request with the same key may have won the insert
		// race. Replay its stored response rather than failing the caller.
		if req.IdempotencyKey != "" && apperrors.HTTPStatusCode(err) == 409 {
			existing, ferr := p.findByIdempotencyKey(ctx, req.IdempotencyKey)
			if ferr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("inserting document: %w", err)
	}

	p.metrics.DocumentsReceived.Inc()

	event := kafka.Event{
		Key: corpus,
		Value: ingestion.DocumentEvent{
			DocumentID: docID,
			Corpus:     corpus,
			Title:      req.Title,
			Text:       req.Text,
			IngestedAt: time.Now().UTC(),
		},
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish to kafka, document stuck in RECEIVED",
			"doc_id", docID,
			"corpus", corpus,
			"error", err,
		)
	}

	return &ingestion.IngestResponse{
		DocumentID: docID,
		Corpus:     corpus,
		Status:     ingestion.StatusReceived,
	}, false, nil
}

// findByIdempotencyKey returns the stored response for a previously ingested
// document with the given key, or nil if the key is unused.
func (p *Publisher) findByIdempotencyKey(ctx context.Context, key string) (*ingestion.IngestResponse, error) {
	var resp ingestion.IngestResponse
	err := p.db.DB.QueryRowContext(ctx,
		`SELECT id, corpus, status FROM documents WHERE idempotency_key=$1`, key).
		Scan(&resp.DocumentID, &resp.Corpus, &resp.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying by idempotency key: %w", err)
	}
	return &resp, nil
}

// nullableString converts a Go string to a sql.NullString, treating the
// empty string as NULL so absent idempotency keys do not collide on the
// unique index.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
