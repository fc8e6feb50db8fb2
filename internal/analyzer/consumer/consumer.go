// Package consumer reads document events from Kafka and feeds them through
// tokenization into the per-corpus analyzer engines.
package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/corpusware/termstat/internal/analyzer"
	"github.com/corpusware/termstat/internal/analyzer/store"
	"github.com/corpusware/termstat/internal/corpus/tokenizer"
	"github.com/corpusware/termstat/internal/ingestion"
	apperrors "github.com/corpusware/termstat/pkg/errors"
	"github.com/corpusware/termstat/pkg/kafka"
	"github.com/corpusware/termstat/pkg/metrics"
)

// AnalyzeConsumer wraps a Kafka consumer to drive the analysis pipeline.
type AnalyzeConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an AnalyzeConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *AnalyzeConsumer {
	return &AnalyzeConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "analyze-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ac *AnalyzeConsumer) Start(ctx context.Context) error {
	ac.logger.Info("analyze consumer starting")
	return ac.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that tokenizes each document
// event, adds it to its corpus engine, and persists the term counts. When
// the corpus accumulates threshold new documents an early recompute runs
// inline, mirroring the interval loop.
//
// Returned errors are only for transient failures (persistence): the
// message stays uncommitted and is redelivered. Deterministic failures mark
// the document FAILED and are committed so they are never retried.
func HandleMessage(registry *analyzer.Registry, st *store.Store, threshold int64, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "analyze-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.DocumentEvent](value)
		if err != nil {
			logger.Error("failed to decode document event",
				"error", err,
				"key", string(key),
			)
			return nil
		}

		logger.Debug("processing document event",
			"doc_id", event.DocumentID,
			"corpus", event.Corpus,
		)

		counts := tokenizer.TermCounts(event.Title + " " + event.Text)
		if len(counts) == 0 {
			markFailed(ctx, st, event.DocumentID, "no indexable terms", logger)
			m.DocumentsAnalyzed.WithLabelValues("failed").Inc()
			logger.Warn("document has no indexable terms",
				"doc_id", event.DocumentID,
				"corpus", event.Corpus,
			)
			return nil
		}

		engine := registry.Get(event.Corpus)
		if err := engine.AddDocument(event.DocumentID, counts); err != nil {
			if errors.Is(err, apperrors.ErrDuplicateDocument) {
				// Redelivery after a partial failure: the table already has
				// the document, so just repair the persisted side below.
				m.DocumentsAnalyzed.WithLabelValues("duplicate").Inc()
				logger.Debug("duplicate document event",
					"doc_id", event.DocumentID,
					"corpus", event.Corpus,
				)
			} else {
				markFailed(ctx, st, event.DocumentID, err.Error(), logger)
				m.DocumentsAnalyzed.WithLabelValues("failed").Inc()
				logger.Error("failed to add document",
					"doc_id", event.DocumentID,
					"corpus", event.Corpus,
					"error", err,
				)
				return nil
			}
		} else {
			m.DocumentsAnalyzed.WithLabelValues("analyzed").Inc()
		}

		if err := st.SaveDocumentTerms(ctx, event.DocumentID, event.Corpus, counts); err != nil {
			return err
		}

		logger.Info("document analyzed",
			"doc_id", event.DocumentID,
			"corpus", event.Corpus,
			"terms", len(counts),
		)

		if threshold > 0 && engine.Pending() >= threshold {
			logger.Info("recompute threshold reached",
				"corpus", event.Corpus,
				"pending", engine.Pending(),
				"threshold", threshold,
			)
			if _, err := engine.Recompute(ctx); err != nil {
				logger.Error("threshold recompute failed",
					"corpus", event.Corpus,
					"error", err,
				)
			}
		}
		return nil
	}
}

// markFailed best-effort updates the document row; a failure here only
// costs status visibility, never correctness.
func markFailed(ctx context.Context, st *store.Store, docID, reason string, logger *slog.Logger) {
	if err := st.MarkFailed(ctx, docID, reason); err != nil {
		logger.Error("failed to mark document failed",
			"doc_id", docID,
			"error", err,
		)
	}
}
