// Package store persists analyzer output to PostgreSQL: per-document term
// counts (the rehydration source), the computed term statistics, and the
// per-corpus summaries.
//
// It requires the following tables:
//
//	CREATE TABLE documents (
//	    id              TEXT PRIMARY KEY,
//	    corpus          TEXT NOT NULL,
//	    title           TEXT NOT NULL,
//	    content_hash    TEXT NOT NULL,
//	    size_bytes      BIGINT NOT NULL,
//	    status          TEXT NOT NULL,
//	    term_count      BIGINT NOT NULL DEFAULT 0,
//	    idempotency_key TEXT UNIQUE,
//	    error           TEXT,
//	    received_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    analyzed_at     TIMESTAMPTZ
//	);
//
//	CREATE TABLE document_terms (
//	    document_id TEXT NOT NULL,
//	    corpus      TEXT NOT NULL,
//	    term        TEXT NOT NULL,
//	    count       BIGINT NOT NULL,
//	    PRIMARY KEY (document_id, term)
//	);
//	CREATE INDEX document_terms_corpus_idx ON document_terms (corpus);
//
//	CREATE TABLE term_stats (
//	    corpus      TEXT NOT NULL,
//	    document_id TEXT NOT NULL,
//	    term        TEXT NOT NULL,
//	    term_count  BIGINT NOT NULL,
//	    tf          DOUBLE PRECISION NOT NULL,
//	    idf         DOUBLE PRECISION NOT NULL,
//	    tf_idf      DOUBLE PRECISION NOT NULL,
//	    computed_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (corpus, document_id, term)
//	);
//	CREATE INDEX term_stats_corpus_term_idx ON term_stats (corpus, term);
//
//	CREATE TABLE corpus_stats (
//	    corpus           TEXT PRIMARY KEY,
//	    document_count   BIGINT NOT NULL,
//	    vocabulary_size  BIGINT NOT NULL,
//	    term_occurrences BIGINT NOT NULL,
//	    computed_at      TIMESTAMPTZ NOT NULL
//	);
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/corpusware/termstat/internal/ingestion"
	"github.com/corpusware/termstat/internal/termstats"
	"github.com/corpusware/termstat/pkg/postgres"
)

// Store writes analyzer results to PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates an analyzer store.
func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analyzer-store"),
	}
}

// Summary carries the corpus-level counters persisted alongside a recompute.
type Summary struct {
	Documents   int64
	Vocabulary  int64
	Occurrences int64
}

// ReplaceTermStats atomically swaps the stored statistics for a corpus:
// old rows are deleted, the new batch is bulk-loaded with COPY, and the
// corpus summary row is upserted, all in one transaction.
func (s *Store) ReplaceTermStats(ctx context.Context, corpus string, stats []termstats.TermStats, sum Summary) error {
	computedAt := time.Now().UTC()
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM term_stats WHERE corpus = $1`, corpus); err != nil {
			return fmt.Errorf("deleting stale term stats: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("term_stats",
			"corpus", "document_id", "term", "term_count", "tf", "idf", "tf_idf", "computed_at"))
		if err != nil {
			return fmt.Errorf("preparing term_stats copy: %w", err)
		}
		for _, st := range stats {
			if _, err := stmt.ExecContext(ctx,
				corpus, st.Document, st.Term, st.Count, st.TF, st.IDF, st.TFIDF, computedAt); err != nil {
				stmt.Close()
				return fmt.Errorf("buffering term stat row: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flushing term_stats copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("closing term_stats copy: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO corpus_stats (corpus, document_count, vocabulary_size, term_occurrences, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (corpus) DO UPDATE SET
			document_count = EXCLUDED.document_count,
			vocabulary_size = EXCLUDED.vocabulary_size,
			term_occurrences = EXCLUDED.term_occurrences,
			computed_at = EXCLUDED.computed_at`,
			corpus, sum.Documents, sum.Vocabulary, sum.Occurrences, computedAt); err != nil {
			return fmt.Errorf("upserting corpus summary: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("term stats replaced",
		"corpus", corpus,
		"rows", len(stats),
		"documents", sum.Documents,
	)
	return nil
}

// SaveDocumentTerms records a document's term counts and marks the document
// ANALYZED. The write is idempotent so event redelivery repairs partial
// failures instead of duplicating rows.
func (s *Store) SaveDocumentTerms(ctx context.Context, docID, corpus string, counts map[string]int64) error {
	var total int64
	for _, c := range counts {
		total += c
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM document_terms WHERE document_id = $1`, docID); err != nil {
			return fmt.Errorf("deleting stale document terms: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("document_terms",
			"document_id", "corpus", "term", "count"))
		if err != nil {
			return fmt.Errorf("preparing document_terms copy: %w", err)
		}
		for term, count := range counts {
			if _, err := stmt.ExecContext(ctx, docID, corpus, term, count); err != nil {
				stmt.Close()
				return fmt.Errorf("buffering document term row: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flushing document_terms copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("closing document_terms copy: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET status = $1, term_count = $2, error = NULL, analyzed_at = NOW() WHERE id = $3`,
			ingestion.StatusAnalyzed, total, docID); err != nil {
			return fmt.Errorf("marking document analyzed: %w", err)
		}
		return nil
	})
}

// MarkFailed records that a document could not be analyzed.
func (s *Store) MarkFailed(ctx context.Context, docID, reason string) error {
	_, err := s.db.DB.ExecContext(ctx,
		`UPDATE documents SET status = $1, error = $2, analyzed_at = NOW() WHERE id = $3`,
		ingestion.StatusFailed, reason, docID)
	if err != nil {
		return fmt.Errorf("marking document failed: %w", err)
	}
	return nil
}

// DocumentTerms is one document's stored term counts, used to rebuild
// in-memory corpus tables after a restart.
type DocumentTerms struct {
	DocumentID string
	Corpus     string
	Terms      map[string]int64
}

// LoadDocumentTerms reads every stored document's term counts, grouped per
// document, ordered by corpus then document.
func (s *Store) LoadDocumentTerms(ctx context.Context) ([]DocumentTerms, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT document_id, corpus, term, count FROM document_terms ORDER BY corpus, document_id`)
	if err != nil {
		return nil, fmt.Errorf("querying document terms: %w", err)
	}
	defer rows.Close()

	var docs []DocumentTerms
	var current *DocumentTerms
	for rows.Next() {
		var docID, corpus, term string
		var count int64
		if err := rows.Scan(&docID, &corpus, &term, &count); err != nil {
			return nil, fmt.Errorf("scanning document term row: %w", err)
		}
		if current == nil || current.DocumentID != docID {
			docs = append(docs, DocumentTerms{
				DocumentID: docID,
				Corpus:     corpus,
				Terms:      make(map[string]int64),
			})
			current = &docs[len(docs)-1]
		}
		current.Terms[term] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document terms: %w", err)
	}
	return docs, nil
}
