// Package store reads computed term statistics and corpus summaries from
// PostgreSQL. All ordering happens in SQL with the canonical ranking:
// tf_idf descending, then document, then term.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/corpusware/termstat/internal/termstats"
	apperrors "github.com/corpusware/termstat/pkg/errors"
	"github.com/corpusware/termstat/pkg/postgres"
)

// Store runs read queries against term_stats and corpus_stats.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a stats read store.
func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "stats-store"),
	}
}

// DocumentTermsResult is one document's ranked term statistics.
type DocumentTermsResult struct {
	Corpus     string                `json:"corpus"`
	DocumentID string                `json:"document_id"`
	Terms      []termstats.TermStats `json:"terms"`
	ComputedAt time.Time             `json:"computed_at"`
}

// DocumentTerms returns the ranked statistics for one document, highest
// tf-idf first. Returns ErrCorpusNotFound or ErrDocumentNotFound when the
// path names something that was never computed.
func (s *Store) DocumentTerms(ctx context.Context, corpus, docID string, limit int) (*DocumentTermsResult, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT term, term_count, tf, idf, tf_idf, computed_at
	FROM term_stats
	WHERE corpus = $1 AND document_id = $2
	ORDER BY tf_idf DESC, term
	LIMIT $3`, corpus, docID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying document terms: %w", err)
	}
	defer rows.Close()

	result := &DocumentTermsResult{
		Corpus:     corpus,
		DocumentID: docID,
		Terms:      []termstats.TermStats{},
	}
	for rows.Next() {
		st := termstats.TermStats{Document: docID}
		if err := rows.Scan(&st.Term, &st.Count, &st.TF, &st.IDF, &st.TFIDF, &result.ComputedAt); err != nil {
			return nil, fmt.Errorf("scanning term stat row: %w", err)
		}
		result.Terms = append(result.Terms, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating term stats: %w", err)
	}

	if len(result.Terms) == 0 {
		exists, err := s.corpusExists(ctx, corpus)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperrors.Newf(apperrors.ErrCorpusNotFound, 404, "corpus %q has no computed statistics", corpus)
		}
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %q not found in corpus %q", docID, corpus)
	}
	return result, nil
}

// TermStatsResult is one term's statistics across every document of a
// corpus. DocFreq counts all documents containing the term, independent of
// the page size.
type TermStatsResult struct {
	Corpus     string                `json:"corpus"`
	Term       string                `json:"term"`
	DocFreq    int64                 `json:"doc_freq"`
	IDF        float64               `json:"idf"`
	Documents  []termstats.TermStats `json:"documents"`
	ComputedAt time.Time             `json:"computed_at"`
}

// TermAcrossCorpus returns a term's per-document statistics, highest tf-idf
// first. A term absent from the corpus yields DocFreq zero and an empty
// page, not an error.
func (s *Store) TermAcrossCorpus(ctx context.Context, corpus, term string, limit int) (*TermStatsResult, error) {
	exists, err := s.corpusExists(ctx, corpus)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.Newf(apperrors.ErrCorpusNotFound, 404, "corpus %q has no computed statistics", corpus)
	}

	result := &TermStatsResult{
		Corpus:    corpus,
		Term:      term,
		Documents: []termstats.TermStats{},
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT document_id, term_count, tf, idf, tf_idf, computed_at,
	       COUNT(*) OVER () AS doc_freq
	FROM term_stats
	WHERE corpus = $1 AND term = $2
	ORDER BY tf_idf DESC, document_id
	LIMIT $3`, corpus, term, limit)
	if err != nil {
		return nil, fmt.Errorf("querying term stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st := termstats.TermStats{Term: term}
		if err := rows.Scan(&st.Document, &st.Count, &st.TF, &st.IDF, &st.TFIDF, &result.ComputedAt, &result.DocFreq); err != nil {
			return nil, fmt.Errorf("scanning term stat row: %w", err)
		}
		result.IDF = st.IDF
		result.Documents = append(result.Documents, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating term stats: %w", err)
	}
	return result, nil
}

// RankingsResult is the top-N characteristic terms of every document in a
// corpus, grouped by document.
type RankingsResult struct {
	Corpus     string                `json:"corpus"`
	PerDoc     int                   `json:"per_doc"`
	Rankings   []termstats.TermStats `json:"rankings"`
	ComputedAt time.Time             `json:"computed_at"`
}

// TopPerDocument returns each document's perDoc highest-scoring terms,
// documents in ascending order and terms in canonical rank order within
// each document.
func (s *Store) TopPerDocument(ctx context.Context, corpus string, perDoc int) (*RankingsResult, error) {
	exists, err := s.corpusExists(ctx, corpus)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.Newf(apperrors.ErrCorpusNotFound, 404, "corpus %q has no computed statistics", corpus)
	}

	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT document_id, term, term_count, tf, idf, tf_idf, computed_at FROM (
	    SELECT *, ROW_NUMBER() OVER (
	        PARTITION BY document_id ORDER BY tf_idf DESC, term
	    ) AS rank
	    FROM term_stats WHERE corpus = $1
	) ranked
	WHERE rank <= $2
	ORDER BY document_id, tf_idf DESC, term`, corpus, perDoc)
	if err != nil {
		return nil, fmt.Errorf("querying rankings: %w", err)
	}
	defer rows.Close()

	result := &RankingsResult{
		Corpus:   corpus,
		PerDoc:   perDoc,
		Rankings: []termstats.TermStats{},
	}
	for rows.Next() {
		var st termstats.TermStats
		if err := rows.Scan(&st.Document, &st.Term, &st.Count, &st.TF, &st.IDF, &st.TFIDF, &result.ComputedAt); err != nil {
			return nil, fmt.Errorf("scanning ranking row: %w", err)
		}
		result.Rankings = append(result.Rankings, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rankings: %w", err)
	}
	return result, nil
}

// CorpusSummary is the persisted summary row for one corpus.
type CorpusSummary struct {
	Corpus          string    `json:"corpus"`
	DocumentCount   int64     `json:"document_count"`
	VocabularySize  int64     `json:"vocabulary_size"`
	TermOccurrences int64     `json:"term_occurrences"`
	ComputedAt      time.Time `json:"computed_at"`
}

// Summary returns the summary row for one corpus.
func (s *Store) Summary(ctx context.Context, corpus string) (*CorpusSummary, error) {
	var sum CorpusSummary
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT corpus, document_count, vocabulary_size, term_occurrences, computed_at
	FROM corpus_stats WHERE corpus = $1`, corpus).
		Scan(&sum.Corpus, &sum.DocumentCount, &sum.VocabularySize, &sum.TermOccurrences, &sum.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrCorpusNotFound, 404, "corpus %q has no computed statistics", corpus)
	}
	if err != nil {
		return nil, fmt.Errorf("querying corpus summary: %w", err)
	}
	return &sum, nil
}

// ListCorpora returns every corpus summary, sorted by name.
func (s *Store) ListCorpora(ctx context.Context) ([]CorpusSummary, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT corpus, document_count, vocabulary_size, term_occurrences, computed_at
	FROM corpus_stats ORDER BY corpus`)
	if err != nil {
		return nil, fmt.Errorf("listing corpora: %w", err)
	}
	defer rows.Close()

	summaries := []CorpusSummary{}
	for rows.Next() {
		var sum CorpusSummary
		if err := rows.Scan(&sum.Corpus, &sum.DocumentCount, &sum.VocabularySize, &sum.TermOccurrences, &sum.ComputedAt); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *Store) corpusExists(ctx context.Context, corpus string) (bool, error) {
	var one int
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT 1 FROM corpus_stats WHERE corpus = $1`, corpus).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking corpus existence: %w", err)
	}
	return true, nil
}
