// Package corpus holds the analyzer's in-memory term-count tables, one per
// corpus. A Table accumulates documents between recomputes; statistics are
// always derived from a full Snapshot, never patched record by record.
package corpus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/corpusware/termstat/internal/termstats"
	apperrors "github.com/corpusware/termstat/pkg/errors"
)

// Table is a mutable document → term → count map guarded by an RWMutex.
// Writers are the Kafka consumer and startup rehydration; the recompute
// loop and the live-state RPC read it.
type Table struct {
	mu          sync.RWMutex
	docs        map[string]map[string]int64
	termDocs    map[string]int64 // term → documents containing it
	occurrences int64
}

func NewTable() *Table {
	return &Table{
		docs:     make(map[string]map[string]int64),
		termDocs: make(map[string]int64),
	}
}

// Add records one document's merged term counts. A document can be added
// once; re-adding returns ErrDuplicateDocument. Empty or non-positive
// counts are rejected so the table always satisfies the aggregator's input
// contract.
func (t *Table) Add(docID string, counts map[string]int64) error {
	if docID == "" {
		return fmt.Errorf("%w: empty document id", apperrors.ErrInvalidInput)
	}
	if len(counts) == 0 {
		return apperrors.ErrNoTerms
	}
	for term, n := range counts {
		if term == "" || n <= 0 {
			return fmt.Errorf("%w: term %q count %d", apperrors.ErrInvalidInput, term, n)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.docs[docID]; exists {
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateDocument, docID)
	}

	stored := make(map[string]int64, len(counts))
	for term, n := range counts {
		stored[term] = n
		t.termDocs[term]++
		t.occurrences += n
	}
	t.docs[docID] = stored
	return nil
}

// Snapshot flattens the table into aggregator input, sorted by document
// then term so identical table contents always produce identical slices.
func (t *Table) Snapshot() []termstats.TermCount {
	t.mu.RLock()
	defer t.mu.RUnlock()

	docIDs := make([]string, 0, len(t.docs))
	total := 0
	for docID, terms := range t.docs {
		docIDs = append(docIDs, docID)
		total += len(terms)
	}
	sort.Strings(docIDs)

	counts := make([]termstats.TermCount, 0, total)
	for _, docID := range docIDs {
		terms := t.docs[docID]
		sorted := make([]string, 0, len(terms))
		for term := range terms {
			sorted = append(sorted, term)
		}
		sort.Strings(sorted)
		for _, term := range sorted {
			counts = append(counts, termstats.TermCount{
				Document: docID,
				Term:     term,
				Count:    terms[term],
			})
		}
	}
	return counts
}

func (t *Table) Contains(docID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.docs[docID]
	return ok
}

func (t *Table) DocumentCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int64(len(t.docs))
}

// VocabularySize is the number of distinct terms across all documents.
func (t *Table) VocabularySize() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int64(len(t.termDocs))
}

// TermOccurrences is the sum of every count in the table.
func (t *Table) TermOccurrences() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.occurrences
}

func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.docs = make(map[string]map[string]int64)
	t.termDocs = make(map[string]int64)
	t.occurrences = 0
}
