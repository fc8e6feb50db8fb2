// Package termstats computes term frequency, inverse document frequency,
// and tf-idf over a corpus of per-document term counts.
//
// For a record with term t in document d:
//
//	tf(d,t)  = count(d,t) / total(d)          total(d) = sum of counts in d
//	idf(t)   = ln( N / df(t) )                N = distinct documents in input
//	tfidf    = tf(d,t) * idf(t)               df(t) = documents containing t
//
// The logarithm is natural. A term present in every document has idf 0, so
// its tf-idf is 0 in every document regardless of how often it occurs; idf
// is never negative and never infinite because df(t) >= 1 for any term that
// appears in the input at all.
//
// The package is pure computation: no I/O, no logging, no shared state.
// Statistics are corpus-global, so any change to the underlying counts
// requires recomputing from the full input; nothing here supports
// incremental patching.
package termstats

import "math"

// TermCount is one input record: the number of times a term occurs in a
// document. Counts are raw occurrence totals and must be positive; callers
// that tally from running text must merge repeats before calling Compute,
// since a (Document, Term) pair may appear at most once.
type TermCount struct {
	Document string `json:"document"`
	Term     string `json:"term"`
	Count    int64  `json:"count"`
}

// TermStats is one output record: the input fields plus the three derived
// statistics.
type TermStats struct {
	Document string  `json:"document"`
	Term     string  `json:"term"`
	Count    int64   `json:"count"`
	TF       float64 `json:"tf"`
	IDF      float64 `json:"idf"`
	TFIDF    float64 `json:"tf_idf"`
}

type docTerm struct {
	doc  string
	term string
}

// Compute derives tf, idf, and tf-idf for every input record. It returns
// exactly one TermStats per TermCount, in input order; callers that want
// ranked output sort explicitly (see Rank).
//
// The input must be non-empty, every Count must be >= 1, document and term
// must be non-empty, and (Document, Term) pairs must be unique. Violations
// return an *InvalidInputError and no partial results.
func Compute(counts []TermCount) ([]TermStats, error) {
	if len(counts) == 0 {
		return nil, &InvalidInputError{Reason: "empty input"}
	}

	// Pass 1: per-document count totals and per-term document frequencies.
	totals := make(map[string]int64)
	docFreq := make(map[string]int64)
	seen := make(map[docTerm]struct{}, len(counts))
	for _, tc := range counts {
		if tc.Document == "" {
			return nil, &InvalidInputError{Reason: "empty document id", Term: tc.Term}
		}
		if tc.Term == "" {
			return nil, &InvalidInputError{Reason: "empty term", Document: tc.Document}
		}
		if tc.Count <= 0 {
			return nil, &InvalidInputError{
				Reason:   "count must be positive",
				Document: tc.Document,
				Term:     tc.Term,
			}
		}
		key := docTerm{tc.Document, tc.Term}
		if _, dup := seen[key]; dup {
			return nil, &InvalidInputError{
				Reason:   "duplicate document/term pair",
				Document: tc.Document,
				Term:     tc.Term,
			}
		}
		seen[key] = struct{}{}
		totals[tc.Document] += tc.Count
		// Pairs are unique, so each record is a new document for its term.
		docFreq[tc.Term]++
	}

	// Pass 2: derive the statistics per record from the two tables.
	nDocs := float64(len(totals))
	stats := make([]TermStats, len(counts))
	for i, tc := range counts {
		tf := float64(tc.Count) / float64(totals[tc.Document])
		idf := math.Log(nDocs / float64(docFreq[tc.Term]))
		stats[i] = TermStats{
			Document: tc.Document,
			Term:     tc.Term,
			Count:    tc.Count,
			TF:       tf,
			IDF:      idf,
			TFIDF:    tf * idf,
		}
	}
	return stats, nil
}
