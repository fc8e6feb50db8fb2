package termstats

import "sort"

// Less reports whether a ranks ahead of b in the canonical order: tf-idf
// descending, then document ascending, then term ascending. The two
// tie-break keys make rankings total and stable, so equal scores always
// come back in the same order.
func Less(a, b TermStats) bool {
	if a.TFIDF != b.TFIDF {
		return a.TFIDF > b.TFIDF
	}
	if a.Document != b.Document {
		return a.Document < b.Document
	}
	return a.Term < b.Term
}

// Rank returns a copy of stats sorted in the canonical order, truncated to
// limit records. limit <= 0 means no truncation. The input is not modified.
func Rank(stats []TermStats, limit int) []TermStats {
	ranked := make([]TermStats, len(stats))
	copy(ranked, stats)
	sort.Slice(ranked, func(i, j int) bool {
		return Less(ranked[i], ranked[j])
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// TopPerDocument keeps the perDoc highest-ranked records of each document
// and returns them grouped by document in ascending document order, ranked
// within each group. perDoc <= 0 keeps every record.
func TopPerDocument(stats []TermStats, perDoc int) []TermStats {
	byDoc := make(map[string][]TermStats)
	docs := make([]string, 0)
	for _, s := range stats {
		if _, ok := byDoc[s.Document]; !ok {
			docs = append(docs, s.Document)
		}
		byDoc[s.Document] = append(byDoc[s.Document], s)
	}
	sort.Strings(docs)

	out := make([]TermStats, 0, len(stats))
	for _, doc := range docs {
		out = append(out, Rank(byDoc[doc], perDoc)...)
	}
	return out
}
