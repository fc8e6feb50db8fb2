package termstats

import "testing"

func rankFixture() []TermStats {
	return []TermStats{
		{Document: "b", Term: "tide", TFIDF: 0.5},
		{Document: "a", Term: "whale", TFIDF: 0.9},
		{Document: "a", Term: "boat", TFIDF: 0.5},
		{Document: "a", Term: "sea", TFIDF: 0.5},
		{Document: "b", Term: "anchor", TFIDF: 0.1},
	}
}

func TestRankCanonicalOrder(t *testing.T) {
	ranked := Rank(rankFixture(), 0)

	want := []struct{ doc, term string }{
		{"a", "whale"},  // highest score
		{"a", "boat"},   // 0.5 tie: document a before b, boat before sea
		{"a", "sea"},
		{"b", "tide"},
		{"b", "anchor"}, // lowest score
	}
	if len(ranked) != len(want) {
		t.Fatalf("got %d records, want %d", len(ranked), len(want))
	}
	for i, w := range want {
		if ranked[i].Document != w.doc || ranked[i].Term != w.term {
			t.Errorf("position %d: got (%s,%s), want (%s,%s)",
				i, ranked[i].Document, ranked[i].Term, w.doc, w.term)
		}
	}
}

func TestRankLimit(t *testing.T) {
	stats := rankFixture()

	top2 := Rank(stats, 2)
	if len(top2) != 2 {
		t.Fatalf("limit 2: got %d records", len(top2))
	}
	if top2[0].Term != "whale" || top2[1].Term != "boat" {
		t.Errorf("limit 2: got %s, %s", top2[0].Term, top2[1].Term)
	}

	all := Rank(stats, -1)
	if len(all) != len(stats) {
		t.Errorf("limit -1: got %d records, want %d", len(all), len(stats))
	}

	over := Rank(stats, 100)
	if len(over) != len(stats) {
		t.Errorf("limit beyond length: got %d records, want %d", len(over), len(stats))
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	stats := rankFixture()
	first := stats[0]

	Rank(stats, 0)
	if stats[0] != first {
		t.Errorf("input reordered: first record now %+v", stats[0])
	}
}

func TestTopPerDocument(t *testing.T) {
	stats := []TermStats{
		{Document: "b", Term: "y1", TFIDF: 0.8},
		{Document: "a", Term: "x1", TFIDF: 0.7},
		{Document: "a", Term: "x2", TFIDF: 0.6},
		{Document: "a", Term: "x3", TFIDF: 0.5},
		{Document: "b", Term: "y2", TFIDF: 0.2},
	}

	top := TopPerDocument(stats, 2)

	want := []struct{ doc, term string }{
		{"a", "x1"},
		{"a", "x2"},
		{"b", "y1"},
		{"b", "y2"},
	}
	if len(top) != len(want) {
		t.Fatalf("got %d records, want %d", len(top), len(want))
	}
	for i, w := range want {
		if top[i].Document != w.doc || top[i].Term != w.term {
			t.Errorf("position %d: got (%s,%s), want (%s,%s)",
				i, top[i].Document, top[i].Term, w.doc, w.term)
		}
	}

	all := TopPerDocument(stats, 0)
	if len(all) != len(stats) {
		t.Errorf("perDoc 0: got %d records, want all %d", len(all), len(stats))
	}
}
