package termstats

import (
	"errors"
	"math"
	"testing"
)

const eps = 1e-12

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= eps
}

// Two-document corpus worked by hand: doc "a" has {the:10, whale:2},
// doc "b" has {the:8}. total(a)=12, total(b)=8, df(the)=2, df(whale)=1.
func mobyCounts() []TermCount {
	return []TermCount{
		{Document: "a", Term: "the", Count: 10},
		{Document: "a", Term: "whale", Count: 2},
		{Document: "b", Term: "the", Count: 8},
	}
}

func TestComputeTwoDocumentCorpus(t *testing.T) {
	stats, err := Compute(mobyCounts())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("got %d records, want 3", len(stats))
	}

	aThe, aWhale, bThe := stats[0], stats[1], stats[2]

	// Input fields preserved, input order preserved.
	if aThe.Document != "a" || aThe.Term != "the" || aThe.Count != 10 {
		t.Errorf("record 0 fields not preserved: %+v", aThe)
	}
	if aWhale.Document != "a" || aWhale.Term != "whale" || aWhale.Count != 2 {
		t.Errorf("record 1 fields not preserved: %+v", aWhale)
	}
	if bThe.Document != "b" || bThe.Term != "the" || bThe.Count != 8 {
		t.Errorf("record 2 fields not preserved: %+v", bThe)
	}

	if !almostEqual(aThe.TF, 10.0/12.0) {
		t.Errorf("tf(a,the) = %v, want %v", aThe.TF, 10.0/12.0)
	}
	if !almostEqual(aWhale.TF, 2.0/12.0) {
		t.Errorf("tf(a,whale) = %v, want %v", aWhale.TF, 2.0/12.0)
	}
	if bThe.TF != 1.0 {
		t.Errorf("tf(b,the) = %v, want exactly 1", bThe.TF)
	}

	// "the" appears in both documents, so its idf is exactly zero.
	if aThe.IDF != 0 || bThe.IDF != 0 {
		t.Errorf("idf(the) = %v / %v, want exactly 0", aThe.IDF, bThe.IDF)
	}
	if aThe.TFIDF != 0 || bThe.TFIDF != 0 {
		t.Errorf("tfidf(the) = %v / %v, want exactly 0", aThe.TFIDF, bThe.TFIDF)
	}

	// "whale" appears in one of two documents.
	if !almostEqual(aWhale.IDF, math.Log(2)) {
		t.Errorf("idf(whale) = %v, want ln 2 = %v", aWhale.IDF, math.Log(2))
	}
	if !almostEqual(aWhale.TFIDF, (2.0/12.0)*math.Log(2)) {
		t.Errorf("tfidf(a,whale) = %v, want %v", aWhale.TFIDF, (2.0/12.0)*math.Log(2))
	}
}

func TestComputeInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		counts []TermCount
	}{
		{name: "empty input", counts: nil},
		{name: "zero count", counts: []TermCount{
			{Document: "a", Term: "x", Count: 0},
		}},
		{name: "negative count", counts: []TermCount{
			{Document: "a", Term: "x", Count: 3},
			{Document: "a", Term: "y", Count: -1},
		}},
		{name: "duplicate pair", counts: []TermCount{
			{Document: "a", Term: "x", Count: 1},
			{Document: "b", Term: "x", Count: 2},
			{Document: "a", Term: "x", Count: 5},
		}},
		{name: "empty document id", counts: []TermCount{
			{Document: "", Term: "x", Count: 1},
		}},
		{name: "empty term", counts: []TermCount{
			{Document: "a", Term: "", Count: 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats, err := Compute(tt.counts)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if stats != nil {
				t.Errorf("expected no partial results, got %d records", len(stats))
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("errors.Is(err, ErrInvalidInput) = false for %v", err)
			}
			var invalid *InvalidInputError
			if !errors.As(err, &invalid) {
				t.Fatalf("error %T is not *InvalidInputError", err)
			}
			if invalid.Reason == "" {
				t.Error("InvalidInputError has empty Reason")
			}
		})
	}
}

func TestComputeSingleDocumentCorpus(t *testing.T) {
	stats, err := Compute([]TermCount{
		{Document: "only", Term: "alpha", Count: 4},
		{Document: "only", Term: "beta", Count: 1},
		{Document: "only", Term: "gamma", Count: 5},
	})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	var tfSum float64
	for _, s := range stats {
		if s.IDF != 0 {
			t.Errorf("idf(%s) = %v, want exactly 0 in a single-document corpus", s.Term, s.IDF)
		}
		if s.TFIDF != 0 {
			t.Errorf("tfidf(%s) = %v, want exactly 0 in a single-document corpus", s.Term, s.TFIDF)
		}
		tfSum += s.TF
	}
	if math.Abs(tfSum-1.0) > 1e-9 {
		t.Errorf("tf sum = %v, want 1.0", tfSum)
	}
}

func TestComputeInvariants(t *testing.T) {
	counts := []TermCount{
		{Document: "d1", Term: "shared", Count: 3},
		{Document: "d1", Term: "rare", Count: 7},
		{Document: "d1", Term: "mid", Count: 2},
		{Document: "d2", Term: "shared", Count: 11},
		{Document: "d2", Term: "mid", Count: 5},
		{Document: "d3", Term: "shared", Count: 1},
	}
	stats, err := Compute(counts)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	t.Run("tf sums to one per document", func(t *testing.T) {
		sums := make(map[string]float64)
		for _, s := range stats {
			sums[s.Document] += s.TF
		}
		for doc, sum := range sums {
			if math.Abs(sum-1.0) > 1e-9 {
				t.Errorf("tf sum for %s = %v, want 1.0", doc, sum)
			}
		}
	})

	t.Run("idf non-negative and finite", func(t *testing.T) {
		for _, s := range stats {
			if s.IDF < 0 || math.IsInf(s.IDF, 0) || math.IsNaN(s.IDF) {
				t.Errorf("idf(%s) = %v", s.Term, s.IDF)
			}
		}
	})

	t.Run("idf zero iff term in every document", func(t *testing.T) {
		for _, s := range stats {
			switch s.Term {
			case "shared": // in all three documents
				if s.IDF != 0 {
					t.Errorf("idf(shared) = %v, want exactly 0", s.IDF)
				}
			case "rare": // in one of three
				if !almostEqual(s.IDF, math.Log(3)) {
					t.Errorf("idf(rare) = %v, want ln 3", s.IDF)
				}
			case "mid": // in two of three
				if !almostEqual(s.IDF, math.Log(1.5)) {
					t.Errorf("idf(mid) = %v, want ln 1.5", s.IDF)
				}
			}
		}
	})

	t.Run("tfidf is the product", func(t *testing.T) {
		for _, s := range stats {
			if s.TFIDF != s.TF*s.IDF {
				t.Errorf("tfidf(%s,%s) = %v, want tf*idf = %v", s.Document, s.Term, s.TFIDF, s.TF*s.IDF)
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		again, err := Compute(counts)
		if err != nil {
			t.Fatalf("second Compute returned error: %v", err)
		}
		for i := range stats {
			if stats[i] != again[i] {
				t.Errorf("record %d differs between runs: %+v vs %+v", i, stats[i], again[i])
			}
		}
	})
}

func TestComputeDoesNotMutateInput(t *testing.T) {
	counts := mobyCounts()
	orig := make([]TermCount, len(counts))
	copy(orig, counts)

	if _, err := Compute(counts); err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	for i := range counts {
		if counts[i] != orig[i] {
			t.Errorf("input record %d mutated: %+v", i, counts[i])
		}
	}
}
