// Package tokenizer converts document text into the terms the analyzer
// counts. It lower-cases input, splits on non-alphanumeric boundaries,
// drops stop-words and single-character tokens, and applies a small
// suffix-stripping stemmer. The rules are deliberately simple; what matters
// downstream is that the same text always yields the same terms.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "do": {}, "each": {},
	"for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "he": {},
	"her": {}, "him": {}, "his": {}, "if": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "no": {}, "not": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "she": {}, "so": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "they": {}, "this": {}, "to": {}, "was": {},
	"we": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "who": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

// Tokenize returns the normalised terms of text in occurrence order.
// Repeated terms appear repeatedly; use TermCounts for merged counts.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words)/2)
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		terms = append(terms, stem(word))
	}
	return terms
}

// TermCounts tokenizes text and merges repeats into per-term occurrence
// counts. The result never contains zero counts, which makes it safe input
// for the statistics aggregator.
func TermCounts(text string) map[string]int64 {
	terms := Tokenize(text)
	counts := make(map[string]int64, len(terms))
	for _, term := range terms {
		counts[term]++
	}
	return counts
}

var suffixRules = []struct {
	suffix string
	repl   string
	min    int // minimum length of the stemmed result
}{
	{"ization", "ize", 4},
	{"ousness", "ous", 4},
	{"iveness", "ive", 4},
	{"encies", "ence", 4},
	{"ments", "ment", 4},
	{"izing", "ize", 4},
	{"ating", "ate", 4},
	{"sses", "ss", 3},
	{"ying", "y", 2},
	{"ies", "y", 2},
	{"ied", "y", 2},
	{"ing", "", 3},
	{"ed", "", 3},
	{"ly", "", 3},
	{"s", "", 3},
}

func stem(word string) string {
	for _, rule := range suffixRules {
		if !strings.HasSuffix(word, rule.suffix) {
			continue
		}
		// Keep words like "glass" and "press" intact.
		if rule.suffix == "s" && strings.HasSuffix(word, "ss") {
			continue
		}
		stemmed := word[:len(word)-len(rule.suffix)] + rule.repl
		if len(stemmed) >= rule.min {
			return stemmed
		}
	}
	return word
}
