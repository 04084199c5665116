package readiness

import (
	"strings"
	"unicode"
)

// #region tokens
// stopwords are excluded from label and tag overlap.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"and": true, "or": true, "of": true, "on": true, "to": true,
	"in": true, "for": true, "by": true, "at": true, "with": true,
	"from": true, "this": true, "that": true, "it": true, "its": true,
	"data": true, "record": true, "input": true,
}

// tokenize splits text into unique lowercase non-stopword tokens.
func tokenize(texts ...string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, text := range texts {
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			if len(w) < 2 || stopwords[w] || seen[w] {
				continue
			}
			seen[w] = true
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// overlap is the share of query tokens found in doc, in [0,1].
func overlap(query, doc []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]bool, len(doc))
	for _, t := range doc {
		set[t] = true
	}
	shared := 0
	for _, t := range query {
		if set[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}

// #endregion tokens
