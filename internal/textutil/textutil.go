// Package textutil derives token counts, similarity buckets and keywords from memory text.
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// CharsPerToken is the rough chars-to-tokens ratio used for budgeting.
const CharsPerToken = 4

// TokenCount estimates tokens as ceil(chars/4).
func TokenCount(content string) int {
	n := utf8.RuneCountInString(content)
	return (n + CharsPerToken - 1) / CharsPerToken
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "your": true, "with": true, "this": true, "that": true, "from": true,
	"have": true, "has": true, "was": true, "were": true, "will": true, "would": true,
	"can": true, "could": true, "should": true, "about": true, "into": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "how": true, "why": true,
	"they": true, "them": true, "their": true, "there": true, "here": true, "our": true,
	"its": true, "it's": true, "also": true, "just": true, "been": true, "being": true,
	"than": true, "then": true, "some": true, "any": true, "all": true, "out": true,
}

// Keywords returns the distinct lowercase content words of text in order of
// first appearance. Words shorter than three characters and stopwords are dropped.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if utf8.RuneCountInString(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// SemanticHash buckets content by its normalized keyword set, so reordered or
// re-punctuated restatements land in the same bucket. It stands in for an
// embedding-based locality hash.
func SemanticHash(content string) string {
	kw := Keywords(content)
	if len(kw) == 0 {
		kw = []string{strings.ToLower(strings.TrimSpace(content))}
	}
	sort.Strings(kw)
	sum := sha256.Sum256([]byte(strings.Join(kw, " ")))
	return hex.EncodeToString(sum[:8])
}

// Overlap returns the fraction of query keywords found in the target set.
// An empty query yields 0.
func Overlap(query []string, target map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for _, q := range query {
		if target[q] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// Set converts a keyword list into a lookup set.
func Set(words []string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}

// Jaccard is the keyword-set similarity of two texts in [0,1]. A text with
// no keywords is similar to nothing.
func Jaccard(a, b string) float64 {
	sa, sb := Set(Keywords(a)), Set(Keywords(b))
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if sb[w] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Clamp01 limits v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
