package pipeline

import (
	"regexp"
	"strings"
)

// maxMissingKeyTermFraction is how much of the original's numbers and
// capitalized terms a refinement may lose before it is rejected.
const maxMissingKeyTermFraction = 0.3

var (
	numberTermRe = regexp.MustCompile(`\d+(?:[.,]\d+)?%?`)
	capTermRe    = regexp.MustCompile(`\p{Lu}[\p{L}\p{N}]+`)
)

// ExtractKeyTerms collects the numbers (with optional percent sign) and
// capitalized terms of length >= 2 from text, deduplicated.
func ExtractKeyTerms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range numberTermRe.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, m := range capTermRe.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// KeyTermsPreserved reports whether refined keeps enough of original's key
// terms; a refinement missing more than maxMissingKeyTermFraction of them
// is rejected by the quality loop. Capitalized terms are matched
// case-insensitively since the target language may not carry the same
// casing.
func KeyTermsPreserved(original, refined string) bool {
	terms := ExtractKeyTerms(original)
	if len(terms) == 0 {
		return true
	}
	lowerRefined := strings.ToLower(refined)
	missing := 0
	for _, t := range terms {
		if !strings.Contains(lowerRefined, strings.ToLower(t)) {
			missing++
		}
	}
	return float64(missing) <= maxMissingKeyTermFraction*float64(len(terms))
}
