package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKeyTerms_NumbersAndCapitalizedWords(t *testing.T) {
	terms := ExtractKeyTerms("Apollo 11 launched in 1969 with a 99.9% success estimate from NASA.")
	assert.Contains(t, terms, "11")
	assert.Contains(t, terms, "1969")
	assert.Contains(t, terms, "99.9%")
	assert.Contains(t, terms, "Apollo")
	assert.Contains(t, terms, "NASA")
}

func TestExtractKeyTerms_Deduplicates(t *testing.T) {
	terms := ExtractKeyTerms("NASA and NASA and NASA")
	count := 0
	for _, term := range terms {
		if term == "NASA" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestKeyTermsPreserved_AllKept(t *testing.T) {
	original := "Apollo 11 launched in 1969."
	refined := "In 1969, Apollo 11 lifted off."
	assert.True(t, KeyTermsPreserved(original, refined))
}

func TestKeyTermsPreserved_CaseInsensitiveMatch(t *testing.T) {
	assert.True(t, KeyTermsPreserved("The GPU costs 500 dollars.", "the gpu costs 500 dollars."))
}

func TestKeyTermsPreserved_MajorLossRejected(t *testing.T) {
	original := "Apollo 11 carried Armstrong, Aldrin, and Collins in 1969 for NASA."
	refined := "A spacecraft carried three astronauts for the agency."
	assert.False(t, KeyTermsPreserved(original, refined))
}

func TestKeyTermsPreserved_NoTermsAlwaysPasses(t *testing.T) {
	assert.True(t, KeyTermsPreserved("just lowercase words here", "anything at all"))
}

func TestKeyTermsPreserved_ExactlyAtThresholdPasses(t *testing.T) {
	// 10 terms, 3 missing = 30%, which is not "more than 30%"
	original := "Alpha Bravo Charlie Delta Echo Foxtrot Golf 1 2 3"
	refined := "alpha bravo charlie delta echo foxtrot golf"
	assert.True(t, KeyTermsPreserved(original, refined))
}
