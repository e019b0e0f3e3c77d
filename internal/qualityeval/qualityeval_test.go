package qualityeval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict_WellFormedJSON(t *testing.T) {
	v, err := parseVerdict(`{"overall_score": 87, "breakdown": {"accuracy": 90, "naturalness": 85, "dubbing_fit": 88, "consistency": 80}, "issues": ["minor tense mismatch"]}`)
	require.NoError(t, err)
	assert.Equal(t, 90.0, v.Breakdown.Accuracy)
	assert.Equal(t, []string{"minor tense mismatch"}, v.Issues)
}

func TestParseVerdict_TruncatedJSONRecoversBreakdown(t *testing.T) {
	truncated := `{"overall_score": 62, "breakdown": {"accuracy": 60, "naturalness": 65, "dubbing_fit": 7`
	v, err := parseVerdict(truncated)
	require.NoError(t, err)
	assert.Equal(t, 60.0, v.Breakdown.Accuracy)
	assert.Equal(t, 65.0, v.Breakdown.Naturalness)
}

func TestParseVerdict_TruncatedJSONRecoversOverallOnly(t *testing.T) {
	truncated := `{"overall_score": 55, "breakdown": {`
	v, err := parseVerdict(truncated)
	require.NoError(t, err)
	assert.Equal(t, 55.0, v.Breakdown.Accuracy)
}

func TestParseVerdict_NoScoreRecoverable(t *testing.T) {
	_, err := parseVerdict("the translation looks fine to me")
	assert.Error(t, err)
}

func TestFinalizeVerdict_WeightedOverallAndRecommendation(t *testing.T) {
	v := finalizeVerdict(rawVerdict{Breakdown: Breakdown{Accuracy: 90, Naturalness: 90, DubbingFit: 90, Consistency: 90}})
	assert.Equal(t, 90, v.OverallScore)
	assert.Equal(t, RecommendApproved, v.Recommendation)

	v = finalizeVerdict(rawVerdict{Breakdown: Breakdown{Accuracy: 50, Naturalness: 50, DubbingFit: 50, Consistency: 50}})
	assert.Equal(t, 50, v.OverallScore)
	assert.Equal(t, RecommendReject, v.Recommendation)

	v = finalizeVerdict(rawVerdict{Breakdown: Breakdown{Accuracy: 75, Naturalness: 75, DubbingFit: 75, Consistency: 75}})
	assert.Equal(t, RecommendReviewNeeded, v.Recommendation)
}

func TestDedupeIssues_CollapsesSimilarPrefixes(t *testing.T) {
	out := dedupeIssues([]string{"Dropped a number in sentence 3", "dropped a number in sentence 3 near the end", "Different issue entirely"})
	assert.Len(t, out, 2)
}

func TestSampleWindows_ShortTextUnchanged(t *testing.T) {
	short := "a short string"
	assert.Equal(t, short, sampleWindows(short))
}

func TestSampleWindows_LongTextSamplesThreeWindows(t *testing.T) {
	long := make([]byte, sampleTotal*3)
	for i := range long {
		long[i] = 'a'
	}
	result := sampleWindows(string(long))
	assert.Less(t, len(result), len(long))
	assert.Contains(t, result, "중략")
}
