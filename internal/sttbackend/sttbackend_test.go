package sttbackend

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videovoice/internal/apperr"
)

type fakeProvider struct {
	name   string
	result *Result
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Transcribe(context.Context, string, string) (*Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestChain_FirstProviderWins(t *testing.T) {
	a := &fakeProvider{name: "a", result: &Result{Segments: []Segment{{Start: 0, End: 100, Text: "hi"}}}}
	b := &fakeProvider{name: "b"}
	chain := NewChain(nil, a, b)

	result, provider, err := chain.Transcribe(context.Background(), "audio.wav", "en", "")
	require.NoError(t, err)
	assert.Equal(t, "a", provider)
	assert.Len(t, result.Segments, 1)
	assert.Zero(t, b.calls)
}

func TestChain_QuotaFallsThrough(t *testing.T) {
	a := &fakeProvider{name: "a", err: fmt.Errorf("429 rate limit exceeded")}
	b := &fakeProvider{name: "b", result: &Result{Segments: []Segment{{Start: 0, End: 100, Text: "hi"}}}}
	chain := NewChain(nil, a, b)

	_, provider, err := chain.Transcribe(context.Background(), "audio.wav", "en", "")
	require.NoError(t, err)
	assert.Equal(t, "b", provider)
}

func TestChain_MissingCredentialFallsThrough(t *testing.T) {
	a := &fakeProvider{name: "a", err: fmt.Errorf("401 unauthorized")}
	b := &fakeProvider{name: "b", result: &Result{}}
	chain := NewChain(nil, a, b)

	_, provider, err := chain.Transcribe(context.Background(), "audio.wav", "en", "")
	require.NoError(t, err)
	assert.Equal(t, "b", provider)
}

func TestChain_NonQuotaErrorPropagatesImmediately(t *testing.T) {
	a := &fakeProvider{name: "a", err: fmt.Errorf("corrupt audio stream")}
	b := &fakeProvider{name: "b", result: &Result{}}
	chain := NewChain(nil, a, b)

	_, _, err := chain.Transcribe(context.Background(), "audio.wav", "en", "")
	require.Error(t, err)
	assert.Zero(t, b.calls, "non-quota errors must not trigger fallback")
}

func TestChain_AllExhaustedReturnsQuotaKind(t *testing.T) {
	a := &fakeProvider{name: "a", err: fmt.Errorf("quota exceeded")}
	b := &fakeProvider{name: "b", err: fmt.Errorf("quota exceeded")}
	chain := NewChain(nil, a, b)

	_, _, err := chain.Transcribe(context.Background(), "audio.wav", "en", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindQuota))
}

func TestChain_PinnedEngineTriedFirst(t *testing.T) {
	a := &fakeProvider{name: "a", result: &Result{}}
	b := &fakeProvider{name: "b", result: &Result{}}
	chain := NewChain(nil, a, b)

	_, provider, err := chain.Transcribe(context.Background(), "audio.wav", "en", "b")
	require.NoError(t, err)
	assert.Equal(t, "b", provider)
	assert.Zero(t, a.calls)
}

func TestOrderProviders_AutoKeepsDefaultOrder(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	ordered := orderProviders([]Provider{a, b}, "auto")
	assert.Equal(t, "a", ordered[0].Name())
}

func TestParseLLMTranscription_CleanJSON(t *testing.T) {
	r := parseLLMTranscription(`{"text": "hello world", "segments": [{"start": 0, "end": 1.5, "text": "hello world"}]}`)
	assert.Equal(t, "hello world", r.Text)
	require.Len(t, r.Segments, 1)
	assert.Equal(t, 1500, r.Segments[0].End)
}

func TestParseLLMTranscription_FencedJSONWithProse(t *testing.T) {
	reply := "Here is the transcription:\n```json\n{\"text\": \"hi\", \"segments\": []}\n```"
	r := parseLLMTranscription(reply)
	assert.Equal(t, "hi", r.Text)
}

func TestParseLLMTranscription_UnparseableFallsBackToFullText(t *testing.T) {
	r := parseLLMTranscription("I could not produce JSON but the audio says: good morning everyone")
	assert.Empty(t, r.Segments)
	assert.Contains(t, r.Text, "good morning everyone")
}

func TestResult_FullTextFallsBackToSegments(t *testing.T) {
	r := &Result{Segments: []Segment{{Text: "a"}, {Text: "b"}}}
	assert.Equal(t, "a b", r.FullText())

	r = &Result{Text: "explicit", Segments: []Segment{{Text: "ignored"}}}
	assert.Equal(t, "explicit", r.FullText())
}

func TestNormalizeSegments_DropsEmptyAndInverted(t *testing.T) {
	segs := NormalizeSegments([]Segment{
		{Start: 0, End: 100, Text: "keep"},
		{Start: 100, End: 100, Text: "zero length"},
		{Start: 200, End: 300, Text: ""},
		{Start: 400, End: 350, Text: "inverted"},
		{Start: 500, End: 600, Text: "also keep"},
	})
	require.Len(t, segs, 2)
	assert.Equal(t, "keep", segs[0].Text)
	assert.Equal(t, "also keep", segs[1].Text)
}
