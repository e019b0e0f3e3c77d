package ttsbackend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	name  string
	clone bool
	err   error
	calls int
}

func (f *fakeEngine) Name() string   { return f.name }
func (f *fakeEngine) CanClone() bool { return f.clone }

func (f *fakeEngine) Synthesize(_ context.Context, _, _, _, outputPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, []byte("wav"), 0644)
}

func TestChain_SynthesizeUsesFirstEngine(t *testing.T) {
	a := &fakeEngine{name: "a"}
	b := &fakeEngine{name: "b"}
	chain := NewChain(nil, nil, a, b)

	out := filepath.Join(t.TempDir(), "out.wav")
	engine, err := chain.Synthesize(context.Background(), "hello", "en", "", out, "")
	require.NoError(t, err)
	assert.Equal(t, "a", engine)
	assert.FileExists(t, out)
	assert.Zero(t, b.calls)
}

func TestChain_QuotaFallsThroughToNextEngine(t *testing.T) {
	a := &fakeEngine{name: "a", err: fmt.Errorf("quota exceeded (429)")}
	b := &fakeEngine{name: "b"}
	chain := NewChain(nil, nil, a, b)

	out := filepath.Join(t.TempDir(), "out.wav")
	engine, err := chain.Synthesize(context.Background(), "hello", "en", "", out, "")
	require.NoError(t, err)
	assert.Equal(t, "b", engine)
}

func TestChain_NonQuotaErrorPropagates(t *testing.T) {
	a := &fakeEngine{name: "a", err: fmt.Errorf("model crashed")}
	b := &fakeEngine{name: "b"}
	chain := NewChain(nil, nil, a, b)

	_, err := chain.Synthesize(context.Background(), "hello", "en", "", filepath.Join(t.TempDir(), "out.wav"), "")
	require.Error(t, err)
	assert.Zero(t, b.calls)
}

func TestChain_PinnedEngineTriedFirst(t *testing.T) {
	a := &fakeEngine{name: "a"}
	b := &fakeEngine{name: "b"}
	chain := NewChain(nil, nil, a, b)

	engine, err := chain.Synthesize(context.Background(), "hello", "en", "", filepath.Join(t.TempDir(), "out.wav"), "b")
	require.NoError(t, err)
	assert.Equal(t, "b", engine)
	assert.Zero(t, a.calls)
}

func TestSelectAuto_PrefersCloneCapableWhenCloning(t *testing.T) {
	preset := &fakeEngine{name: "preset"}
	cloner := &fakeEngine{name: "cloner", clone: true}
	chain := NewChain(nil, nil, preset, cloner)

	assert.Equal(t, "cloner", chain.SelectAuto(true).Name())
	assert.Equal(t, "preset", chain.SelectAuto(false).Name())
}

func TestChunkForSpeech_ShortTextSingleChunk(t *testing.T) {
	chunks := chunkForSpeech("hello world")
	require.Len(t, chunks, 1)
}

func TestChunkForSpeech_SplitsAtSentenceBoundaries(t *testing.T) {
	var b strings.Builder
	for b.Len() <= maxTTSChunkChars {
		b.WriteString("A short sentence for synthesis. ")
	}
	text := b.String()

	chunks := chunkForSpeech(text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxTTSChunkChars)
	}
}
