// Package ttsbackend synthesizes speech for translated text across five
// interchangeable engines, with long-text chunking and a voice-cloning
// lifecycle. Grounded on the video-dubber other_example's provider-switch
// pipeline (whisper/translator/tts service fields selected by config) and
// the glow-tts TTSEngine interface (Synthesize/GetInfo/Validate/Close).
package ttsbackend

import (
	"context"
	"fmt"
	"os"

	"videovoice/internal/apperr"
	"videovoice/internal/mediaops"
	"videovoice/internal/usage"
)

// maxTTSChunkChars bounds a single synthesis call; longer text is split
// and the resulting clips concatenated by mediaops.
const maxTTSChunkChars = 1000

// Engine synthesizes text into a wav file at outputPath.
type Engine interface {
	Name() string
	CanClone() bool
	Synthesize(ctx context.Context, text, language, voiceID, outputPath string) error
}

// VoiceCloner is implemented by engines that create a temporary cloned
// voice resource that must be released after the job completes.
type VoiceCloner interface {
	CloneVoice(ctx context.Context, sampleAudioPath string) (voiceID string, err error)
	ReleaseVoice(ctx context.Context, voiceID string) error
}

// Chain tries engines in their configured order (with a pinned engine
// moved to the front and the rest kept as fallbacks), falling through on
// quota/credential failures.
type Chain struct {
	engines []Engine
	usage   *usage.Store
	media   *mediaops.Ops
}

func NewChain(usageStore *usage.Store, media *mediaops.Ops, engines ...Engine) *Chain {
	return &Chain{engines: engines, usage: usageStore, media: media}
}

// SelectAuto picks the first clone-capable engine when needsClone is true,
// otherwise the first non-cloning engine, and falls back to the first
// engine when none matches. Synthesize does not use it: an "auto" engine
// setting keeps the configured order.
func (c *Chain) SelectAuto(needsClone bool) Engine {
	for _, e := range c.engines {
		if e.CanClone() == needsClone {
			return e
		}
	}
	if len(c.engines) > 0 {
		return c.engines[0]
	}
	return nil
}

// Synthesize runs chunked synthesis through the fallback chain, writing
// outputPath as the final concatenated audio.
func (c *Chain) Synthesize(ctx context.Context, text, language, voiceID, outputPath, engine string) (string, error) {
	chunks := chunkForSpeech(text)
	if len(chunks) == 1 {
		return c.synthesizeOne(ctx, chunks[0], language, voiceID, outputPath, engine)
	}

	partPaths := make([]string, 0, len(chunks))
	defer func() {
		for _, p := range partPaths {
			os.Remove(p)
		}
	}()

	var usedEngine string
	for i, chunk := range chunks {
		partPath := fmt.Sprintf("%s.part%d.wav", outputPath, i)
		used, err := c.synthesizeOne(ctx, chunk, language, voiceID, partPath, engine)
		if err != nil {
			return "", err
		}
		usedEngine = used
		partPaths = append(partPaths, partPath)
	}

	if err := concatWavParts(ctx, c.media, partPaths, outputPath); err != nil {
		return "", fmt.Errorf("concatenating synthesized chunks: %w", err)
	}
	return usedEngine, nil
}

func (c *Chain) synthesizeOne(ctx context.Context, text, language, voiceID, outputPath, engine string) (string, error) {
	var lastErr error
	for _, e := range orderEngines(c.engines, engine) {
		err := e.Synthesize(ctx, text, language, voiceID, outputPath)
		if c.usage != nil {
			_ = c.usage.RecordCall(e.Name(), usage.KindTTS)
		}
		if err == nil {
			return e.Name(), nil
		}
		lastErr = err
		kind := apperr.ClassifyProviderError(err)
		if kind == apperr.KindQuota && c.usage != nil {
			_ = c.usage.RecordQuotaExhaustion(e.Name(), usage.KindTTS)
		}
		if kind != apperr.KindQuota && kind != apperr.KindCredential {
			return "", apperr.Wrap(kind, fmt.Sprintf("tts engine %s failed", e.Name()), err)
		}
	}
	if lastErr == nil {
		return "", apperr.New(apperr.KindCredential, "no tts engines configured")
	}
	return "", apperr.Wrap(apperr.KindQuota, "all tts engines exhausted", lastErr)
}

// orderEngines moves the named engine (when present) to the front so a
// job's pinned engine is tried before the fallbacks.
func orderEngines(engines []Engine, preferred string) []Engine {
	if preferred == "" || preferred == "auto" {
		return engines
	}
	out := make([]Engine, 0, len(engines))
	for _, e := range engines {
		if e.Name() == preferred {
			out = append(out, e)
		}
	}
	for _, e := range engines {
		if e.Name() != preferred {
			out = append(out, e)
		}
	}
	return out
}

// chunkForSpeech splits text at sentence boundaries under
// maxTTSChunkChars so no single synthesis call exceeds engine-side text
// limits.
func chunkForSpeech(text string) []string {
	if len(text) <= maxTTSChunkChars {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > maxTTSChunkChars {
		cut := maxTTSChunkChars
		for i := maxTTSChunkChars; i > maxTTSChunkChars/2; i-- {
			if remaining[i-1] == '.' || remaining[i-1] == '!' || remaining[i-1] == '?' {
				cut = i
				break
			}
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func concatWavParts(ctx context.Context, media *mediaops.Ops, parts []string, outputPath string) error {
	return media.ConcatAudio(ctx, parts, outputPath)
}
