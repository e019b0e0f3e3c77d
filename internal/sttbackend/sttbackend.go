// Package sttbackend defines the speech-to-text provider interface and
// the fallback chain the pipeline walks when a provider reports a quota
// or credential failure. Provider shapes are grounded on the teacher's
// adapters package (hosted JSON-mode multipart upload, local adapter
// device fallback) generalized from transcription-only output to the
// timestamped-segment contract the dubbing pipeline needs downstream.
package sttbackend

import (
	"context"
	"fmt"
	"strings"

	"videovoice/internal/apperr"
	"videovoice/internal/usage"
)

// Segment is one timestamped utterance recognized in the source audio.
type Segment struct {
	Start int     `json:"start_ms"`
	End   int     `json:"end_ms"`
	Text  string  `json:"text"`
}

// Result is the normalized output of any STT provider. Text always
// carries the full transcription; Segments may be empty when the provider
// could not produce usable timestamps — that is not an error here, the
// pipeline decides what an empty result means for its mode.
type Result struct {
	Language string    `json:"language"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// FullText returns the transcription text, reassembling it from segments
// when the provider only returned timestamped pieces.
func (r *Result) FullText() string {
	if r.Text != "" {
		return r.Text
	}
	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Provider transcribes an audio file into timestamped segments.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audioPath, language string) (*Result, error)
}

// Chain tries providers in order, falling through to the next on a
// recognized quota or credential error and recording usage as it goes.
type Chain struct {
	providers []Provider
	usage     *usage.Store
}

func NewChain(usageStore *usage.Store, providers ...Provider) *Chain {
	return &Chain{providers: providers, usage: usageStore}
}

// Transcribe runs the chain with the requested engine (if any) tried
// first, returning the first provider's success or the last provider's
// error if every provider is exhausted. engine "auto" or "" keeps the
// chain's default order.
func (c *Chain) Transcribe(ctx context.Context, audioPath, language, engine string) (*Result, string, error) {
	var lastErr error
	for _, p := range orderProviders(c.providers, engine) {
		result, err := p.Transcribe(ctx, audioPath, language)
		if c.usage != nil {
			_ = c.usage.RecordCall(p.Name(), usage.KindSTT)
		}
		if err == nil {
			return result, p.Name(), nil
		}
		lastErr = err
		kind := apperr.ClassifyProviderError(err)
		if kind == apperr.KindQuota && c.usage != nil {
			_ = c.usage.RecordQuotaExhaustion(p.Name(), usage.KindSTT)
		}
		if kind != apperr.KindQuota && kind != apperr.KindCredential {
			return nil, p.Name(), apperr.Wrap(kind, fmt.Sprintf("stt provider %s failed", p.Name()), err)
		}
		// quota/credential: fall through to next provider
	}
	if lastErr == nil {
		return nil, "", apperr.New(apperr.KindCredential, "no stt providers configured")
	}
	return nil, "", apperr.Wrap(apperr.KindQuota, "all stt providers exhausted", lastErr)
}

// orderProviders moves the named provider (when present) to the front of
// the traversal so a job's pinned engine is tried before the fallbacks.
func orderProviders(providers []Provider, preferred string) []Provider {
	if preferred == "" || preferred == "auto" {
		return providers
	}
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Name() == preferred {
			out = append(out, p)
		}
	}
	for _, p := range providers {
		if p.Name() != preferred {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeSegments drops segments with empty text or whose end is not
// after their start, so downstream translation and synthesis never see
// empty or zero-length utterances from a provider's boundary rounding.
// Segments are dropped, not merged into their neighbours.
func NormalizeSegments(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if s.Text == "" || s.End <= s.Start {
			continue
		}
		out = append(out, s)
	}
	return out
}
