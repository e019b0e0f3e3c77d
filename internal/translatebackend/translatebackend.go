// Package translatebackend turns source-language text (whole transcripts
// or per-segment utterances) into target-language text through one of
// several interchangeable providers, with chunking for long inputs and a
// quota/credential fallback chain. Grounded on the teacher's
// provider-agnostic llm.Service interface and its OpenAI/Ollama client
// shapes.
package translatebackend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"videovoice/internal/apperr"
	"videovoice/internal/usage"
)

// chunkThreshold and chunkTarget control long-input handling: inputs over
// chunkThreshold characters are split into chunkTarget-sized pieces at
// sentence boundaries so providers with smaller context windows still see
// coherent prose.
const (
	chunkThreshold = 8000
	chunkTarget    = 6000
)

// shortResultFraction triggers a one-shot retry when a chunk's translation
// comes back suspiciously short relative to its source.
const shortResultFraction = 0.4

// Retry budgets for transient provider errors, with 2^n-second backoff.
const (
	translateAttempts = 3
	refineAttempts    = 2
)

// Provider completes a system-prompt/user-text pair. All higher-level
// operations (translate, refine, batch segments) are prompt-shaping over
// this one call.
type Provider interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)
}

// Chain walks providers in order, falling through on quota/credential
// failures and retrying transient ones with exponential backoff.
type Chain struct {
	providers []Provider
	usage     *usage.Store
	sleep     func(time.Duration) // swapped in tests
}

func NewChain(usageStore *usage.Store, providers ...Provider) *Chain {
	return &Chain{providers: providers, usage: usageStore, sleep: time.Sleep}
}

// Translate runs the whole-text path, chunking long inputs and
// reassembling the result with newlines. A chunk whose translation is
// shorter than shortResultFraction of its source is retried once and the
// longer result kept.
func (c *Chain) Translate(ctx context.Context, text, src, tgt, syncMode, engine string) (string, string, error) {
	text = SanitizeInput(text)
	prompt := translateSystemPrompt(src, tgt, syncMode)

	chunks := chunkText(text)
	results := make([]string, 0, len(chunks))
	var usedProvider string
	for _, chunk := range chunks {
		result, provider, err := c.dispatch(ctx, prompt, chunk, translateAttempts, engine)
		if err != nil {
			return "", "", err
		}
		if float64(len(result)) < shortResultFraction*float64(len(chunk)) {
			retry, _, rerr := c.dispatch(ctx, prompt, chunk, translateAttempts, engine)
			if rerr == nil && len(retry) > len(result) {
				result = retry
			}
		}
		usedProvider = provider
		results = append(results, result)
	}
	return strings.Join(results, "\n"), usedProvider, nil
}

// TranslateRaw completes userText under a caller-supplied system prompt,
// with no chunking or prompt shaping.
func (c *Chain) TranslateRaw(ctx context.Context, userText, systemPrompt, engine string) (string, string, error) {
	return c.dispatch(ctx, systemPrompt, userText, translateAttempts, engine)
}

// Refine produces an improved translation of original given the prior
// translated text and the reviewer's issues. Long pairs are split
// length-proportionally so each call sees a matching source/translation
// window.
func (c *Chain) Refine(ctx context.Context, original, translated, src, tgt string, issues []string, syncMode, engine string) (string, string, error) {
	prompt := refineSystemPrompt(src, tgt, syncMode, issues)

	if len(original) <= chunkThreshold {
		return c.dispatch(ctx, prompt, refineUserText(original, translated), refineAttempts, engine)
	}

	origChunks := chunkText(original)
	transChunks := splitProportionally(translated, origChunks)
	results := make([]string, 0, len(origChunks))
	var usedProvider string
	for i, oc := range origChunks {
		tc := ""
		if i < len(transChunks) {
			tc = transChunks[i]
		}
		result, provider, err := c.dispatch(ctx, prompt, refineUserText(oc, tc), refineAttempts, engine)
		if err != nil {
			return "", "", err
		}
		usedProvider = provider
		results = append(results, result)
	}
	return strings.Join(results, "\n"), usedProvider, nil
}

// dispatch tries each provider in order. Transient errors are retried
// against the same provider with 2^n-second backoff; quota and credential
// errors fall through to the next provider; anything else propagates.
func (c *Chain) dispatch(ctx context.Context, systemPrompt, userText string, attempts int, engine string) (string, string, error) {
	var lastErr error
	for _, p := range orderProviders(c.providers, engine) {
		result, err := c.completeWithRetry(ctx, p, systemPrompt, userText, attempts)
		if c.usage != nil {
			_ = c.usage.RecordCall(p.Name(), usage.KindTranslate)
		}
		if err == nil {
			return sanitizeOutput(result), p.Name(), nil
		}
		lastErr = err
		kind := apperr.ClassifyProviderError(err)
		if kind == apperr.KindQuota && c.usage != nil {
			_ = c.usage.RecordQuotaExhaustion(p.Name(), usage.KindTranslate)
		}
		if kind != apperr.KindQuota && kind != apperr.KindCredential {
			return "", p.Name(), apperr.Wrap(kind, fmt.Sprintf("translate provider %s failed", p.Name()), err)
		}
	}
	if lastErr == nil {
		return "", "", apperr.New(apperr.KindCredential, "no translation providers configured")
	}
	return "", "", apperr.Wrap(apperr.KindQuota, "all translation providers exhausted", lastErr)
}

// orderProviders moves the named provider (when present) to the front so
// a job's pinned engine is tried before the fallbacks; "auto" and ""
// keep the default order.
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

func (c *Chain) completeWithRetry(ctx context.Context, p Provider, systemPrompt, userText string, attempts int) (string, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.sleep(time.Duration(1<<attempt) * time.Second)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}
		result, err := p.Complete(ctx, systemPrompt, userText)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if apperr.ClassifyProviderError(err) != apperr.KindTransient {
			return "", err
		}
	}
	return "", lastErr
}

// chunkText splits text at sentence boundaries once it exceeds
// chunkThreshold, targeting chunkTarget-sized pieces.
func chunkText(text string) []string {
	if len(text) <= chunkThreshold {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > chunkTarget {
		cut := chunkTarget
		if idx := strings.LastIndexAny(remaining[:cut], ".!?\n"); idx > chunkTarget/2 {
			cut = idx + 1
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// splitProportionally divides text into len(reference) pieces whose sizes
// mirror the reference chunks' share of their total, cutting at the
// nearest following whitespace so words stay whole.
func splitProportionally(text string, reference []string) []string {
	if len(reference) <= 1 {
		return []string{text}
	}
	total := 0
	for _, r := range reference {
		total += len(r)
	}
	if total == 0 {
		return []string{text}
	}

	out := make([]string, 0, len(reference))
	remaining := text
	for i := 0; i < len(reference)-1; i++ {
		cut := len(remaining) * len(reference[i]) / total
		if cut >= len(remaining) {
			cut = len(remaining)
		} else if idx := strings.IndexAny(remaining[cut:], " \n"); idx >= 0 {
			cut += idx + 1
		}
		out = append(out, remaining[:cut])
		remaining = remaining[cut:]
		total -= len(reference[i])
	}
	return append(out, remaining)
}
