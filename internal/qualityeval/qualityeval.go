// Package qualityeval scores a translation with an LLM judge against a
// four-axis rubric, sampling front/middle/end thirds of long inputs
// rather than sending the whole text, averaging two independent judging
// passes, and recovering a usable verdict even when the judge's response
// is truncated mid-JSON. Grounded on the teacher's llm-call-then-parse-
// JSON pattern in its summarization handlers.
package qualityeval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"videovoice/internal/apperr"
	"videovoice/internal/usage"
)

// sampleThreshold is the character count above which qualityeval samples
// front/middle/end windows instead of scoring the whole text.
const sampleThreshold = 10000
const sampleTotal = 10000 // total sampled characters, split across the three windows

const (
	RecommendApproved     = "APPROVED"
	RecommendReviewNeeded = "REVIEW_NEEDED"
	RecommendReject       = "REJECT"
)

// Breakdown is the four-axis rubric score, each 0-100.
type Breakdown struct {
	Accuracy    float64 `json:"accuracy"`
	Naturalness float64 `json:"naturalness"`
	DubbingFit  float64 `json:"dubbing_fit"`
	Consistency float64 `json:"consistency"`
}

// Verdict is one evaluation's resolved result: the two-pass average.
type Verdict struct {
	OverallScore   int       `json:"overall_score"`
	Breakdown      Breakdown `json:"breakdown"`
	Issues         []string  `json:"issues"`
	Recommendation string    `json:"recommendation"`

	SampledFront bool `json:"-"`
	SampledMid   bool `json:"-"`
	SampledEnd   bool `json:"-"`
}

// rawVerdict is one judge call's raw parsed response, before averaging.
type rawVerdict struct {
	OverallScore float64   `json:"overall_score"`
	Breakdown    Breakdown `json:"breakdown"`
	Issues       []string  `json:"issues"`
}

// Provider calls an LLM judge and returns its raw text response.
type Provider interface {
	Name() string
	Judge(ctx context.Context, prompt string) (string, error)
}

// Chain runs the primary provider twice and falls through to a fallback
// provider only when the primary reports quota exhaustion.
type Chain struct {
	providers []Provider
	usage     *usage.Store
}

func NewChain(usageStore *usage.Store, providers ...Provider) *Chain {
	return &Chain{providers: providers, usage: usageStore}
}

// Evaluate scores sourceText/translatedText for the src->tgt pair. The
// primary provider (providers[0]) is invoked twice and the two passes
// averaged; if it reports quota exhaustion the next provider is tried
// once, with no averaging.
func (c *Chain) Evaluate(ctx context.Context, sourceText, translatedText, src, tgt string) (*Verdict, string, error) {
	sampledFront, sampledMid, sampledEnd := false, false, false
	srcSample, tgtSample := sourceText, translatedText
	if len(sourceText) > sampleThreshold {
		srcSample = sampleWindows(sourceText)
		tgtSample = sampleWindows(translatedText)
		sampledFront, sampledMid, sampledEnd = true, true, true
	}

	prompt := judgePrompt(srcSample, tgtSample, src, tgt)

	if len(c.providers) == 0 {
		return nil, "", apperr.New(apperr.KindCredential, "no quality judge providers configured")
	}

	primary := c.providers[0]
	var passes []rawVerdict
	for i := 0; i < 2; i++ {
		raw, err := primary.Judge(ctx, prompt)
		if c.usage != nil {
			_ = c.usage.RecordCall(primary.Name(), usage.KindQuality)
		}
		if err != nil {
			kind := apperr.ClassifyProviderError(err)
			if kind != apperr.KindQuota {
				return nil, primary.Name(), apperr.Wrap(kind, fmt.Sprintf("quality provider %s failed", primary.Name()), err)
			}
			if c.usage != nil {
				_ = c.usage.RecordQuotaExhaustion(primary.Name(), usage.KindQuality)
			}
			passes = nil
			break
		}
		rv, perr := parseVerdict(raw)
		if perr != nil {
			return nil, primary.Name(), perr
		}
		passes = append(passes, *rv)
	}

	if len(passes) == 2 {
		v := averageVerdict(passes)
		v.SampledFront, v.SampledMid, v.SampledEnd = sampledFront, sampledMid, sampledEnd
		return v, primary.Name(), nil
	}

	if len(c.providers) < 2 {
		return nil, primary.Name(), apperr.New(apperr.KindQuota, "primary quality judge exhausted, no fallback configured")
	}
	fallback := c.providers[1]
	raw, err := fallback.Judge(ctx, prompt)
	if c.usage != nil {
		_ = c.usage.RecordCall(fallback.Name(), usage.KindQuality)
	}
	if err != nil {
		return nil, fallback.Name(), apperr.Wrap(apperr.ClassifyProviderError(err), fmt.Sprintf("fallback quality provider %s failed", fallback.Name()), err)
	}
	rv, perr := parseVerdict(raw)
	if perr != nil {
		return nil, fallback.Name(), perr
	}
	v := finalizeVerdict(*rv)
	v.SampledFront, v.SampledMid, v.SampledEnd = sampledFront, sampledMid, sampledEnd
	return v, fallback.Name(), nil
}

func averageVerdict(passes []rawVerdict) *Verdict {
	var acc, nat, fit, cons float64
	var issues []string
	for _, p := range passes {
		acc += p.Breakdown.Accuracy
		nat += p.Breakdown.Naturalness
		fit += p.Breakdown.DubbingFit
		cons += p.Breakdown.Consistency
		issues = append(issues, p.Issues...)
	}
	n := float64(len(passes))
	merged := rawVerdict{
		Breakdown: Breakdown{
			Accuracy:    acc / n,
			Naturalness: nat / n,
			DubbingFit:  fit / n,
			Consistency: cons / n,
		},
		Issues: dedupeIssues(issues),
	}
	return finalizeVerdict(merged)
}

// finalizeVerdict computes the weighted overall score and recommendation
// band from a breakdown, per spec: 0.4 accuracy + 0.3 naturalness + 0.2
// dubbing_fit + 0.1 consistency, rounded.
func finalizeVerdict(rv rawVerdict) *Verdict {
	overall := 0.4*rv.Breakdown.Accuracy + 0.3*rv.Breakdown.Naturalness + 0.2*rv.Breakdown.DubbingFit + 0.1*rv.Breakdown.Consistency
	rounded := int(overall + 0.5)

	recommendation := RecommendReviewNeeded
	if rounded >= 85 {
		recommendation = RecommendApproved
	} else if rounded < 60 {
		recommendation = RecommendReject
	}

	issues := rv.Issues
	if len(issues) > 5 {
		issues = issues[:5]
	}

	return &Verdict{
		OverallScore:   rounded,
		Breakdown:      rv.Breakdown,
		Issues:         issues,
		Recommendation: recommendation,
	}
}

// dedupeIssues union-deduplicates issue strings on a normalized prefix so
// two passes reporting the same problem with slightly different wording
// collapse to one entry.
func dedupeIssues(issues []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, issue := range issues {
		prefix := normalizedPrefix(issue)
		if prefix == "" || seen[prefix] {
			continue
		}
		seen[prefix] = true
		out = append(out, issue)
	}
	sort.Strings(out)
	return out
}

func normalizedPrefix(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	const prefixLen = 24
	if len(s) > prefixLen {
		s = s[:prefixLen]
	}
	return s
}

func sampleWindows(text string) string {
	windowSize := sampleTotal / 3
	if len(text) <= sampleTotal {
		return text
	}
	front := text[:windowSize]
	midStart := len(text)/2 - windowSize/2
	mid := text[midStart : midStart+windowSize]
	end := text[len(text)-windowSize:]
	return front + "\n[…중략…]\n" + mid + "\n[…중략…]\n" + end
}

func judgePrompt(src, tgt, srcLang, tgtLang string) string {
	return fmt.Sprintf(
		`Score this %s to %s translation on four axes from 0 to 100: accuracy, naturalness, dubbing_fit (timing/register suitability for spoken dubbing), and consistency (terminology/tone). Any cut-off sentence caps accuracy at 70. List up to 5 concrete issues.
Respond with only JSON: {"overall_score": <int>, "breakdown": {"accuracy": <int>, "naturalness": <int>, "dubbing_fit": <int>, "consistency": <int>}, "issues": [<string>, ...], "recommendation": "APPROVED"|"REVIEW_NEEDED"|"REJECT"}.

Source:
%s

Translation:
%s`, srcLang, tgtLang, src, tgt)
}

var (
	truncatedOverallRe     = regexp.MustCompile(`"overall_score"\s*:\s*(\d+(?:\.\d+)?)`)
	truncatedAccuracyRe    = regexp.MustCompile(`"accuracy"\s*:\s*(\d+(?:\.\d+)?)`)
	truncatedNaturalnessRe = regexp.MustCompile(`"naturalness"\s*:\s*(\d+(?:\.\d+)?)`)
	truncatedDubbingFitRe  = regexp.MustCompile(`"dubbing_fit"\s*:\s*(\d+(?:\.\d+)?)`)
	truncatedConsistencyRe = regexp.MustCompile(`"consistency"\s*:\s*(\d+(?:\.\d+)?)`)
	truncatedIssuesBlockRe = regexp.MustCompile(`"issues"\s*:\s*\[`)
	truncatedIssueItemRe   = regexp.MustCompile(`"([^"]{2,200})"`)
)

// parseVerdict parses the judge's JSON response, falling back to a
// regexp-based recovery when the response was truncated mid-object (a
// common failure mode when a provider hits its own output token cap).
func parseVerdict(raw string) (*rawVerdict, error) {
	var v rawVerdict
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		if v.OverallScore == 0 && v.Breakdown == (Breakdown{}) {
			return nil, fmt.Errorf("judge response parsed but carried no score: %q", raw)
		}
		return &v, nil
	}

	breakdown := Breakdown{
		Accuracy:    extractFloat(truncatedAccuracyRe, raw),
		Naturalness: extractFloat(truncatedNaturalnessRe, raw),
		DubbingFit:  extractFloat(truncatedDubbingFitRe, raw),
		Consistency: extractFloat(truncatedConsistencyRe, raw),
	}
	if breakdown == (Breakdown{}) {
		match := truncatedOverallRe.FindStringSubmatch(raw)
		if match == nil {
			return nil, fmt.Errorf("could not recover a score from judge response: %q", raw)
		}
		score := parseFloatOrZero(match[1])
		breakdown = Breakdown{Accuracy: score, Naturalness: score, DubbingFit: score, Consistency: score}
	}

	var issues []string
	if loc := truncatedIssuesBlockRe.FindStringIndex(raw); loc != nil {
		for _, m := range truncatedIssueItemRe.FindAllStringSubmatch(raw[loc[1]:], -1) {
			issues = append(issues, m[1])
		}
	}

	return &rawVerdict{Breakdown: breakdown, Issues: issues}, nil
}

func extractFloat(re *regexp.Regexp, s string) float64 {
	match := re.FindStringSubmatch(s)
	if match == nil {
		return 0
	}
	return parseFloatOrZero(match[1])
}

func parseFloatOrZero(s string) float64 {
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return 0
	}
	return f
}

// HTTPProvider is a simple chat-completion-backed judge implementation
// shared across whichever LLM endpoint is configured as primary/fallback.
type HTTPProvider struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewHTTPProvider(name, apiKey, baseURL, model string) *HTTPProvider {
	return &HTTPProvider{name: name, apiKey: apiKey, baseURL: baseURL, model: model, client: &http.Client{Timeout: 2 * time.Minute}}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Judge(ctx context.Context, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("missing api key for quality judge %s", p.name)
	}
	reqBody := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading judge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// the status code must survive into the error text so quota
		// responses classify as quota and trigger the fallback judge
		return "", fmt.Errorf("quality judge %s error (status %d): %s", p.name, resp.StatusCode, string(body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing judge response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("judge %s returned no choices", p.name)
	}
	return parsed.Choices[0].Message.Content, nil
}
