package sttbackend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videovoice/internal/mediaops"
)

const maxHostedUploadBytes = 25 * 1024 * 1024 // 25MB, hosted provider B's hard cap

// LocalProvider talks to a self-hosted, OpenAI-compatible transcription
// server (e.g. a local faster-whisper server), grounded on the teacher's
// local-adapter pattern of pointing at a loopback URL with no API key.
type LocalProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewLocalProvider(baseURL string) *LocalProvider {
	return &LocalProvider{BaseURL: baseURL, Client: &http.Client{Timeout: 10 * time.Minute}}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Transcribe(ctx context.Context, audioPath, language string) (*Result, error) {
	return postMultipartVerbose(ctx, p.Client, p.BaseURL+"/v1/audio/transcriptions", "", audioPath, language, "whisper-1")
}

// HostedAProvider is a general LLM audio endpoint (chat completion with an
// audio content part) asked to reply in JSON. LLMs are less disciplined
// than dedicated STT APIs, so the reply is fence-stripped, the first JSON
// object is extracted from surrounding prose, and an unparseable reply
// degrades to full text with no segments rather than an error. Grounded
// on openai_adapter.go's JSON-mode transcription branch.
type HostedAProvider struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewHostedAProvider(apiKey string) *HostedAProvider {
	return &HostedAProvider{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com",
		Model:   "gpt-4o-audio-preview",
		Client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *HostedAProvider) Name() string { return "hosted_a" }

func (p *HostedAProvider) Transcribe(ctx context.Context, audioPath, language string) (*Result, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("missing api key for hosted_a provider")
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("reading audio file: %w", err)
	}

	prompt := "Transcribe this audio. Reply with only JSON: " +
		`{"text": "<full transcription>", "segments": [{"start": <sec>, "end": <sec>, "text": "<utterance>"}]}`
	if language != "" && language != "auto" {
		prompt += " The audio is in language " + language + "."
	}

	reqBody := map[string]any{
		"model":      p.Model,
		"modalities": []string{"text"},
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "input_audio", "input_audio": map[string]string{
						"data":   base64.StdEncoding.EncodeToString(audio),
						"format": "wav",
					}},
				},
			},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hosted_a provider error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("hosted_a provider returned no choices")
	}
	return parseLLMTranscription(parsed.Choices[0].Message.Content), nil
}

// parseLLMTranscription recovers a Result from an LLM's reply: markdown
// fences stripped, the first {...} block extracted; if no JSON can be
// recovered the whole reply becomes the transcription text with no
// segments.
func parseLLMTranscription(reply string) *Result {
	cleaned := stripMarkdownFences(reply)

	candidate := cleaned
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			candidate = cleaned[start : end+1]
		}
	}

	var parsed struct {
		Text     string `json:"text"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil || (parsed.Text == "" && len(parsed.Segments) == 0) {
		return &Result{Text: strings.TrimSpace(cleaned)}
	}

	segments := make([]Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		segments = append(segments, Segment{
			Start: int(s.Start * 1000),
			End:   int(s.End * 1000),
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return &Result{Text: parsed.Text, Segments: NormalizeSegments(segments)}
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// HostedBProvider enforces a 25MB request cap; files larger than that are
// transparently compressed to a lower-bitrate opus before upload.
type HostedBProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	Media   *mediaops.Ops
}

func NewHostedBProvider(apiKey string, media *mediaops.Ops) *HostedBProvider {
	return &HostedBProvider{
		APIKey:  apiKey,
		BaseURL: "https://api.groq.com/openai",
		Client:  &http.Client{Timeout: 10 * time.Minute},
		Media:   media,
	}
}

func (p *HostedBProvider) Name() string { return "hosted_b" }

func (p *HostedBProvider) Transcribe(ctx context.Context, audioPath, language string) (*Result, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("missing api key for hosted_b provider")
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("stat audio input: %w", err)
	}
	uploadPath := audioPath
	if info.Size() > maxHostedUploadBytes {
		compressed := audioPath + ".compressed.ogg"
		if err := p.compress(ctx, audioPath, compressed); err != nil {
			return nil, fmt.Errorf("compressing oversized audio for hosted_b: %w", err)
		}
		defer os.Remove(compressed)
		uploadPath = compressed
	}
	return postMultipartVerbose(ctx, p.Client, p.BaseURL+"/v1/audio/transcriptions", p.APIKey, uploadPath, language, "whisper-large-v3")
}

func (p *HostedBProvider) compress(ctx context.Context, input, output string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	// Re-encode at a low-bitrate opus to shrink under the 25MB cap while
	// keeping enough fidelity for speech recognition.
	return p.Media.ExtractAudio(ctx, input, output, 2*time.Minute)
}

// HostedCProvider uses the same multipart verbose_json transcription call
// as HostedB and the local provider, with its own model name.
type HostedCProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewHostedCProvider(apiKey string) *HostedCProvider {
	return &HostedCProvider{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com",
		Client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *HostedCProvider) Name() string { return "hosted_c" }

func (p *HostedCProvider) Transcribe(ctx context.Context, audioPath, language string) (*Result, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("missing api key for hosted_c provider")
	}
	return postMultipartVerbose(ctx, p.Client, p.BaseURL+"/v1/audio/transcriptions", p.APIKey, audioPath, language, "gpt-4o-transcribe")
}

// postMultipartVerbose is the shared request/response shape of the local,
// hosted_b, and hosted_c providers: multipart file upload, verbose_json
// response with segment timestamps.
func postMultipartVerbose(ctx context.Context, client *http.Client, url, apiKey, audioPath, language, model string) (*Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("opening audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copying audio into request: %w", err)
	}
	_ = writer.WriteField("model", model)
	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("timestamp_granularities[]", "segment")
	if language != "" && language != "auto" {
		_ = writer.WriteField("language", language)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Language string `json:"language"`
		Text     string `json:"text"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing verbose_json response: %w", err)
	}

	segments := make([]Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		segments = append(segments, Segment{
			Start: int(s.Start * 1000),
			End:   int(s.End * 1000),
			Text:  s.Text,
		})
	}
	return &Result{Language: parsed.Language, Text: parsed.Text, Segments: NormalizeSegments(segments)}, nil
}
