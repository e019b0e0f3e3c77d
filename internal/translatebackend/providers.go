package translatebackend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LocalProvider is an OpenAI-compatible chat server (e.g. a local Ollama
// instance) reached over loopback, grounded on the teacher's
// llm.OpenAIService pointed at a custom baseURL, with streaming enabled
// the way the teacher's ChatCompletionStream consumes SSE chunks.
type LocalProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewLocalProvider(baseURL, model string) *LocalProvider {
	if model == "" {
		model = "llama3.1"
	}
	return &LocalProvider{BaseURL: baseURL, Model: model, Client: &http.Client{Timeout: 15 * time.Minute}}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	reqBody := map[string]any{
		"model":  p.Model,
		"stream": true,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userText},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("local translate provider error (status %d): %s", resp.StatusCode, string(body))
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			out.WriteString(c.Delta.Content)
		}
	}
	return out.String(), nil
}

// HostedAProvider places instructions in a dedicated system_instruction
// field rather than a chat message (the Gemini-style generateContent
// shape), distinct from HostedB's chat-message-array shape.
type HostedAProvider struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewHostedAProvider(apiKey string) *HostedAProvider {
	return &HostedAProvider{
		APIKey:  apiKey,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:   "gemini-1.5-flash",
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *HostedAProvider) Name() string { return "hosted_a" }

func (p *HostedAProvider) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	if p.APIKey == "" {
		return "", fmt.Errorf("missing api key for hosted_a provider")
	}
	reqBody := map[string]any{
		"system_instruction": map[string]any{
			"parts": []map[string]string{{"text": systemPrompt}},
		},
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": userText}}},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.BaseURL, p.Model, p.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hosted_a provider error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("hosted_a provider returned no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// HostedBProvider is a chat-message-array provider (Groq's OpenAI-
// compatible endpoint), mirroring the teacher's ChatRequest/ChatResponse
// shape directly.
type HostedBProvider struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewHostedBProvider(apiKey string) *HostedBProvider {
	return &HostedBProvider{
		APIKey:  apiKey,
		BaseURL: "https://api.groq.com/openai/v1",
		Model:   "llama-3.3-70b-versatile",
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *HostedBProvider) Name() string { return "hosted_b" }

func (p *HostedBProvider) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	if p.APIKey == "" {
		return "", fmt.Errorf("missing api key for hosted_b provider")
	}
	reqBody := map[string]any{
		"model": p.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userText},
		},
		"temperature": 0.3,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hosted_b provider error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("hosted_b provider returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
