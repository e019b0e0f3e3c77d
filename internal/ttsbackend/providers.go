package ttsbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// LocalCloneProvider is a self-hosted voice-cloning TTS server (e.g. a
// CosyVoice/XTTS instance), grounded on the video-dubber other_example's
// CosyVoiceService field wired behind config.TTSProvider == "cosyvoice".
type LocalCloneProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewLocalCloneProvider(baseURL string) *LocalCloneProvider {
	return &LocalCloneProvider{BaseURL: baseURL, Client: &http.Client{Timeout: 5 * time.Minute}}
}

func (p *LocalCloneProvider) Name() string  { return "local_clone" }
func (p *LocalCloneProvider) CanClone() bool { return true }

func (p *LocalCloneProvider) Synthesize(ctx context.Context, text, language, voiceID, outputPath string) error {
	return postJSONToFile(ctx, p.Client, p.BaseURL+"/tts", map[string]any{
		"text": text, "language": language, "voice_id": voiceID,
	}, outputPath)
}

func (p *LocalCloneProvider) CloneVoice(ctx context.Context, sampleAudioPath string) (string, error) {
	data, err := os.ReadFile(sampleAudioPath)
	if err != nil {
		return "", fmt.Errorf("reading voice sample: %w", err)
	}
	reqBody := map[string]any{"sample_base64": data}
	payload, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/clone", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("clone request failed: %w", err)
	}
	defer resp.Body.Close()
	var parsed struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("parsing clone response: %w", err)
	}
	return parsed.VoiceID, nil
}

func (p *LocalCloneProvider) ReleaseVoice(ctx context.Context, voiceID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.BaseURL+"/voices/"+voiceID, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("release voice request failed: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// NetworkNeuralAProvider is a free, no-credential network neural TTS
// service (the Edge-TTS shape from the video-dubber other_example),
// selecting a preset voice by language rather than cloning.
type NetworkNeuralAProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewNetworkNeuralAProvider(baseURL string) *NetworkNeuralAProvider {
	return &NetworkNeuralAProvider{BaseURL: baseURL, Client: &http.Client{Timeout: 2 * time.Minute}}
}

func (p *NetworkNeuralAProvider) Name() string  { return "network_neural_a" }
func (p *NetworkNeuralAProvider) CanClone() bool { return false }

func (p *NetworkNeuralAProvider) Synthesize(ctx context.Context, text, language, voiceID, outputPath string) error {
	voice := voiceID
	if voice == "" {
		voice = defaultVoiceForLanguage(language)
	}
	return postJSONToFile(ctx, p.Client, p.BaseURL+"/synthesize", map[string]any{
		"text": text, "voice": voice,
	}, outputPath)
}

// LightweightLocalProvider is a CPU-only on-box neural TTS (a Piper-style
// engine), used as the no-credential fallback when no network reaches
// either local or hosted providers.
type LightweightLocalProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewLightweightLocalProvider(baseURL string) *LightweightLocalProvider {
	return &LightweightLocalProvider{BaseURL: baseURL, Client: &http.Client{Timeout: 2 * time.Minute}}
}

func (p *LightweightLocalProvider) Name() string  { return "lightweight_local" }
func (p *LightweightLocalProvider) CanClone() bool { return false }

func (p *LightweightLocalProvider) Synthesize(ctx context.Context, text, language, voiceID, outputPath string) error {
	return postJSONToFile(ctx, p.Client, p.BaseURL+"/tts", map[string]any{
		"text": text, "language": language,
	}, outputPath)
}

// HostedCloneProvider is a hosted voice-cloning API (ElevenLabs shape),
// requiring a credential and supporting the same clone/release lifecycle
// as LocalCloneProvider.
type HostedCloneProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewHostedCloneProvider(apiKey string) *HostedCloneProvider {
	return &HostedCloneProvider{
		APIKey:  apiKey,
		BaseURL: "https://api.elevenlabs.io/v1",
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (p *HostedCloneProvider) Name() string  { return "hosted_clone" }
func (p *HostedCloneProvider) CanClone() bool { return true }

func (p *HostedCloneProvider) Synthesize(ctx context.Context, text, language, voiceID, outputPath string) error {
	if p.APIKey == "" {
		return fmt.Errorf("missing api key for hosted_clone provider")
	}
	url := fmt.Sprintf("%s/text-to-speech/%s", p.BaseURL, voiceID)
	return postJSONToFileAuth(ctx, p.Client, url, "xi-api-key", p.APIKey, map[string]any{
		"text": text, "model_id": "eleven_multilingual_v2",
	}, outputPath)
}

func (p *HostedCloneProvider) CloneVoice(ctx context.Context, sampleAudioPath string) (string, error) {
	if p.APIKey == "" {
		return "", fmt.Errorf("missing api key for hosted_clone provider")
	}
	// The sample is sent as base64 bytes in a JSON body, the same shape as
	// this package's other hosted calls; no multipart upload is made.
	data, err := os.ReadFile(sampleAudioPath)
	if err != nil {
		return "", fmt.Errorf("reading voice sample: %w", err)
	}
	payload, _ := json.Marshal(map[string]any{"sample_base64": data, "name": "cloned-voice"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/voices/add", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.APIKey)
	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("clone request failed: %w", err)
	}
	defer resp.Body.Close()
	var parsed struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("parsing clone response: %w", err)
	}
	return parsed.VoiceID, nil
}

func (p *HostedCloneProvider) ReleaseVoice(ctx context.Context, voiceID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.BaseURL+"/voices/"+voiceID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", p.APIKey)
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("release voice request failed: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// HostedPresetProvider is a hosted, preset-voice-only TTS API (the
// video-dubber other_example's OpenAITTSService shape): a fixed catalog of
// voices selected by name, no cloning support.
type HostedPresetProvider struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewHostedPresetProvider(apiKey string) *HostedPresetProvider {
	return &HostedPresetProvider{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "tts-1",
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (p *HostedPresetProvider) Name() string  { return "hosted_preset" }
func (p *HostedPresetProvider) CanClone() bool { return false }

func (p *HostedPresetProvider) Synthesize(ctx context.Context, text, language, voiceID, outputPath string) error {
	if p.APIKey == "" {
		return fmt.Errorf("missing api key for hosted_preset provider")
	}
	voice := voiceID
	if voice == "" {
		voice = "alloy"
	}
	return postJSONToFileAuth(ctx, p.Client, p.BaseURL+"/audio/speech", "Authorization", "Bearer "+p.APIKey, map[string]any{
		"model": p.Model, "input": text, "voice": voice,
	}, outputPath)
}

func defaultVoiceForLanguage(language string) string {
	switch language {
	case "es":
		return "es-ES-AlvaroNeural"
	case "fr":
		return "fr-FR-HenriNeural"
	case "de":
		return "de-DE-ConradNeural"
	case "ja":
		return "ja-JP-KeitaNeural"
	default:
		return "en-US-GuyNeural"
	}
}

func postJSONToFile(ctx context.Context, client *http.Client, url string, body map[string]any, outputPath string) error {
	return postJSONToFileAuth(ctx, client, url, "", "", body, outputPath)
}

func postJSONToFileAuth(ctx context.Context, client *http.Client, url, authHeader, authValue string, body map[string]any, outputPath string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set(authHeader, authValue)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tts provider error (status %d): %s", resp.StatusCode, string(errBody))
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing synthesized audio: %w", err)
	}
	return nil
}
