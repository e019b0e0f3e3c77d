// Package api is the HTTP control plane: job admission, observation,
// cancellation, artifact download, and the system status snapshot. The
// multipart-then-enqueue shape follows the teacher's transcription submit
// flow, with admission hardened per this service's validation rules.
package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"videovoice/internal/config"
	"videovoice/internal/jobmanager"
	"videovoice/internal/models"
	"videovoice/internal/pathsafety"
	"videovoice/internal/systeminfo"
	"videovoice/internal/usage"
	"videovoice/pkg/logger"
)

// uploadChunkSize is the streaming copy buffer for saving uploads.
const uploadChunkSize = 1 << 20

// logsTailLen bounds the log slice returned in job views.
const logsTailLen = 50

// allowedLanguages is the language allow-list for both source and target;
// "auto" is additionally accepted as a source.
var allowedLanguages = map[string]bool{
	"en": true, "ko": true, "ja": true, "zh": true, "es": true,
	"fr": true, "de": true, "ru": true, "pt": true, "it": true,
}

var allowedSTTEngines = map[string]bool{
	"auto": true, "local": true, "hosted_a": true, "hosted_b": true, "hosted_c": true,
}

var allowedTranslateEngines = map[string]bool{
	"auto": true, "local": true, "hosted_a": true, "hosted_b": true,
}

var allowedTTSEngines = map[string]bool{
	"auto": true, "local_clone": true, "network_neural_a": true,
	"lightweight_local": true, "hosted_clone": true, "hosted_preset": true,
}

// Handler carries the control plane's dependencies.
type Handler struct {
	cfg      *config.Config
	manager  *jobmanager.Manager
	registry *jobmanager.Registry
	usage    *usage.Store
}

func NewHandler(cfg *config.Config, manager *jobmanager.Manager, registry *jobmanager.Registry, usageStore *usage.Store) *Handler {
	return &Handler{cfg: cfg, manager: manager, registry: registry, usage: usageStore}
}

// jobView is the wire shape of a job: the job itself with its logs
// clipped to a tail.
type jobView struct {
	*models.Job
	Logs []models.LogEntry `json:"logs,omitempty"`
}

func viewOf(job *models.Job) jobView {
	logs := job.Logs
	if len(logs) > logsTailLen {
		logs = logs[len(logs)-logsTailLen:]
	}
	return jobView{Job: job, Logs: logs}
}

// HealthCheck godoc
// @Summary Health check
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateJob godoc
// @Summary Create a dubbing or subtitle job
// @Description Upload a media file with per-job settings; the job is processed in the background
// @Tags jobs
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Audio or video file"
// @Param source_lang formData string false "Source language code or auto"
// @Param target_lang formData string true "Target language code"
// @Param mode formData string false "dubbing or subtitle"
// @Param sync_mode formData string false "optimize, speed_audio, or stretch"
// @Success 200 {object} models.Job
// @Failure 400 {object} map[string]string
// @Failure 413 {object} map[string]string
// @Failure 429 {object} map[string]string
// @Router /jobs [post]
// @Security ApiKeyAuth
func (h *Handler) CreateJob(c *gin.Context) {
	settings, err := h.parseSettings(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}
	if err := pathsafety.SanitizeFilename(filepath.Base(header.Filename)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := pathsafety.CheckExtension(header.Filename); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if header.Size > h.cfg.MaxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds the %d byte limit", h.cfg.MaxFileSize)})
		return
	}
	if settings.Mode == models.ModeSubtitle && isAudioExtension(header.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subtitle mode requires a video input"})
		return
	}

	if missing := h.missingCredentials(settings); len(missing) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":        "selected engines require credentials that are not configured",
			"missing_keys": missing,
		})
		return
	}

	savedPath, err := h.saveUpload(header)
	if err != nil {
		logger.Error("Failed to save upload", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save uploaded file"})
		return
	}

	if h.activeJobs() >= h.cfg.MaxConcurrentJobs {
		_ = os.Remove(savedPath)
		logger.AdmissionEvent("concurrency_cap", c.ClientIP(), false)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many active jobs, retry later"})
		return
	}

	job := models.NewJob(savedPath, settings)
	job.InputFilename = filepath.Base(header.Filename)
	if err := h.manager.Submit(job); err != nil {
		_ = os.Remove(savedPath)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not enqueue job"})
		return
	}

	logger.AdmissionEvent("job_created", c.ClientIP(), true, "job_id", job.ID)
	c.JSON(http.StatusOK, viewOf(job))
}

// GetJob godoc
// @Summary Get a job's status, steps, and log tail
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.Job
// @Failure 404 {object} map[string]string
// @Router /jobs/{id} [get]
// @Security ApiKeyAuth
func (h *Handler) GetJob(c *gin.Context) {
	job, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, viewOf(job))
}

// CancelJob godoc
// @Summary Request cancellation of a running or queued job
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /jobs/{id}/cancel [post]
// @Security ApiKeyAuth
func (h *Handler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.registry.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err := h.manager.Cancel(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancellation requested"})
}

// DownloadArtifact godoc
// @Summary Download the finished dubbed or subtitled file
// @Tags jobs
// @Produce octet-stream
// @Param id path string true "Job ID"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /jobs/{id}/download [get]
// @Security ApiKeyAuth
func (h *Handler) DownloadArtifact(c *gin.Context) {
	job, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if job.Status != models.StatusCompleted || job.OutputPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job has no artifact yet"})
		return
	}
	confined, err := pathsafety.ConfineToRoot(h.cfg.OutputDir, filepath.Base(job.OutputPath))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "artifact path invalid"})
		return
	}
	name := "videovoice_" + shortID(job.ID) + strings.ToLower(filepath.Ext(job.OutputPath))
	c.FileAttachment(confined, name)
}

// DownloadCaptions godoc
// @Summary Download the SRT caption file of a subtitle job
// @Tags jobs
// @Produce plain
// @Param id path string true "Job ID"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /jobs/{id}/srt [get]
// @Security ApiKeyAuth
func (h *Handler) DownloadCaptions(c *gin.Context) {
	job, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if job.Settings.Mode != models.ModeSubtitle {
		c.JSON(http.StatusBadRequest, gin.H{"error": "captions are only produced in subtitle mode"})
		return
	}
	if job.SRTPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "captions not ready"})
		return
	}
	confined, err := pathsafety.ConfineToRoot(h.cfg.OutputDir, filepath.Base(job.SRTPath))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "caption path invalid"})
		return
	}
	c.Header("Content-Type", "text/srt; charset=utf-8")
	c.FileAttachment(confined, "videovoice_"+shortID(job.ID)+".srt")
}

// SystemStatus godoc
// @Summary System snapshot: job counts, memory, credentials, provider usage
// @Tags system
// @Produce json
// @Success 200 {object} map[string]any
// @Router /system/status [get]
// @Security ApiKeyAuth
func (h *Handler) SystemStatus(c *gin.Context) {
	totalMem, _ := systeminfo.TotalMemoryBytes()

	var stats []usage.Stat
	if h.usage != nil {
		stats, _ = h.usage.All()
	}

	c.JSON(http.StatusOK, gin.H{
		"active_jobs":    h.activeJobs(),
		"total_jobs":     len(h.registry.All()),
		"memory_total":   totalMem,
		"credentials":    h.credentialAvailability(),
		"provider_usage": stats,
		"max_concurrent": h.cfg.MaxConcurrentJobs,
	})
}

func (h *Handler) parseSettings(c *gin.Context) (models.Settings, error) {
	src := c.DefaultPostForm("source_lang", "auto")
	if src != "auto" && !allowedLanguages[src] {
		return models.Settings{}, fmt.Errorf("unsupported source language %q", src)
	}
	tgt := c.PostForm("target_lang")
	if !allowedLanguages[tgt] {
		return models.Settings{}, fmt.Errorf("unsupported target language %q", tgt)
	}

	mode := models.Mode(c.DefaultPostForm("mode", string(models.ModeDub)))
	if mode != models.ModeDub && mode != models.ModeSubtitle {
		return models.Settings{}, fmt.Errorf("mode must be dubbing or subtitle")
	}

	syncMode := models.SyncMode(c.DefaultPostForm("sync_mode", string(models.SyncOptimize)))
	switch syncMode {
	case models.SyncOptimize, models.SyncStretch, models.SyncSpeedAudio:
	default:
		return models.Settings{}, fmt.Errorf("sync_mode must be optimize, speed_audio, or stretch")
	}

	sttEngine := c.DefaultPostForm("stt_engine", h.cfg.DefaultSTTEngine)
	if !allowedSTTEngines[sttEngine] {
		return models.Settings{}, fmt.Errorf("unknown stt engine %q", sttEngine)
	}
	translateEngine := c.DefaultPostForm("translation_engine", h.cfg.DefaultTranslateEngine)
	if !allowedTranslateEngines[translateEngine] {
		return models.Settings{}, fmt.Errorf("unknown translation engine %q", translateEngine)
	}
	ttsEngine := c.DefaultPostForm("tts_engine", h.cfg.DefaultTTSEngine)
	if !allowedTTSEngines[ttsEngine] {
		return models.Settings{}, fmt.Errorf("unknown tts engine %q", ttsEngine)
	}

	return models.Settings{
		SourceLanguage:  src,
		TargetLanguage:  tgt,
		Mode:            mode,
		SyncMode:        syncMode,
		STTEngine:       sttEngine,
		TranslateEngine: translateEngine,
		TTSEngine:       ttsEngine,
		CloneVoice:      c.PostForm("clone_voice") == "true",
		QualityLoop:     c.PostForm("verify_translation") == "true",
	}, nil
}

// missingCredentials lists env key names absent for the explicitly
// selected hosted engines. "auto" engines skip the pre-check: the
// fallback chain only traverses configured providers.
func (h *Handler) missingCredentials(s models.Settings) []string {
	var missing []string
	need := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}
	switch s.STTEngine {
	case "hosted_a":
		need("OPENAI_API_KEY", h.cfg.OpenAIAPIKey)
	case "hosted_b":
		need("WHISPER_API_KEY", h.cfg.HostedSTTBKey)
	case "hosted_c":
		need("GROQ_API_KEY", h.cfg.HostedSTTCKey)
	}
	switch s.TranslateEngine {
	case "hosted_a":
		need("GEMINI_API_KEY", h.cfg.TranslateHostedAKey)
	case "hosted_b":
		need("GROQ_API_KEY", h.cfg.TranslateHostedBKey)
	}
	switch s.TTSEngine {
	case "hosted_clone":
		need("ELEVENLABS_API_KEY", h.cfg.TTSHostedCloneKey)
	case "hosted_preset":
		need("TTS_PRESET_API_KEY", h.cfg.TTSHostedPresetKey)
	}
	if s.QualityLoop && h.cfg.QualityPrimaryKey == "" && h.cfg.QualityFallbackKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	return dedupeStrings(missing)
}

func (h *Handler) credentialAvailability() map[string]bool {
	return map[string]bool{
		"openai":      h.cfg.OpenAIAPIKey != "",
		"whisper_api": h.cfg.HostedSTTBKey != "",
		"groq":        h.cfg.HostedSTTCKey != "",
		"gemini":      h.cfg.TranslateHostedAKey != "",
		"elevenlabs":  h.cfg.TTSHostedCloneKey != "",
		"tts_preset":  h.cfg.TTSHostedPresetKey != "",
	}
}

// saveUpload streams the multipart file to the upload root under a
// UUID-prefixed sanitized name, verifying confinement before writing.
func (h *Handler) saveUpload(header *multipart.FileHeader) (string, error) {
	name := uuid.NewString() + "_" + safeBaseName(header.Filename)
	target, err := pathsafety.ConfineToRoot(h.cfg.UploadDir, name)
	if err != nil {
		return "", fmt.Errorf("upload name escapes upload root: %w", err)
	}
	if err := os.MkdirAll(h.cfg.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}

	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("creating upload target: %w", err)
	}
	defer dst.Close()

	buf := make([]byte, uploadChunkSize)
	written, err := io.CopyBuffer(dst, io.LimitReader(src, h.cfg.MaxFileSize+1), buf)
	if err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if written > h.cfg.MaxFileSize {
		_ = os.Remove(target)
		return "", fmt.Errorf("upload exceeded the size limit mid-stream")
	}
	return target, nil
}

func (h *Handler) activeJobs() int {
	n := 0
	for _, j := range h.registry.All() {
		if j.Status == models.StatusQueued || j.Status == models.StatusRunning {
			n++
		}
	}
	return n
}

func isAudioExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3", ".wav", ".m4a", ".flac":
		return true
	}
	return false
}

// shortID returns the first 8 hex characters of a UUID-shaped id.
func shortID(id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return compact
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// safeBaseName maps an arbitrary client filename onto [A-Za-z0-9._-],
// lowercasing the extension.
func safeBaseName(name string) string {
	base := filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := b.String()
	if safe == "" || strings.Trim(safe, "._-") == "" {
		safe = "upload"
	}
	return safe + ext
}
