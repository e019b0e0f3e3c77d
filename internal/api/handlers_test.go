package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videovoice/internal/config"
	"videovoice/internal/jobmanager"
	"videovoice/internal/models"
	"videovoice/pkg/middleware"
)

type noopPipeline struct{}

func (noopPipeline) Run(context.Context, *models.Job) error { return nil }

type testServer struct {
	cfg      *config.Config
	registry *jobmanager.Registry
	manager  *jobmanager.Manager
	router   *gin.Engine
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		UploadDir:         filepath.Join(dir, "uploads"),
		OutputDir:         filepath.Join(dir, "outputs"),
		MaxFileSize:       10 << 20,
		MaxConcurrentJobs: 3,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		JWTSecret:         "test-secret",
		DefaultSTTEngine:  "auto",
		DefaultTranslateEngine: "auto",
		DefaultTTSEngine:  "auto",
		OpenAIAPIKey:      "set",
		TranslateHostedAKey: "set",
		QualityPrimaryKey: "set",
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, os.MkdirAll(cfg.UploadDir, 0755))
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0755))

	registry := jobmanager.NewRegistry(filepath.Join(dir, "jobs.json"), 100)
	manager := jobmanager.New(registry, noopPipeline{}, cfg.MaxConcurrentJobs, time.Hour)
	handler := NewHandler(cfg, manager, registry, nil)
	return &testServer{cfg: cfg, registry: registry, manager: manager, router: SetupRoutes(handler, cfg)}
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func createJob(t *testing.T, ts *testServer, fields map[string]string, filename string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, filename, []byte("media content"))
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func defaultFields() map[string]string {
	return map[string]string{
		"source_lang": "en",
		"target_lang": "ko",
		"mode":        "dubbing",
		"sync_mode":   "optimize",
	}
}

func TestCreateJob_HappyPath(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := createJob(t, ts, defaultFields(), "video.mp4")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Equal(t, "video.mp4", job.InputFilename)

	// saved under the upload root with a UUID prefix
	rel, err := filepath.Rel(ts.cfg.UploadDir, job.InputPath)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
	assert.FileExists(t, job.InputPath)

	stored, ok := ts.registry.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.ModeDub, stored.Settings.Mode)
}

func TestCreateJob_RejectsUnknownTargetLanguage(t *testing.T) {
	ts := newTestServer(t, nil)
	fields := defaultFields()
	fields["target_lang"] = "xx"
	rec := createJob(t, ts, fields, "video.mp4")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJob_RejectsBadSyncMode(t *testing.T) {
	ts := newTestServer(t, nil)
	fields := defaultFields()
	fields["sync_mode"] = "chipmunk"
	rec := createJob(t, ts, fields, "video.mp4")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJob_RejectsBadExtension(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := createJob(t, ts, defaultFields(), "malware.exe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJob_SubtitleModeRejectsAudioInput(t *testing.T) {
	ts := newTestServer(t, nil)
	fields := defaultFields()
	fields["mode"] = "subtitle"
	rec := createJob(t, ts, fields, "podcast.mp3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "video input")
}

func TestCreateJob_OversizeRejectedWith413(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.MaxFileSize = 4 })
	rec := createJob(t, ts, defaultFields(), "video.mp4")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreateJob_MissingCredentialListed(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.TranslateHostedAKey = "" })
	fields := defaultFields()
	fields["translation_engine"] = "hosted_a"
	rec := createJob(t, ts, fields, "video.mp4")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "GEMINI_API_KEY")
}

func TestCreateJob_ConcurrencyCapReturns429AndRemovesUpload(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.MaxConcurrentJobs = 0 })
	rec := createJob(t, ts, defaultFields(), "video.mp4")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	entries, err := os.ReadDir(ts.cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial upload must be removed")
}

func TestCreateJob_TraversalFilenameRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	body, contentType := multipartBody(t, defaultFields(), "..%2f..%2fevil.mp4", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	// either sanitized away or rejected; it must never land outside uploads
	if rec.Code == http.StatusOK {
		var job models.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		rel, err := filepath.Rel(ts.cfg.UploadDir, job.InputPath)
		require.NoError(t, err)
		assert.NotContains(t, rel, "..")
	}
}

func TestGetJob_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_ReturnsLogTail(t *testing.T) {
	ts := newTestServer(t, nil)
	job := models.NewJob(filepath.Join(ts.cfg.UploadDir, "a.mp4"), models.Settings{Mode: models.ModeDub})
	require.NoError(t, ts.registry.Put(job))
	for i := 0; i < logsTailLen+20; i++ {
		require.NoError(t, ts.registry.AppendLog(job.ID, "info", fmt.Sprintf("entry %d", i)))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Logs []models.LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.LessOrEqual(t, len(view.Logs), logsTailLen)
}

func TestCancelJob_TerminalJobRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	job := models.NewJob(filepath.Join(ts.cfg.UploadDir, "a.mp4"), models.Settings{Mode: models.ModeDub})
	job.Status = models.StatusCompleted
	require.NoError(t, ts.registry.Put(job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJob_QueuedJobBecomesCancelled(t *testing.T) {
	ts := newTestServer(t, nil)
	job := models.NewJob(filepath.Join(ts.cfg.UploadDir, "a.mp4"), models.Settings{Mode: models.ModeDub})
	require.NoError(t, ts.registry.Put(job))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, _ := ts.registry.Get(job.ID)
	assert.Equal(t, models.StatusCancelled, stored.Status)
}

func TestDownloadCaptions_RejectsDubMode(t *testing.T) {
	ts := newTestServer(t, nil)
	job := models.NewJob(filepath.Join(ts.cfg.UploadDir, "a.mp4"), models.Settings{Mode: models.ModeDub})
	require.NoError(t, ts.registry.Put(job))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/srt", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadArtifact_ServesCompletedJob(t *testing.T) {
	ts := newTestServer(t, nil)
	outPath := filepath.Join(ts.cfg.OutputDir, "dubbed_abc.mp4")
	require.NoError(t, os.WriteFile(outPath, []byte("artifact"), 0644))

	job := models.NewJob(filepath.Join(ts.cfg.UploadDir, "a.mp4"), models.Settings{Mode: models.ModeDub})
	job.Status = models.StatusCompleted
	job.OutputPath = outPath
	require.NoError(t, ts.registry.Put(job))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/download", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "videovoice_"+shortID(job.ID)+".mp4")
	assert.Equal(t, "artifact", rec.Body.String())
}

func TestSystemStatus_ReportsCountsAndCredentials(t *testing.T) {
	ts := newTestServer(t, nil)
	job := models.NewJob(filepath.Join(ts.cfg.UploadDir, "a.mp4"), models.Settings{Mode: models.ModeDub})
	require.NoError(t, ts.registry.Put(job))

	req := httptest.NewRequest(http.MethodGet, "/api/system/status", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		ActiveJobs  int             `json:"active_jobs"`
		TotalJobs   int             `json:"total_jobs"`
		Credentials map[string]bool `json:"credentials"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.ActiveJobs)
	assert.Equal(t, 1, status.TotalJobs)
	assert.True(t, status.Credentials["openai"])
	assert.False(t, status.Credentials["elevenlabs"])
}

func TestAPIKeyAuth_EnforcedWhenEnabled(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.APIKeyAuth = true })

	req := httptest.NewRequest(http.MethodGet, "/api/system/status", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	key, err := middleware.IssueAPIKey(ts.cfg.JWTSecret, "ops")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/system/status", nil)
	req.Header.Set("X-API-Key", key)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/system/status", nil)
	req.Header.Set("X-API-Key", "forged-key")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	l := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d", i)
	}
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"), "other clients are unaffected")
}

func TestRateLimiter_WindowResets(t *testing.T) {
	l := NewRateLimiter(1, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("a"))
}

func TestSafeBaseName_SanitizesHostileNames(t *testing.T) {
	assert.Equal(t, "my_video_1.mp4", safeBaseName("my video 1.MP4"))
	assert.Equal(t, "upload.mp4", safeBaseName("???.mp4"))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "1234abcd", shortID("1234-abcd-ef"))
}
