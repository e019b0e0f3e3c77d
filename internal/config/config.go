package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all environment-sourced configuration for the service,
// bound through viper so every knob in the spec has a typed accessor and a
// default.
type Config struct {
	Port string
	Host string

	StaticDir string
	UploadDir string
	OutputDir string
	CacheDir  string

	JobsFile string
	UsageDB  string

	FFmpegPath  string
	FFprobePath string
	GPUEncoder  string
	CPUEncoder  string

	JWTSecret      string
	APIKeyAuth     bool
	AllowedOrigins []string

	MaxFileSize        int64
	MaxConcurrentJobs  int
	MaxLogsPerJob      int
	JobExpirationHours int

	STTTimeout         time.Duration
	TranslationTimeout time.Duration
	FFmpegTimeout      time.Duration
	SoftEmbedTimeout   time.Duration
	QualityTimeout     time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration

	QualityFloor    int
	CacheExpiryDays int

	DefaultSTTEngine       string
	DefaultTranslateEngine string
	DefaultTTSEngine       string

	// Provider credentials. Empty string means "not configured".
	OpenAIAPIKey        string
	HostedSTTBKey       string // whisper-clone-style hosted STT, 25MB cap
	HostedSTTCKey       string // whisper-service-style hosted STT
	TranslateHostedAKey string
	TranslateHostedBKey string
	TTSHostedCloneKey   string
	TTSHostedPresetKey  string
	QualityPrimaryKey   string
	QualityFallbackKey  string

	LocalSTTURL       string
	LocalTranslateURL string
	LocalTTSURL       string
	NetworkTTSURL     string
}

// Load loads configuration from environment variables, an optional .env
// file, and viper-bound defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	staticDir := v.GetString("STATIC_DIR")

	return &Config{
		Port: v.GetString("PORT"),
		Host: v.GetString("HOST"),

		StaticDir: staticDir,
		UploadDir: joinDefault(v.GetString("UPLOAD_DIR"), staticDir, "uploads"),
		OutputDir: joinDefault(v.GetString("OUTPUT_DIR"), staticDir, "outputs"),
		CacheDir:  joinDefault(v.GetString("CACHE_DIR"), staticDir, "cache/translations"),

		JobsFile: joinDefault(v.GetString("JOBS_FILE"), staticDir, "jobs.json"),
		UsageDB:  joinDefault(v.GetString("USAGE_DB"), staticDir, "usage.db"),

		FFmpegPath:  v.GetString("FFMPEG_PATH"),
		FFprobePath: v.GetString("FFPROBE_PATH"),
		GPUEncoder:  v.GetString("GPU_ENCODER"),
		CPUEncoder:  v.GetString("CPU_ENCODER"),

		JWTSecret:      getJWTSecret(v),
		APIKeyAuth:     v.GetBool("API_KEY_AUTH_ENABLED"),
		AllowedOrigins: splitCSV(v.GetString("CORS_ORIGINS")),

		MaxFileSize:        v.GetInt64("MAX_FILE_SIZE"),
		MaxConcurrentJobs:  v.GetInt("MAX_CONCURRENT_JOBS"),
		MaxLogsPerJob:      v.GetInt("MAX_LOGS_PER_JOB"),
		JobExpirationHours: v.GetInt("JOB_EXPIRATION_HOURS"),

		STTTimeout:         v.GetDuration("STT_TIMEOUT"),
		TranslationTimeout: v.GetDuration("TRANSLATION_TIMEOUT"),
		FFmpegTimeout:      v.GetDuration("FFMPEG_TIMEOUT"),
		SoftEmbedTimeout:   v.GetDuration("SOFT_EMBED_TIMEOUT"),
		QualityTimeout:     v.GetDuration("QUALITY_TIMEOUT"),

		RateLimitRequests: v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindow:   v.GetDuration("RATE_LIMIT_WINDOW"),

		QualityFloor:    v.GetInt("QUALITY_FLOOR"),
		CacheExpiryDays: v.GetInt("CACHE_EXPIRATION_DAYS"),

		DefaultSTTEngine:       v.GetString("DEFAULT_STT_ENGINE"),
		DefaultTranslateEngine: v.GetString("DEFAULT_TRANSLATION_ENGINE"),
		DefaultTTSEngine:       v.GetString("DEFAULT_TTS_ENGINE"),

		OpenAIAPIKey:        v.GetString("OPENAI_API_KEY"),
		HostedSTTBKey:       v.GetString("WHISPER_API_KEY"),
		HostedSTTCKey:       v.GetString("GROQ_API_KEY"),
		TranslateHostedAKey: v.GetString("GEMINI_API_KEY"),
		TranslateHostedBKey: v.GetString("GROQ_API_KEY"),
		TTSHostedCloneKey:   v.GetString("ELEVENLABS_API_KEY"),
		TTSHostedPresetKey:  v.GetString("TTS_PRESET_API_KEY"),
		QualityPrimaryKey:   v.GetString("GEMINI_API_KEY"),
		QualityFallbackKey:  v.GetString("GROQ_API_KEY"),

		LocalSTTURL:       v.GetString("LOCAL_STT_URL"),
		LocalTranslateURL: v.GetString("LOCAL_TRANSLATE_URL"),
		LocalTTSURL:       v.GetString("LOCAL_TTS_URL"),
		NetworkTTSURL:     v.GetString("NETWORK_TTS_URL"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("STATIC_DIR", "data/static")

	v.SetDefault("FFMPEG_PATH", "ffmpeg")
	v.SetDefault("FFPROBE_PATH", "ffprobe")
	v.SetDefault("GPU_ENCODER", "")
	v.SetDefault("CPU_ENCODER", "libx264")

	v.SetDefault("API_KEY_AUTH_ENABLED", false)
	v.SetDefault("CORS_ORIGINS", "")

	v.SetDefault("MAX_FILE_SIZE", int64(2*1024*1024*1024)) // 2 GB
	v.SetDefault("MAX_CONCURRENT_JOBS", 3)
	v.SetDefault("MAX_LOGS_PER_JOB", 1000)
	v.SetDefault("JOB_EXPIRATION_HOURS", 24)

	v.SetDefault("STT_TIMEOUT", "300s")
	v.SetDefault("TRANSLATION_TIMEOUT", "900s")
	v.SetDefault("FFMPEG_TIMEOUT", "600s")
	v.SetDefault("SOFT_EMBED_TIMEOUT", "60s")
	v.SetDefault("QUALITY_TIMEOUT", "120s")

	v.SetDefault("RATE_LIMIT_REQUESTS", 1000)
	v.SetDefault("RATE_LIMIT_WINDOW", "60s")

	v.SetDefault("QUALITY_FLOOR", 60)
	v.SetDefault("CACHE_EXPIRATION_DAYS", 30)

	v.SetDefault("DEFAULT_STT_ENGINE", "auto")
	v.SetDefault("DEFAULT_TRANSLATION_ENGINE", "auto")
	v.SetDefault("DEFAULT_TTS_ENGINE", "auto")

	v.SetDefault("LOCAL_STT_URL", "http://127.0.0.1:8090")
	v.SetDefault("LOCAL_TRANSLATE_URL", "http://127.0.0.1:11434")
	v.SetDefault("LOCAL_TTS_URL", "http://127.0.0.1:8091")
	v.SetDefault("NETWORK_TTS_URL", "http://127.0.0.1:8092")
}

func joinDefault(explicit, base, rel string) string {
	if explicit != "" {
		return explicit
	}
	if base == "" {
		base = "data/static"
	}
	return base + "/" + rel
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getJWTSecret mirrors the teacher's persisted-dev-secret pattern: prefer an
// explicit env var, else persist a generated one across restarts so signed
// API keys don't all invalidate on every redeploy.
func getJWTSecret(v *viper.Viper) string {
	if secret := v.GetString("JWT_SECRET"); secret != "" {
		return secret
	}
	secretFile := v.GetString("STATIC_DIR") + "/jwt_secret"
	if data, err := os.ReadFile(secretFile); err == nil && len(data) > 0 {
		return strings.TrimSpace(string(data))
	}
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Printf("Warning: could not generate secure JWT secret, using fallback: %v", err)
		return "fallback-jwt-secret-please-set-JWT_SECRET-env-var"
	}
	secret := hex.EncodeToString(bytes)
	_ = os.MkdirAll(v.GetString("STATIC_DIR"), 0755)
	_ = os.WriteFile(secretFile, []byte(secret), 0600)
	log.Println("Generated persistent JWT secret at", secretFile)
	return secret
}
