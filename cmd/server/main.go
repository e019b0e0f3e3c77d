package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "videovoice/api-docs" // register the swagger description

	"videovoice/internal/api"
	"videovoice/internal/config"
	"videovoice/internal/jobmanager"
	"videovoice/internal/mediaops"
	"videovoice/internal/pipeline"
	"videovoice/internal/qualityeval"
	"videovoice/internal/sttbackend"
	"videovoice/internal/translatebackend"
	"videovoice/internal/translationcache"
	"videovoice/internal/ttsbackend"
	"videovoice/internal/usage"
	"videovoice/pkg/logger"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
)

// @title VideoVoice API
// @version 1.0
// @description Dubbing and subtitle job orchestration service
// @BasePath /api

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

func main() {
	root := &cobra.Command{
		Use:          "videovoice",
		Short:        "Dubbing and subtitle job orchestration service",
		SilenceUsage: true,
	}

	var showVersion bool
	root.Flags().BoolVar(&showVersion, "version", false, "Show version information")
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("videovoice %s (%s)\n", version, commit)
			return nil
		}
		return serve()
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control plane and job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg := config.Load()
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Startup("config", "Configuration loaded")

	for _, dir := range []string{cfg.StaticDir, cfg.UploadDir, cfg.OutputDir, cfg.CacheDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	usageStore, err := usage.Open(cfg.UsageDB)
	if err != nil {
		return fmt.Errorf("opening usage store: %w", err)
	}
	logger.Startup("usage", "Provider usage store ready")

	registry := jobmanager.NewRegistry(cfg.JobsFile, cfg.MaxLogsPerJob)
	if err := registry.Load(); err != nil {
		return fmt.Errorf("loading job registry: %w", err)
	}
	logger.Startup("registry", "Job registry loaded")

	media := mediaops.New(cfg.FFmpegPath, cfg.FFprobePath, cfg.GPUEncoder, cfg.CPUEncoder)

	sttChain := sttbackend.NewChain(usageStore,
		sttbackend.NewHostedAProvider(cfg.OpenAIAPIKey),
		sttbackend.NewHostedBProvider(cfg.HostedSTTBKey, media),
		sttbackend.NewHostedCProvider(cfg.HostedSTTCKey),
		sttbackend.NewLocalProvider(cfg.LocalSTTURL),
	)

	translateChain := translatebackend.NewChain(usageStore,
		translatebackend.NewHostedAProvider(cfg.TranslateHostedAKey),
		translatebackend.NewHostedBProvider(cfg.TranslateHostedBKey),
		translatebackend.NewLocalProvider(cfg.LocalTranslateURL, ""),
	)

	hostedClone := ttsbackend.NewHostedCloneProvider(cfg.TTSHostedCloneKey)
	localClone := ttsbackend.NewLocalCloneProvider(cfg.LocalTTSURL)
	ttsChain := ttsbackend.NewChain(usageStore, media,
		hostedClone,
		localClone,
		ttsbackend.NewNetworkNeuralAProvider(cfg.NetworkTTSURL),
		ttsbackend.NewLightweightLocalProvider(cfg.LocalTTSURL),
		ttsbackend.NewHostedPresetProvider(cfg.TTSHostedPresetKey),
	)

	qualityChain := qualityeval.NewChain(usageStore,
		qualityeval.NewHTTPProvider("quality_primary", cfg.QualityPrimaryKey,
			"https://generativelanguage.googleapis.com/v1beta/openai", "gemini-1.5-flash"),
		qualityeval.NewHTTPProvider("quality_fallback", cfg.QualityFallbackKey,
			"https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"),
	)

	cache := translationcache.New(cfg.CacheDir, time.Duration(cfg.CacheExpiryDays)*24*time.Hour)

	runner := pipeline.NewRunner(cfg, registry, nil, media, sttChain, translateChain, ttsChain, qualityChain, cache)
	manager := jobmanager.New(registry, runner, cfg.MaxConcurrentJobs, time.Duration(cfg.JobExpirationHours)*time.Hour)
	runner.SetCancellationSet(manager.CancellationSet())
	if cfg.TTSHostedCloneKey != "" {
		runner.SetCloner(hostedClone)
	} else {
		runner.SetCloner(localClone)
	}
	runner.SetMemoryRelease(releaseLocalModels(cfg))

	manager.Start()
	logger.Startup("workers", "Job workers started")

	stopSweeper := make(chan struct{})
	sweeper, err := jobmanager.NewOrphanSweeper(registry, cfg.UploadDir, cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("starting orphan sweeper: %w", err)
	}
	go sweeper.Run(stopSweeper)

	handler := api.NewHandler(cfg, manager, registry, usageStore)
	router := api.SetupRoutes(handler, cfg)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Startup("http", "Listening on "+srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	close(stopSweeper)
	manager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// releaseLocalModels asks the local model servers to drop their loaded
// weights between model-heavy stages.
func releaseLocalModels(cfg *config.Config) func(ctx context.Context) {
	client := &http.Client{Timeout: 10 * time.Second}
	targets := []string{cfg.LocalSTTURL + "/release", cfg.LocalTTSURL + "/release"}
	return func(ctx context.Context) {
		for _, url := range targets {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
			if err != nil {
				continue
			}
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
}
