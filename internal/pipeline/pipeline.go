// Package pipeline executes the dubbing and subtitle stage graphs for one
// job at a time: extract, transcribe, translate, optionally evaluate and
// refine, synthesize, and merge or embed. Stages poll the shared
// cancellation set at every boundary, run under per-stage deadlines, and
// clean their scratch files in a guaranteed-release scope. Grounded on the
// teacher's transcription pipeline (preprocessor chain, stage logging) and
// its multitrack processor's milestone-progress orchestration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videovoice/internal/apperr"
	"videovoice/internal/config"
	"videovoice/internal/jobmanager"
	"videovoice/internal/mediaops"
	"videovoice/internal/models"
	"videovoice/internal/qualityeval"
	"videovoice/internal/sttbackend"
	"videovoice/internal/translationcache"
	"videovoice/pkg/logger"
)

// Stage names, shared with the control plane's job views.
const (
	StageExtract           = "extract"
	StageTranscribe        = "transcribe"
	StageTranslate         = "translate"
	StageTranslateSegments = "translate_segments"
	StageEvaluate          = "evaluate"
	StageTTS               = "tts"
	StageMerge             = "merge"
	StageWriteCaptions     = "write_captions"
	StageEmbedSubtitles    = "embed_subtitles"
)

// Quality-loop knobs.
const (
	maxQualityRounds       = 3
	qualityEarlyStopScore  = 85
	minRefinedLenFraction  = 0.5
	minSegmentSuccessRate  = 70
)

// Transcriber, Translator, Synthesizer, and Evaluator are the narrow
// views of the backend chains the pipeline needs; the concrete chains in
// internal/{stt,translate,tts}backend and internal/qualityeval satisfy
// them directly.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language, engine string) (*sttbackend.Result, string, error)
}

type Translator interface {
	Translate(ctx context.Context, text, src, tgt, syncMode, engine string) (string, string, error)
	Refine(ctx context.Context, original, translated, src, tgt string, issues []string, syncMode, engine string) (string, string, error)
	TranslateSegments(ctx context.Context, segments []string, src, tgt, engine string, progress func(done, total int)) ([]string, int, string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, language, voiceID, outputPath, engine string) (string, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, sourceText, translatedText, src, tgt string) (*qualityeval.Verdict, string, error)
}

// Media is the slice of mediaops.Ops the stage graphs invoke.
type Media interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractAudio(ctx context.Context, input, outputPath string, timeout time.Duration) error
	MergeOptimize(ctx context.Context, videoPath, audioPath, outputPath string, timeout time.Duration) error
	ExtendVideoToAudio(ctx context.Context, videoPath, audioPath, outputPath string, timeout time.Duration, useGPU bool) error
	SpeedAudioToVideo(ctx context.Context, videoPath, audioPath, outputPath string, timeout time.Duration) error
	BurnSubtitles(ctx context.Context, videoPath, srtPath, outputPath string, timeout time.Duration, useGPU bool) error
	EmbedSoftSubtitles(ctx context.Context, videoPath, srtPath, outputPath, languageTag string, timeout time.Duration) error
}

// Cloner is the optional voice-cloning surface of a clone-capable TTS
// engine; nil when none is configured.
type Cloner interface {
	CloneVoice(ctx context.Context, sampleAudioPath string) (string, error)
	ReleaseVoice(ctx context.Context, voiceID string) error
}

// Runner drives one job through its stage graph. It satisfies
// jobmanager.Pipeline.
type Runner struct {
	cfg        *config.Config
	registry   *jobmanager.Registry
	cancels    *models.CancellationSet
	media      Media
	stt        Transcriber
	translator Translator
	tts        Synthesizer
	evaluator  Evaluator
	cloner     Cloner
	cache      *translationcache.Cache

	// releaseMemory, when set, is invoked between model-heavy stages so
	// the local STT model's accelerator memory is returned before TTS or
	// translation loads its own.
	releaseMemory func(ctx context.Context)
}

func NewRunner(cfg *config.Config, registry *jobmanager.Registry, cancels *models.CancellationSet,
	media Media, stt Transcriber, translator Translator, tts Synthesizer,
	evaluator Evaluator, cache *translationcache.Cache) *Runner {
	return &Runner{
		cfg:        cfg,
		registry:   registry,
		cancels:    cancels,
		media:      media,
		stt:        stt,
		translator: translator,
		tts:        tts,
		evaluator:  evaluator,
		cache:      cache,
	}
}

// SetCloner installs the optional clone-capable TTS surface.
func (r *Runner) SetCloner(c Cloner) { r.cloner = c }

// SetCancellationSet installs the shared cancellation set. The job
// manager owns the set, so wiring happens after both sides exist.
func (r *Runner) SetCancellationSet(s *models.CancellationSet) { r.cancels = s }

// SetMemoryRelease installs the between-stage accelerator release hook.
func (r *Runner) SetMemoryRelease(f func(ctx context.Context)) { r.releaseMemory = f }

// audioExtensions marks inputs that skip the extract stage.
var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".flac": true,
}

func isAudioInput(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// Run executes the job's stage graph. Scratch files live in a per-run
// temp directory removed on every exit path; the input and final output
// files are left for the job manager's cleanup policies.
func (r *Runner) Run(ctx context.Context, job *models.Job) error {
	scratch, err := os.MkdirTemp("", "videovoice-"+job.ID+"-")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("Failed to remove scratch directory", "path", scratch, "error", err.Error())
		}
	}()

	if job.Settings.Mode == models.ModeSubtitle {
		return r.runSubtitle(ctx, job, scratch)
	}
	return r.runDub(ctx, job, scratch)
}

func (r *Runner) runDub(ctx context.Context, job *models.Job, scratch string) error {
	audioIn := job.InputPath
	videoInput := !isAudioInput(job.InputPath)

	if videoInput {
		if err := r.beginStage(job, StageExtract); err != nil {
			return err
		}
		audioIn = filepath.Join(scratch, "source.wav")
		if err := r.media.ExtractAudio(ctx, job.InputPath, audioIn, r.cfg.FFmpegTimeout); err != nil {
			return r.failStage(job, StageExtract, r.classifyStage(ctx, "extracting audio", err))
		}
		r.endStage(job, StageExtract, 20)
	} else {
		r.setProgress(job, 10)
	}

	result, err := r.transcribeStage(ctx, job, audioIn)
	if err != nil {
		return err
	}
	sourceText := result.FullText()

	translated, err := r.translateStage(ctx, job, sourceText)
	if err != nil {
		return err
	}

	if r.releaseMemory != nil {
		r.releaseMemory(ctx)
	}

	if err := r.beginStage(job, StageTTS); err != nil {
		return err
	}
	voiceID := job.Settings.VoiceID
	if job.Settings.CloneVoice && r.cloner != nil {
		cloned, cerr := r.cloner.CloneVoice(ctx, audioIn)
		if cerr != nil {
			logger.Warn("Voice clone failed, continuing with default voice", "job_id", job.ID, "error", cerr.Error())
			_ = r.registry.AppendLog(job.ID, "warn", "voice clone failed, using default voice: "+cerr.Error())
		} else {
			voiceID = cloned
			defer func() {
				if rerr := r.cloner.ReleaseVoice(context.Background(), cloned); rerr != nil {
					logger.Warn("Failed to release cloned voice", "voice_id", cloned, "error", rerr.Error())
				}
			}()
		}
	}
	dubbedAudio := filepath.Join(scratch, "dubbed.wav")
	if _, err := r.tts.Synthesize(ctx, translated, job.Settings.TargetLanguage, voiceID, dubbedAudio, job.Settings.TTSEngine); err != nil {
		return r.failStage(job, StageTTS, r.classifyStage(ctx, "synthesizing speech", err))
	}
	r.endStage(job, StageTTS, 80)

	if !videoInput {
		if err := r.beginStage(job, StageMerge); err != nil {
			return err
		}
		outputPath := filepath.Join(r.cfg.OutputDir, "dubbed_"+job.ID+".wav")
		if err := copyFile(dubbedAudio, outputPath); err != nil {
			return r.failStage(job, StageMerge, fmt.Errorf("writing dubbed audio artifact: %w", err))
		}
		job.OutputPath = outputPath
		r.endStage(job, StageMerge, 100)
		return r.registry.Sync(job)
	}

	if err := r.beginStage(job, StageMerge); err != nil {
		return err
	}
	outputPath := filepath.Join(r.cfg.OutputDir, "dubbed_"+job.ID+".mp4")
	switch job.Settings.SyncMode {
	case models.SyncStretch:
		err = r.media.ExtendVideoToAudio(ctx, job.InputPath, dubbedAudio, outputPath, r.cfg.FFmpegTimeout, true)
	case models.SyncSpeedAudio:
		err = r.media.SpeedAudioToVideo(ctx, job.InputPath, dubbedAudio, outputPath, r.cfg.FFmpegTimeout)
	default:
		err = r.media.MergeOptimize(ctx, job.InputPath, dubbedAudio, outputPath, r.cfg.FFmpegTimeout)
	}
	if err != nil {
		return r.failStage(job, StageMerge, r.classifyStage(ctx, "merging dubbed audio", err))
	}
	job.OutputPath = outputPath
	r.endStage(job, StageMerge, 100)
	return r.registry.Sync(job)
}

func (r *Runner) runSubtitle(ctx context.Context, job *models.Job, scratch string) error {
	if isAudioInput(job.InputPath) {
		return apperr.New(apperr.KindValidation, "subtitle mode requires a video input")
	}

	if err := r.beginStage(job, StageExtract); err != nil {
		return err
	}
	audioIn := filepath.Join(scratch, "source.wav")
	if err := r.media.ExtractAudio(ctx, job.InputPath, audioIn, r.cfg.FFmpegTimeout); err != nil {
		return r.failStage(job, StageExtract, r.classifyStage(ctx, "extracting audio", err))
	}
	r.endStage(job, StageExtract, 20)

	result, err := r.transcribeStage(ctx, job, audioIn)
	if err != nil {
		return err
	}
	segments := sttbackend.NormalizeSegments(result.Segments)
	if len(segments) == 0 {
		return r.failStage(job, StageTranscribe, apperr.New(apperr.KindDataContract, "transcription produced no usable segments"))
	}

	if r.releaseMemory != nil {
		r.releaseMemory(ctx)
	}

	if err := r.beginStage(job, StageTranslateSegments); err != nil {
		return err
	}
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	src, tgt := job.Settings.SourceLanguage, job.Settings.TargetLanguage
	tctx, cancel := context.WithTimeout(ctx, r.cfg.TranslationTimeout)
	translated, successRate, _, err := r.translator.TranslateSegments(tctx, texts, src, tgt, job.Settings.TranslateEngine, func(done, total int) {
		r.setProgress(job, 40+15*done/total)
	})
	cancel()
	if err != nil {
		return r.failStage(job, StageTranslateSegments, r.classifyStage(tctx, "translating segments", err))
	}
	if successRate < minSegmentSuccessRate {
		_ = r.registry.AppendLog(job.ID, "warn", fmt.Sprintf("segment batch success rate %d%%, retrying failed segments individually", successRate))
		for i := range translated {
			if translated[i] != texts[i] || strings.TrimSpace(texts[i]) == "" {
				continue
			}
			single, _, terr := r.translator.Translate(ctx, texts[i], src, tgt, string(job.Settings.SyncMode), job.Settings.TranslateEngine)
			if terr == nil && single != "" {
				translated[i] = single
			}
		}
	}
	r.endStage(job, StageTranslateSegments, 55)

	if job.Settings.QualityLoop {
		if err := r.beginStage(job, StageEvaluate); err != nil {
			return err
		}
		qctx, qcancel := context.WithTimeout(ctx, r.cfg.QualityTimeout)
		verdict, _, verr := r.evaluator.Evaluate(qctx, joinSegments(segments), strings.Join(translated, "\n"), src, tgt)
		qcancel()
		if verr != nil {
			return r.failStage(job, StageEvaluate, r.classifyStage(qctx, "evaluating subtitle translation", verr))
		}
		r.recordRound(job, 1, verdict)
		r.endStage(job, StageEvaluate, 60)
	}

	if err := r.beginStage(job, StageWriteCaptions); err != nil {
		return err
	}
	captions := CaptionsFromSegments(segments, translated)
	kept := captions[:0]
	for _, c := range captions {
		if strings.TrimSpace(c.Text) != "" {
			kept = append(kept, c)
		}
	}
	srtPath := filepath.Join(r.cfg.OutputDir, "subtitle_"+job.ID+".srt")
	if err := os.WriteFile(srtPath, []byte(WriteSRT(kept)), 0644); err != nil {
		return r.failStage(job, StageWriteCaptions, fmt.Errorf("writing caption file: %w", err))
	}
	job.SRTPath = srtPath
	r.endStage(job, StageWriteCaptions, 70)

	if err := r.beginStage(job, StageEmbedSubtitles); err != nil {
		return err
	}
	outputPath := filepath.Join(r.cfg.OutputDir, "subtitle_"+job.ID+".mp4")
	if err := r.media.EmbedSoftSubtitles(ctx, job.InputPath, srtPath, outputPath, tgt, r.cfg.SoftEmbedTimeout); err != nil {
		logger.Warn("Soft subtitle embed failed, falling back to burn-in", "job_id", job.ID, "error", err.Error())
		_ = r.registry.AppendLog(job.ID, "warn", "soft subtitle embed failed, burning captions instead")
		if berr := r.media.BurnSubtitles(ctx, job.InputPath, srtPath, outputPath, r.cfg.FFmpegTimeout, true); berr != nil {
			return r.failStage(job, StageEmbedSubtitles, r.classifyStage(ctx, "embedding subtitles", berr))
		}
	}
	job.OutputPath = outputPath
	r.endStage(job, StageEmbedSubtitles, 100)
	return r.registry.Sync(job)
}

// transcribeStage runs STT under its deadline and enforces the non-empty
// transcription contract.
func (r *Runner) transcribeStage(ctx context.Context, job *models.Job, audioPath string) (*sttbackend.Result, error) {
	if err := r.beginStage(job, StageTranscribe); err != nil {
		return nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, r.cfg.STTTimeout)
	defer cancel()

	lang := job.Settings.SourceLanguage
	if lang == "auto" {
		lang = ""
	}
	result, provider, err := r.stt.Transcribe(sctx, audioPath, lang, job.Settings.STTEngine)
	if err != nil {
		return nil, r.failStage(job, StageTranscribe, r.classifyStage(sctx, "transcribing audio", err))
	}
	if strings.TrimSpace(result.FullText()) == "" {
		return nil, r.failStage(job, StageTranscribe, apperr.New(apperr.KindDataContract, "transcription was empty"))
	}
	_ = r.registry.AppendLog(job.ID, "info", "transcribed with provider "+provider)
	r.endStage(job, StageTranscribe, 40)
	return result, nil
}

// translateStage runs the dubbing-mode whole-text translation with cache
// lookup and the optional evaluate/refine loop.
func (r *Runner) translateStage(ctx context.Context, job *models.Job, sourceText string) (string, error) {
	if err := r.beginStage(job, StageTranslate); err != nil {
		return "", err
	}
	src, tgt := job.Settings.SourceLanguage, job.Settings.TargetLanguage
	syncMode := string(job.Settings.SyncMode)

	key := translationcache.Key(sourceText, src, tgt, syncMode)
	if entry, ok := r.cache.Get(key, r.cfg.QualityFloor); ok {
		_ = r.registry.AppendLog(job.ID, "info", "translation served from cache")
		r.endStage(job, StageTranslate, 60)
		return entry.TargetText, nil
	}

	tctx, cancel := context.WithTimeout(ctx, r.cfg.TranslationTimeout)
	translated, _, err := r.translator.Translate(tctx, sourceText, src, tgt, syncMode, job.Settings.TranslateEngine)
	cancel()
	if err != nil {
		return "", r.failStage(job, StageTranslate, r.classifyStage(tctx, "translating transcript", err))
	}
	if strings.TrimSpace(translated) == "" {
		return "", r.failStage(job, StageTranslate, apperr.New(apperr.KindDataContract, "translation was empty"))
	}
	r.endStage(job, StageTranslate, 55)

	qualityGate := r.cfg.QualityFloor
	if job.Settings.QualityLoop {
		if err := r.beginStage(job, StageEvaluate); err != nil {
			return "", err
		}
		best, bestScore, qerr := r.qualityLoop(ctx, job, sourceText, translated, src, tgt, syncMode)
		if qerr != nil {
			return "", r.failStage(job, StageEvaluate, qerr)
		}
		translated = best
		qualityGate = bestScore
		r.endStage(job, StageEvaluate, 60)
	}

	if qualityGate >= r.cfg.QualityFloor {
		if err := r.cache.Put(models.TranslationCacheEntry{
			Key:         key,
			SourceText:  sourceText,
			TargetText:  translated,
			SourceLang:  src,
			TargetLang:  tgt,
			Mode:        syncMode,
			QualityGate: qualityGate,
			CreatedAt:   time.Now(),
		}); err != nil {
			logger.Warn("Failed to write translation cache entry", "error", err.Error())
		}
	}
	return translated, nil
}

// qualityLoop runs up to maxQualityRounds evaluate/refine iterations,
// keeping the best-scoring text seen across all rounds. A refinement is
// rejected when it truncates the previous text below minRefinedLenFraction
// or loses too many key terms; on rejection a fresh full re-translation is
// attempted before the next round.
func (r *Runner) qualityLoop(ctx context.Context, job *models.Job, original, translated, src, tgt, syncMode string) (string, int, error) {
	best, bestScore := translated, -1
	current := translated

	for round := 1; round <= maxQualityRounds; round++ {
		if r.cancels.IsCancelled(job.ID) {
			return "", 0, apperr.New(apperr.KindCancellation, "cancelled by user")
		}

		qctx, cancel := context.WithTimeout(ctx, r.cfg.QualityTimeout)
		verdict, _, err := r.evaluator.Evaluate(qctx, original, current, src, tgt)
		cancel()
		if err != nil {
			if bestScore >= 0 {
				// keep the best verdict we already have rather than
				// failing the whole job on a late evaluator error
				logger.Warn("Quality evaluation failed mid-loop, keeping best round", "job_id", job.ID, "error", err.Error())
				break
			}
			return "", 0, r.classifyStage(qctx, "evaluating translation", err)
		}

		r.recordRound(job, round, verdict)
		if verdict.OverallScore > bestScore {
			bestScore = verdict.OverallScore
			best = current
			job.BestRound = round
		}
		if verdict.OverallScore >= qualityEarlyStopScore || round == maxQualityRounds {
			break
		}

		refined, _, rerr := r.translator.Refine(ctx, original, current, src, tgt, verdict.Issues, syncMode, job.Settings.TranslateEngine)
		if rerr != nil {
			logger.Warn("Refinement failed, keeping best round", "job_id", job.ID, "error", rerr.Error())
			break
		}
		if float64(len(refined)) < minRefinedLenFraction*float64(len(current)) || !KeyTermsPreserved(original, refined) {
			_ = r.registry.AppendLog(job.ID, "warn", fmt.Sprintf("refinement round %d rejected, retranslating from scratch", round))
			fresh, _, ferr := r.translator.Translate(ctx, original, src, tgt, syncMode, job.Settings.TranslateEngine)
			if ferr != nil || strings.TrimSpace(fresh) == "" {
				break
			}
			current = fresh
			continue
		}
		current = refined
	}
	return best, bestScore, nil
}

func (r *Runner) recordRound(job *models.Job, round int, v *qualityeval.Verdict) {
	job.QualityRounds = append(job.QualityRounds, models.QualityResult{
		Round: round,
		Score: v.OverallScore,
		Breakdown: map[string]float64{
			"accuracy":    v.Breakdown.Accuracy,
			"naturalness": v.Breakdown.Naturalness,
			"dubbing_fit": v.Breakdown.DubbingFit,
			"consistency": v.Breakdown.Consistency,
		},
		Issues:         v.Issues,
		Recommendation: v.Recommendation,
		SampledFront:   v.SampledFront,
		SampledMid:     v.SampledMid,
		SampledEnd:     v.SampledEnd,
	})
	_ = r.registry.Sync(job)
}

// beginStage polls the cancellation set, marks the stage processing, and
// persists.
func (r *Runner) beginStage(job *models.Job, stage string) error {
	if r.cancels.IsCancelled(job.ID) {
		if job.Steps == nil {
			job.Steps = models.Steps{}
		}
		job.Steps[stage] = models.StepFailed
		job.CurrentStep = stage
		_ = r.registry.Sync(job)
		return apperr.New(apperr.KindCancellation, "cancelled by user")
	}
	if job.Steps == nil {
		job.Steps = models.Steps{}
	}
	job.CurrentStep = stage
	job.Steps[stage] = models.StepProcessing
	job.UpdatedAt = time.Now()
	logger.StageStarted(job.ID, stage)
	return r.registry.Sync(job)
}

func (r *Runner) endStage(job *models.Job, stage string, progress int) {
	job.Steps[stage] = models.StepDone
	r.setProgress(job, progress)
}

// failStage marks the stage failed and persists; the error (possibly
// reclassified) propagates to the job manager, which sets terminal status.
func (r *Runner) failStage(job *models.Job, stage string, err error) error {
	job.Steps[stage] = models.StepFailed
	job.UpdatedAt = time.Now()
	_ = r.registry.Sync(job)
	_ = r.registry.AppendLog(job.ID, "error", truncate(fmt.Sprintf("%s failed: %v", stage, err), 500))
	return err
}

// setProgress enforces per-job monotonic progress.
func (r *Runner) setProgress(job *models.Job, progress int) {
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now()
	_ = r.registry.Sync(job)
}

// classifyStage turns a raw stage error into the right apperr kind,
// recognizing deadline breaches and cooperative cancellation before
// falling back to provider classification.
func (r *Runner) classifyStage(ctx context.Context, what string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindTimeout, what+" timed out", err)
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.KindCancellation, "cancelled by user", err)
	default:
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Wrap(apperr.ClassifyProviderError(err), what+" failed", err)
	}
}

func joinSegments(segs []sttbackend.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// Ensure the concrete mediaops type keeps satisfying Media.
var _ Media = (*mediaops.Ops)(nil)
