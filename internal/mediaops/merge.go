package mediaops

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"videovoice/pkg/logger"
)

// tempoNeutralBand is how close the audio/video duration ratio must be to
// 1.0 before speed adjustment is skipped and the plain merge used instead.
const tempoNeutralBand = 0.02

// MergeOptimize fits the dubbed audio to the video's timeline: video
// stream copied, audio padded with silence when shorter and trimmed at the
// video's length. Output duration equals the video's.
func (o *Ops) MergeOptimize(ctx context.Context, videoPath, audioPath, outputPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	args := []string{
		"-y", "-i", videoPath, "-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-af", "apad",
		"-c:a", "aac",
		"-shortest",
		outputPath,
	}
	return o.run(ctx, args)
}

// ExtendVideoToAudio implements the "stretch" sync mode: when the dubbed
// audio runs longer than the video, the video is re-encoded with its
// presentation timestamps scaled by audio/video so nothing is cut. When
// the audio is not longer, this falls back to MergeOptimize.
func (o *Ops) ExtendVideoToAudio(ctx context.Context, videoPath, audioPath, outputPath string, timeout time.Duration, useGPU bool) error {
	videoDur, err := o.ProbeDuration(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("probing video duration: %w", err)
	}
	audioDur, err := o.ProbeDuration(ctx, audioPath)
	if err != nil {
		return fmt.Errorf("probing audio duration: %w", err)
	}
	if audioDur <= videoDur || videoDur == 0 {
		return o.MergeOptimize(ctx, videoPath, audioPath, outputPath, timeout)
	}
	stretch := audioDur / videoDur
	return o.MuxAudioIntoVideo(ctx, videoPath, audioPath, outputPath, stretch, timeout, useGPU)
}

// SpeedAudioToVideo implements the "speed_audio" sync mode: the audio's
// tempo is adjusted by audio/video so it lands exactly on the video's
// length, and the video stream is copied untouched. Ratios inside
// tempoNeutralBand of 1.0 skip the tempo pass entirely.
func (o *Ops) SpeedAudioToVideo(ctx context.Context, videoPath, audioPath, outputPath string, timeout time.Duration) error {
	videoDur, err := o.ProbeDuration(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("probing video duration: %w", err)
	}
	audioDur, err := o.ProbeDuration(ctx, audioPath)
	if err != nil {
		return fmt.Errorf("probing audio duration: %w", err)
	}
	if videoDur == 0 || audioDur == 0 {
		return fmt.Errorf("cannot derive tempo factor from zero-length media")
	}

	factor := audioDur / videoDur
	if math.Abs(factor-1.0) < tempoNeutralBand {
		return o.MergeOptimize(ctx, videoPath, audioPath, outputPath, timeout)
	}

	adjusted := filepath.Join(filepath.Dir(outputPath), "tempo_"+filepath.Base(audioPath))
	if err := o.SpeedAudio(ctx, audioPath, adjusted, factor, timeout); err != nil {
		return fmt.Errorf("adjusting audio tempo by %.3f: %w", factor, err)
	}
	defer removeFile(adjusted)

	logger.Debug("Speed-adjusted dubbed audio", "factor", fmt.Sprintf("%.3f", factor))
	return o.MergeOptimize(ctx, videoPath, adjusted, outputPath, timeout)
}
