package mediaops

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubtitleCodecFor_ByContainer(t *testing.T) {
	assert.Equal(t, "mov_text", SubtitleCodecFor("out.mp4"))
	assert.Equal(t, "srt", SubtitleCodecFor("out.mkv"))
	assert.Equal(t, "webvtt", SubtitleCodecFor("out.webm"))
	assert.Equal(t, "mov_text", SubtitleCodecFor("out.avi"))
}

func TestFilterFriendlyPath(t *testing.T) {
	assert.True(t, filterFriendlyPath("/tmp/captions-abc.srt"))
	assert.False(t, filterFriendlyPath("/tmp/자막.srt"))
	assert.False(t, filterFriendlyPath("/tmp/it's.srt"))
	assert.False(t, filterFriendlyPath("/tmp/a[1].srt"))
}

func TestAtempoFilter_SingleStage(t *testing.T) {
	filter := AtempoFilter(1.2)
	assert.Equal(t, "atempo=1.200000", filter)
}

func TestAtempoFilter_ChainedStages(t *testing.T) {
	filter := AtempoFilter(5.0)
	require.True(t, strings.Contains(filter, ","))
	for _, stage := range strings.Split(filter, ",") {
		assert.True(t, strings.HasPrefix(stage, "atempo="))
	}
}

func TestEscapeFilterPath(t *testing.T) {
	escaped := escapeFilterPath(`C:\media\file.srt`)
	assert.NotContains(t, escaped, "C:")
	assert.Contains(t, escaped, `\:`)
}

func TestNew_Defaults(t *testing.T) {
	o := New("", "", "", "")
	assert.Equal(t, "ffmpeg", o.FFmpegPath)
	assert.Equal(t, "ffprobe", o.FFprobePath)
	assert.Equal(t, "libx264", o.CPUEncoder)
	assert.Empty(t, o.GPUEncoder)
}
