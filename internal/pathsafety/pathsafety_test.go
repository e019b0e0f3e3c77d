package pathsafety

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename_AcceptsOrdinaryNames(t *testing.T) {
	for _, name := range []string{"video.mp4", "my_clip-v2.mkv", "a.b.c.wav"} {
		assert.NoError(t, SanitizeFilename(name), name)
	}
}

func TestSanitizeFilename_RejectsHostileNames(t *testing.T) {
	for _, name := range []string{
		"",
		"a\x00b.mp4",
		"../../etc/passwd",
		"-f.mp4",
		"a;rm.mp4",
		"a|b.mp4",
		"a`whoami`.mp4",
		"a$HOME.mp4",
		"a\nb.mp4",
	} {
		assert.Error(t, SanitizeFilename(name), "%q must be rejected", name)
	}
}

func TestConfineToRoot_KeepsPathsInside(t *testing.T) {
	root := t.TempDir()
	got, err := ConfineToRoot(root, "uploads.mp4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, root))
}

func TestConfineToRoot_RejectsEscapes(t *testing.T) {
	root := t.TempDir()
	for _, candidate := range []string{
		"../outside.mp4",
		"../../etc/passwd",
		"a/../../outside",
	} {
		_, err := ConfineToRoot(root, candidate)
		assert.Error(t, err, candidate)
	}
}

func TestConfineToRoot_NormalizesNestedSegments(t *testing.T) {
	root := t.TempDir()
	got, err := ConfineToRoot(root, "sub/./clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "clip.mp4"), got)
}

func TestCheckExtension(t *testing.T) {
	assert.NoError(t, CheckExtension("a.MP4"))
	assert.NoError(t, CheckExtension("a.flac"))
	assert.Error(t, CheckExtension("a.exe"))
	assert.Error(t, CheckExtension("noext"))
}
