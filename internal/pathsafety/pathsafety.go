// Package pathsafety confines upload and output file paths to their
// configured roots and rejects filenames that could be used to escape a
// sandbox or smuggle shell metacharacters into a later exec.Command call.
// No third-party library in the reference corpus targets path
// confinement specifically, so this stays on the standard library's
// path/filepath, matching the teacher's plain-stdlib file-handling idiom.
package pathsafety

import (
	"fmt"
	"path/filepath"
	"strings"
)

var shellMetacharacters = []string{"`", "$", "|", ";", "&", ">", "<", "\n", "\r"}

// SanitizeFilename rejects filenames carrying null bytes, path traversal
// segments, shell metacharacters, or a leading dash (which some CLIs,
// including ffmpeg, would otherwise interpret as a flag).
func SanitizeFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename is empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("filename contains a null byte")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("filename contains a path traversal segment")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("filename must not start with a dash")
	}
	for _, m := range shellMetacharacters {
		if strings.Contains(name, m) {
			return fmt.Errorf("filename contains disallowed character %q", m)
		}
	}
	return nil
}

// ConfineToRoot resolves candidate against root and verifies the result
// stays within root, returning the cleaned absolute path. Use this before
// opening any path built from user-controlled input (job ID, filename).
func ConfineToRoot(root, candidate string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	joined := filepath.Join(absRoot, candidate)
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolving candidate: %w", err)
	}
	rel, err := filepath.Rel(absRoot, absJoined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes root %q", candidate, root)
	}
	return absJoined, nil
}

// AllowedExtensions is the set of input container/extensions the control
// plane accepts for upload.
var AllowedExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true, ".webm": true,
	".mp3": true, ".wav": true, ".m4a": true, ".flac": true,
}

// CheckExtension reports whether filename's extension is in AllowedExtensions.
func CheckExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !AllowedExtensions[ext] {
		return fmt.Errorf("unsupported file extension %q", ext)
	}
	return nil
}
