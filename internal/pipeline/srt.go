package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"videovoice/internal/sttbackend"
)

// Caption is one subtitle cue.
type Caption struct {
	Index int
	Start int // ms
	End   int // ms
	Text  string
}

// WriteSRT renders captions into SubRip format, renumbering indices 1..N
// so callers never need to pre-sort or pre-number their input.
func WriteSRT(captions []Caption) string {
	var b strings.Builder
	for i, c := range captions {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatSRTTime(c.Start), formatSRTTime(c.End), c.Text)
	}
	return b.String()
}

// CaptionsFromSegments converts normalized STT/translation segments into
// SRT captions with sequential 1-based indices.
func CaptionsFromSegments(segments []sttbackend.Segment, texts []string) []Caption {
	out := make([]Caption, 0, len(segments))
	for i, s := range segments {
		text := s.Text
		if i < len(texts) {
			text = texts[i]
		}
		out = append(out, Caption{Index: i + 1, Start: s.Start, End: s.End, Text: text})
	}
	return out
}

func formatSRTTime(ms int) string {
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	msRem := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, msRem)
}

var srtTimeRe = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})`)

// ParseSRT parses SubRip text back into Captions. Malformed blocks are
// skipped rather than aborting the whole parse, since a single corrupt
// cue shouldn't invalidate an otherwise-usable file.
func ParseSRT(data string) []Caption {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	blocks := strings.Split(strings.TrimSpace(data), "\n\n")

	var out []Caption
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			continue
		}
		match := srtTimeRe.FindStringSubmatch(lines[1])
		if match == nil {
			continue
		}
		start := parseSRTTimestamp(match[1:5])
		end := parseSRTTimestamp(match[5:9])
		text := strings.Join(lines[2:], "\n")
		out = append(out, Caption{Index: idx, Start: start, End: end, Text: text})
	}
	return out
}

func parseSRTTimestamp(parts []string) int {
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.Atoi(parts[2])
	ms, _ := strconv.Atoi(parts[3])
	return h*3600000 + m*60000 + s*1000 + ms
}
