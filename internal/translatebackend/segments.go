package translatebackend

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// segmentBatchSize is how many segments ride in one tagged batch prompt.
const segmentBatchSize = 10

// batchParseFloor is the minimum fraction of a batch that must parse back
// out of the response before the batch result is kept; below it the whole
// batch falls back to per-segment translation.
const batchParseFloor = 0.7

// markerFormRe accepts the "[N] text" reply form some models use instead
// of echoing the XML-style tags.
var markerFormRe = regexp.MustCompile(`(?m)^\[(\d+)\]\s*(.+)$`)

// TranslateSegments translates segments in tagged batches, parsing each
// reply by tag lookup. Per batch: if at least batchParseFloor of the
// segments parse, only the missing ones are retranslated one-by-one;
// below the floor the entire batch is redone per-segment. The returned
// rate is parsed-on-first-pass over non-empty segments, as a percentage.
func (c *Chain) TranslateSegments(ctx context.Context, segments []string, src, tgt, engine string, progress func(done, total int)) ([]string, int, string, error) {
	out := make([]string, len(segments))
	prompt := segmentBatchSystemPrompt(src, tgt)

	nonEmpty, parsedFirstPass := 0, 0
	var usedProvider string

	for start := 0; start < len(segments); start += segmentBatchSize {
		end := start + segmentBatchSize
		if end > len(segments) {
			end = len(segments)
		}
		batch := segments[start:end]

		batchNonEmpty := 0
		for _, s := range batch {
			if strings.TrimSpace(s) != "" {
				batchNonEmpty++
			}
		}
		nonEmpty += batchNonEmpty
		if batchNonEmpty == 0 {
			continue
		}

		reply, provider, err := c.dispatch(ctx, prompt, wrapBatch(batch), translateAttempts, engine)
		if err != nil {
			return nil, 0, "", fmt.Errorf("translating segment batch starting at %d: %w", start, err)
		}
		usedProvider = provider

		parsed := parseBatch(reply, len(batch))
		parsedCount := 0
		for i := range batch {
			if strings.TrimSpace(batch[i]) == "" {
				out[start+i] = batch[i]
				continue
			}
			if parsed[i] != "" {
				out[start+i] = parsed[i]
				parsedCount++
			}
		}
		parsedFirstPass += parsedCount

		if float64(parsedCount) >= batchParseFloor*float64(batchNonEmpty) {
			// retranslate only the stragglers
			for i := range batch {
				if out[start+i] != "" || strings.TrimSpace(batch[i]) == "" {
					continue
				}
				single, _, err := c.Translate(ctx, batch[i], src, tgt, SyncOptimize, engine)
				if err != nil {
					return nil, 0, "", fmt.Errorf("retranslating segment %d: %w", start+i, err)
				}
				out[start+i] = single
			}
		} else {
			for i := range batch {
				if strings.TrimSpace(batch[i]) == "" {
					continue
				}
				single, _, err := c.Translate(ctx, batch[i], src, tgt, SyncOptimize, engine)
				if err != nil {
					return nil, 0, "", fmt.Errorf("translating segment %d individually: %w", start+i, err)
				}
				out[start+i] = single
			}
		}

		if progress != nil {
			progress(end, len(segments))
		}
	}

	rate := 100
	if nonEmpty > 0 {
		rate = parsedFirstPass * 100 / nonEmpty
	}
	return out, rate, usedProvider, nil
}

// wrapBatch numbers each segment with <sN> tags, 1-based within the batch.
func wrapBatch(batch []string) string {
	var b strings.Builder
	for i, s := range batch {
		fmt.Fprintf(&b, "<s%d>%s</s%d>\n", i+1, s, i+1)
	}
	return b.String()
}

// parseBatch extracts per-segment translations from a batch reply,
// preferring the XML-style tags and accepting the [N] marker form.
// Missing entries are left empty.
func parseBatch(reply string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		openTag := fmt.Sprintf("<s%d>", i+1)
		closeTag := fmt.Sprintf("</s%d>", i+1)
		start := strings.Index(reply, openTag)
		if start < 0 {
			continue
		}
		rest := reply[start+len(openTag):]
		stop := strings.Index(rest, closeTag)
		if stop < 0 {
			continue
		}
		out[i] = strings.TrimSpace(rest[:stop])
	}

	for _, m := range markerFormRe.FindAllStringSubmatch(reply, -1) {
		idx := 0
		fmt.Sscanf(m[1], "%d", &idx)
		if idx >= 1 && idx <= n && out[idx-1] == "" {
			out[idx-1] = strings.TrimSpace(m[2])
		}
	}
	return out
}
