package translatebackend

import (
	"fmt"
	"strings"
)

// Sync modes, mirrored from the job settings as plain strings so this
// package stays decoupled from the job model.
const (
	SyncOptimize   = "optimize"
	SyncStretch    = "stretch"
	SyncSpeedAudio = "speed_audio"
)

// languageGuidance carries target-language-specific instructions appended
// to the system prompt for languages where register and agreement rules
// change the translation materially.
var languageGuidance = map[string]string{
	"ko": "Use consistent politeness level (해요체 for conversational content, 합쇼체 for formal narration). Keep particle usage natural and avoid literal subject repetition.",
	"ru": "Maintain correct case and gender agreement throughout. Map informal English address to ты only when the source is clearly casual; default to вы.",
	"ja": "Choose one register (です/ます or plain form) and keep it consistent. Prefer natural topic omission over literal pronoun translation.",
}

// fewShotExemplars holds curated source/target pairs prepended for common
// pairs so short conversational lines translate idiomatically instead of
// word-for-word.
var fewShotExemplars = map[string][][2]string{
	"en-ko": {
		{"Let's get started.", "시작해 볼게요."},
		{"That's all for today. Thanks for watching!", "오늘은 여기까지입니다. 시청해 주셔서 감사합니다!"},
	},
	"en-ja": {
		{"Let's get started.", "それでは始めましょう。"},
	},
	"en-es": {
		{"That's all for today. Thanks for watching!", "Eso es todo por hoy. ¡Gracias por ver!"},
	},
}

// translateSystemPrompt builds the system instruction for a plain
// translation call. The sync mode decides whether the model may compress
// phrasing to fit spoken duration or must translate completely.
func translateSystemPrompt(src, tgt, syncMode string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the given text from %s to %s.", src, tgt)
	switch syncMode {
	case SyncOptimize:
		b.WriteString(" Translate concisely and preserve the full meaning; slight compression to match spoken duration is allowed, omission is not.")
	default:
		b.WriteString(" Translate completely, with no omission or summarization.")
	}
	b.WriteString(" Preserve numbers, proper nouns, and formatting. Reply with only the translation.")
	if g, ok := languageGuidance[tgt]; ok {
		b.WriteString(" ")
		b.WriteString(g)
	}
	if exemplars, ok := fewShotExemplars[src+"-"+tgt]; ok {
		b.WriteString("\nExamples:")
		for _, ex := range exemplars {
			fmt.Fprintf(&b, "\n%q -> %q", ex[0], ex[1])
		}
	}
	return b.String()
}

// refineSystemPrompt builds the instruction for a refinement pass, which
// receives both the original and the prior translation plus the reviewer's
// issues to address.
func refineSystemPrompt(src, tgt, syncMode string, issues []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You will receive a %s source text and its current %s translation. Produce an improved translation.", src, tgt)
	if len(issues) > 0 {
		b.WriteString(" Address these issues: ")
		b.WriteString(strings.Join(issues, "; "))
		b.WriteString(".")
	}
	switch syncMode {
	case SyncOptimize:
		b.WriteString(" Slight compression to match spoken duration is allowed, omission is not.")
	default:
		b.WriteString(" Do not omit or summarize any content.")
	}
	b.WriteString(" Keep all numbers and proper nouns. Reply with only the improved translation.")
	if g, ok := languageGuidance[tgt]; ok {
		b.WriteString(" ")
		b.WriteString(g)
	}
	return b.String()
}

// refineUserText packs the original/translated pair into the user message
// for a refinement call.
func refineUserText(original, translated string) string {
	return fmt.Sprintf("Source:\n%s\n\nCurrent translation:\n%s", original, translated)
}

// segmentBatchSystemPrompt builds the instruction for tag-wrapped batch
// segment translation.
func segmentBatchSystemPrompt(src, tgt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate each numbered segment from %s to %s. The input wraps each segment in <sN>...</sN> tags.", src, tgt)
	b.WriteString(" Reply with every segment translated, each wrapped in the same <sN>...</sN> tag it arrived in, and nothing else.")
	b.WriteString(" Keep segments independent; do not merge or reorder them.")
	if g, ok := languageGuidance[tgt]; ok {
		b.WriteString(" ")
		b.WriteString(g)
	}
	return b.String()
}
