package llm

import (
	"fmt"
	"strings"

	"github.com/gkirna/scribeflow/internal/transcript"
)

// BuildSystemPrompt generates the system prompt asking for JSON annotations
func BuildSystemPrompt(domain string, keywords []string) string {
	var b strings.Builder
	b.WriteString("You analyze diarized conversation transcripts.")
	if domain != "" {
		fmt.Fprintf(&b, " The conversation comes from this setting: %s.", domain)
	}
	b.WriteString("\n\nReturn a single JSON object with these fields:\n")
	b.WriteString(`- "speakers": object keyed by speaker number, each {"role": string, "gender": string}` + "\n")
	b.WriteString(`- "entities": array of {"text": string, "type": string} for people, places, medications, symptoms, dates, amounts` + "\n")
	b.WriteString(`- "sentiment": one of "positive", "neutral", "negative"` + "\n")
	b.WriteString(`- "urgency": one of "low", "medium", "high"` + "\n")
	b.WriteString("\nRules:\n")
	b.WriteString("- Use \"unknown\" for anything the transcript does not support\n")
	b.WriteString("- Do not invent speakers that do not appear in the transcript\n")
	b.WriteString("- Output ONLY the JSON object, nothing else\n")

	if len(keywords) > 0 {
		fmt.Fprintf(&b, "\nContext keywords (use correct spelling for these terms): %s\n", strings.Join(keywords, ", "))
	}
	return b.String()
}

// BuildUserPrompt renders segments one per line as "[start-end] Speaker N: text".
func BuildUserPrompt(segments []transcript.Segment, customPrompt string) string {
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "[%.1f-%.1f] Speaker %d: %s\n", s.Start, s.End, s.SpeakerID, s.Text)
	}
	if customPrompt != "" {
		return fmt.Sprintf("%s\n\nTranscript:\n%s", customPrompt, b.String())
	}
	return b.String()
}
