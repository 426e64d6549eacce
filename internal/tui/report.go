package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"gopkg.in/yaml.v3"

	"github.com/gkirna/scribeflow/internal/deps"
	"github.com/gkirna/scribeflow/internal/persist"
	"github.com/gkirna/scribeflow/internal/pipeline"
	"github.com/gkirna/scribeflow/internal/transcript"
)

// Format selects how reports are written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (must be text, json, or yaml)", s)
	}
}

// CachedSession is one entry of the fallback cache listing.
type CachedSession struct {
	SessionID string `json:"session_id" yaml:"session_id"`
	Chunks    int    `json:"chunks" yaml:"chunks"`
}

// Reporter writes command results as styled text, JSON or YAML.
type Reporter struct {
	w      io.Writer
	format Format
	styles Styles
}

// NewReporter styles text for w's terminal; opts can force a color
// profile.
func NewReporter(w io.Writer, format Format, opts ...termenv.OutputOption) *Reporter {
	return &Reporter{
		w:      w,
		format: format,
		styles: NewStyles(lipgloss.NewRenderer(w, opts...)),
	}
}

func (r *Reporter) encode(v any) (bool, error) {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

// Output renders a session's structured output grouped by speaker.
func (r *Reporter) Output(out transcript.StructuredOutput) error {
	if done, err := r.encode(out); done {
		return err
	}
	s := r.styles

	var b strings.Builder
	b.WriteString(s.Header.Render("Session " + out.SessionID))
	b.WriteString("\n")

	sum := out.Summary
	b.WriteString(s.Box.Render(strings.Join([]string{
		fmt.Sprintf("%s %.1fs", s.Label.Render("Duration:"), sum.TotalDuration),
		fmt.Sprintf("%s %d", s.Label.Render("Speakers:"), sum.SpeakerCount),
		fmt.Sprintf("%s %d", s.Label.Render("Entities:"), sum.EntityCount),
		fmt.Sprintf("%s %s", s.Label.Render("Sentiment:"), sum.Sentiment),
		fmt.Sprintf("%s %s", s.Label.Render("Urgency:"), sum.Urgency),
	}, "\n")))
	b.WriteString("\n\n")

	for _, sp := range out.Speakers {
		title := fmt.Sprintf("Speaker %d", sp.SpeakerID)
		if sp.SpeakerID < 0 {
			title = "Unattributed"
		}
		b.WriteString(s.Speaker(sp.SpeakerID).Render(title))
		b.WriteString(s.Muted.Render(fmt.Sprintf(" (role %s, gender %s)", sp.Role, sp.Gender)))
		b.WriteString("\n")
		for _, seg := range sp.Segments {
			line := fmt.Sprintf("  %s %s", s.Muted.Render(fmt.Sprintf("[%6.1f-%6.1f]", seg.Start, seg.End)), seg.Text)
			if seg.LowConfidence {
				line += " " + s.Warning.Render("(overlap)")
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	if len(out.Entities) > 0 {
		b.WriteString(s.Label.Render("Entities"))
		b.WriteString("\n")
		for _, e := range out.Entities {
			fmt.Fprintf(&b, "  %s %s\n", e.Text, s.Subtle.Render(e.Type))
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

// Stats renders session counters.
func (r *Reporter) Stats(st pipeline.Stats) error {
	if done, err := r.encode(st); done {
		return err
	}
	s := r.styles
	status := s.Success
	switch st.Status {
	case pipeline.Failed:
		status = s.Error
	case pipeline.Paused, pipeline.Stopping:
		status = s.Warning
	}

	rows := [][2]string{
		{"Session", st.SessionID},
		{"Status", status.Render(string(st.Status))},
		{"Connection", st.Connection},
		{"Frames", fmt.Sprintf("%d (%d discarded)", st.Frames, st.Discarded)},
		{"Sent samples", fmt.Sprint(st.SentSamples)},
		{"Evicted samples", fmt.Sprint(st.Evicted)},
		{"Finals", fmt.Sprint(st.Finals)},
		{"Pending chunks", fmt.Sprint(st.Pending)},
		{"Cached chunks", fmt.Sprint(st.Cached)},
	}
	return r.table(rows)
}

func (r *Reporter) table(rows [][2]string) error {
	width := 0
	for _, row := range rows {
		width = max(width, len(row[0]))
	}
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%s %s\n", r.styles.Label.Render(fmt.Sprintf("%-*s", width+1, row[0]+":")), row[1])
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Sessions lists sessions held in the fallback cache.
func (r *Reporter) Sessions(sessions []CachedSession) error {
	if done, err := r.encode(sessions); done {
		return err
	}
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(r.w, r.styles.Muted.Render("fallback cache is empty"))
		return err
	}
	rows := make([][2]string, 0, len(sessions))
	for _, cs := range sessions {
		rows = append(rows, [2]string{cs.SessionID, fmt.Sprintf("%d chunks", cs.Chunks)})
	}
	return r.table(rows)
}

// Chunks renders the stored chunks of one session.
func (r *Reporter) Chunks(sessionID string, chunks []transcript.Chunk) error {
	if chunks == nil {
		chunks = []transcript.Chunk{}
	}
	if done, err := r.encode(chunks); done {
		return err
	}
	if len(chunks) == 0 {
		_, err := fmt.Fprintln(r.w, r.styles.Muted.Render("no stored chunks for session "+sessionID))
		return err
	}
	var b strings.Builder
	b.WriteString(r.styles.Header.Render("Session "+sessionID) + "\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "%s %s %s %s\n",
			r.styles.Muted.Render(fmt.Sprintf("[%6.1f]", c.TimestampOffset)),
			r.styles.Speaker(c.Speaker).Render(fmt.Sprintf("speaker %d:", c.Speaker)),
			c.Text,
			r.styles.Muted.Render(c.ID))
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Replay renders cache replay results.
func (r *Reporter) Replay(results []persist.ReplayResult) error {
	if done, err := r.encode(results); done {
		return err
	}
	if len(results) == 0 {
		_, err := fmt.Fprintln(r.w, r.styles.Muted.Render("nothing to replay"))
		return err
	}
	var b strings.Builder
	for _, res := range results {
		mark := r.styles.Success.Render("ok")
		if res.Error != "" {
			mark = r.styles.Error.Render("failed")
		}
		fmt.Fprintf(&b, "%s %s persisted=%d remaining=%d", mark, res.SessionID, res.Persisted, res.Remaining)
		if res.Error != "" {
			b.WriteString(" " + r.styles.Muted.Render(res.Error))
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Doctor renders external tool checks.
func (r *Reporter) Doctor(results []deps.Result) error {
	if done, err := r.encode(results); done {
		return err
	}
	var b strings.Builder
	for _, res := range results {
		switch {
		case res.Installed:
			fmt.Fprintf(&b, "%s %s %s\n", r.styles.Success.Render("✓"), res.Name, r.styles.Muted.Render(res.Version))
		case res.Required:
			fmt.Fprintf(&b, "%s %s %s\n", r.styles.Error.Render("✗"), res.Name, r.styles.Muted.Render("required for "+res.Purpose))
		default:
			fmt.Fprintf(&b, "%s %s %s\n", r.styles.Warning.Render("!"), res.Name, r.styles.Muted.Render("optional, used for "+res.Purpose))
		}
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}
