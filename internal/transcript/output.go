package transcript

import (
	"sort"
	"strings"
)

// Unknown is used for every annotation the enrichment stage could not supply.
const Unknown = "unknown"

// Annotations are derived fields produced by the enrichment stage.
type Annotations struct {
	Speakers  map[int]SpeakerAnnotation
	Entities  []Entity
	Sentiment string
	Urgency   string
}

type SpeakerAnnotation struct {
	Role   string `json:"role"`
	Gender string `json:"gender"`
}

type Entity struct {
	Text string `json:"text" yaml:"text"`
	Type string `json:"type" yaml:"type"`
}

// StructuredOutput is the read-only session summary built at stop time.
type StructuredOutput struct {
	SessionID string          `json:"session_id" yaml:"session_id"`
	Speakers  []SpeakerOutput `json:"speakers" yaml:"speakers"`
	Summary   Summary         `json:"summary" yaml:"summary"`
	Entities  []Entity        `json:"entities,omitempty" yaml:"entities,omitempty"`
}

type SpeakerOutput struct {
	SpeakerID int             `json:"speaker_id" yaml:"speaker_id"`
	Role      string          `json:"role" yaml:"role"`
	Gender    string          `json:"gender" yaml:"gender"`
	Segments  []SegmentOutput `json:"segments" yaml:"segments"`
}

type SegmentOutput struct {
	ID            string  `json:"id" yaml:"id"`
	Start         float64 `json:"start" yaml:"start"`
	End           float64 `json:"end" yaml:"end"`
	Text          string  `json:"text" yaml:"text"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
	LowConfidence bool    `json:"low_confidence" yaml:"low_confidence"`
}

type Summary struct {
	TotalDuration float64 `json:"total_duration" yaml:"total_duration"`
	SpeakerCount  int     `json:"speaker_count" yaml:"speaker_count"`
	EntityCount   int     `json:"entity_count" yaml:"entity_count"`
	Sentiment     string  `json:"sentiment" yaml:"sentiment"`
	Urgency       string  `json:"urgency" yaml:"urgency"`
}

// BuildStructuredOutput groups finalized segments by speaker and applies
// annotations. A nil ann yields "unknown" for every derived field. Segments
// that overlap a different speaker's segment are marked low confidence.
func BuildStructuredOutput(sessionID string, segments []Segment, ann *Annotations) StructuredOutput {
	segs := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.IsFinal {
			segs = append(segs, s)
		}
	}
	SortSegments(segs)

	overlapping := make([]bool, len(segs))
	for i := range segs {
		for j := i + 1; j < len(segs) && segs[j].Start < segs[i].End; j++ {
			if segs[i].SpeakerID != segs[j].SpeakerID && segs[i].Overlaps(segs[j]) {
				overlapping[i] = true
				overlapping[j] = true
			}
		}
	}

	bySpeaker := make(map[int]*SpeakerOutput)
	var order []int
	var first, last float64
	for i, s := range segs {
		if i == 0 || s.Start < first {
			first = s.Start
		}
		if s.End > last {
			last = s.End
		}

		out, ok := bySpeaker[s.SpeakerID]
		if !ok {
			role, gender := Unknown, Unknown
			if ann != nil {
				if a, ok := ann.Speakers[s.SpeakerID]; ok {
					role = orUnknown(a.Role)
					gender = orUnknown(a.Gender)
				}
			}
			out = &SpeakerOutput{SpeakerID: s.SpeakerID, Role: role, Gender: gender}
			bySpeaker[s.SpeakerID] = out
			order = append(order, s.SpeakerID)
		}
		out.Segments = append(out.Segments, SegmentOutput{
			ID:            s.ID,
			Start:         s.Start,
			End:           s.End,
			Text:          s.Text,
			Confidence:    s.Confidence,
			LowConfidence: overlapping[i],
		})
	}

	sort.Ints(order)
	result := StructuredOutput{
		SessionID: sessionID,
		Speakers:  make([]SpeakerOutput, 0, len(order)),
		Summary: Summary{
			SpeakerCount: len(order),
			Sentiment:    Unknown,
			Urgency:      Unknown,
		},
	}
	for _, id := range order {
		result.Speakers = append(result.Speakers, *bySpeaker[id])
	}
	if len(segs) > 0 {
		result.Summary.TotalDuration = last - first
	}
	if ann != nil {
		result.Entities = ann.Entities
		result.Summary.EntityCount = len(ann.Entities)
		result.Summary.Sentiment = orUnknown(ann.Sentiment)
		result.Summary.Urgency = orUnknown(ann.Urgency)
	}
	return result
}

func orUnknown(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Unknown
	}
	return s
}
