// Package transcript defines the transcript data model shared by the
// reconciler, the persistence queue and the structured output builder.
package transcript

import (
	"sort"
	"time"
)

// Word is a single recognized token with timing in seconds from session start.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Segment is a contiguous utterance by one speaker. ID is the correlation id
// that follows the segment into its persisted chunk.
type Segment struct {
	ID         string  `json:"id"`
	SpeakerID  int     `json:"speaker_id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
	IsFinal    bool    `json:"is_final"`
}

// Clone returns a copy that shares no slices with s.
func (s Segment) Clone() Segment {
	if s.Words != nil {
		s.Words = append([]Word(nil), s.Words...)
	}
	return s
}

// Overlaps reports whether two segments share any time range.
func (s Segment) Overlaps(o Segment) bool {
	return s.Start < o.End && o.Start < s.End
}

// Chunk is the persisted form of a finalized segment. Until the store assigns
// a durable id, ID equals CorrelationID and PendingPersist is true.
type Chunk struct {
	ID              string    `json:"id"`
	CorrelationID   string    `json:"correlation_id"`
	SessionID       string    `json:"session_id"`
	Text            string    `json:"text"`
	Speaker         int       `json:"speaker"`
	TimestampOffset float64   `json:"timestamp_offset"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
	PendingPersist  bool      `json:"pending_persist"`
}

// ChunkFromSegment builds the optimistic chunk for a finalized segment.
func ChunkFromSegment(sessionID string, seg Segment, now time.Time) Chunk {
	return Chunk{
		ID:              seg.ID,
		CorrelationID:   seg.ID,
		SessionID:       sessionID,
		Text:            seg.Text,
		Speaker:         seg.SpeakerID,
		TimestampOffset: seg.Start,
		Confidence:      seg.Confidence,
		CreatedAt:       now,
		PendingPersist:  true,
	}
}

// SortChunks orders chunks by timestamp offset, then speaker, then creation.
func SortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.TimestampOffset != b.TimestampOffset {
			return a.TimestampOffset < b.TimestampOffset
		}
		if a.Speaker != b.Speaker {
			return a.Speaker < b.Speaker
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// SortSegments orders segments by start time, then speaker.
func SortSegments(segs []Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].Start != segs[j].Start {
			return segs[i].Start < segs[j].Start
		}
		return segs[i].SpeakerID < segs[j].SpeakerID
	})
}
