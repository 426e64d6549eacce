// Package reconcile folds interim and final provider results into finalized
// transcript segments, one in-progress segment per speaker.
package reconcile

import (
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/metrics"
	"github.com/gkirna/scribeflow/internal/transcriber"
	"github.com/gkirna/scribeflow/internal/transcript"
)

type Kind int

const (
	// None means the event changed no segment.
	None Kind = iota
	// Preview carries an in-progress segment for display only.
	Preview
	// Final carries a frozen segment ready for persistence.
	Final
)

func (k Kind) String() string {
	switch k {
	case Preview:
		return "preview"
	case Final:
		return "final"
	default:
		return "none"
	}
}

type Update struct {
	Kind    Kind
	Segment transcript.Segment
}

// finalKey identifies a final result. Finals without timing are never
// treated as duplicates.
type finalKey struct {
	speaker int
	startMS int64
	endMS   int64
	text    string
}

// Reconciler is safe for concurrent use.
type Reconciler struct {
	mu         sync.Mutex
	log        zerolog.Logger
	metrics    *metrics.Metrics
	newID      func() string
	active     int
	inProgress map[int]*transcript.Segment
	finalized  []transcript.Segment
	seen       map[finalKey]struct{}
}

func New(m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		log:        logging.WithComponent("reconcile"),
		metrics:    m,
		newID:      uuid.NewString,
		active:     transcriber.NoSpeaker,
		inProgress: make(map[int]*transcript.Segment),
		seen:       make(map[finalKey]struct{}),
	}
}

// Apply folds one provider event into the reconciler state.
func (r *Reconciler) Apply(ev transcriber.Event) Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case transcriber.EventSpeakerChange:
		if ev.HasSpeaker() {
			r.active = ev.SpeakerID
		}
		return Update{}
	case transcriber.EventPartial:
		return r.partialLocked(ev)
	case transcriber.EventFinal:
		return r.finalLocked(ev)
	default:
		return Update{}
	}
}

func (r *Reconciler) speakerFor(ev transcriber.Event) int {
	if ev.HasSpeaker() {
		return ev.SpeakerID
	}
	if r.active != transcriber.NoSpeaker {
		return r.active
	}
	return 0
}

func (r *Reconciler) partialLocked(ev transcriber.Event) Update {
	if ev.Text == "" {
		return Update{}
	}
	speaker := r.speakerFor(ev)
	seg, ok := r.inProgress[speaker]
	if !ok {
		seg = &transcript.Segment{ID: r.newID(), SpeakerID: speaker, Start: ev.Start}
		r.inProgress[speaker] = seg
	}
	seg.Text = ev.Text
	seg.Confidence = ev.Confidence
	seg.Words = append(seg.Words[:0], ev.Words...)
	if ev.End > seg.End {
		seg.End = ev.End
	}
	r.metrics.RecordPartial()
	return Update{Kind: Preview, Segment: seg.Clone()}
}

func (r *Reconciler) finalLocked(ev transcriber.Event) Update {
	speaker := r.speakerFor(ev)
	key := finalKey{
		speaker: speaker,
		startMS: int64(math.Round(ev.Start * 1000)),
		endMS:   int64(math.Round(ev.End * 1000)),
		text:    ev.Text,
	}
	timed := ev.Start > 0 || ev.End > 0
	if _, dup := r.seen[key]; dup && timed {
		r.metrics.RecordDuplicateFinal()
		r.log.Debug().Int("speaker", speaker).Str("text", ev.Text).Msg("dropping duplicate final")
		return Update{}
	}

	var seg transcript.Segment
	if slot, ok := r.inProgress[speaker]; ok {
		seg = slot.Clone()
		delete(r.inProgress, speaker)
		if timed {
			seg.Start = ev.Start
		}
	} else {
		// Provider finalized without sending interim results.
		seg = transcript.Segment{ID: r.newID(), SpeakerID: speaker, Start: ev.Start}
	}
	if ev.Text == "" {
		// An empty final closes the slot without producing a segment.
		return Update{}
	}
	if timed {
		r.seen[key] = struct{}{}
	}

	seg.Text = ev.Text
	seg.Confidence = ev.Confidence
	if len(ev.Words) > 0 {
		seg.Words = append([]transcript.Word(nil), ev.Words...)
	}
	if ev.End > seg.End {
		seg.End = ev.End
	}
	if seg.End < seg.Start {
		seg.End = seg.Start
	}
	seg.IsFinal = true

	r.finalized = append(r.finalized, seg)
	r.metrics.RecordFinal()
	return Update{Kind: Final, Segment: seg.Clone()}
}

// Finalized returns every finalized segment ordered by start time.
func (r *Reconciler) Finalized() []transcript.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transcript.Segment, len(r.finalized))
	for i, s := range r.finalized {
		out[i] = s.Clone()
	}
	transcript.SortSegments(out)
	return out
}

// Pending returns the in-progress segments that have not been finalized.
func (r *Reconciler) Pending() []transcript.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transcript.Segment, 0, len(r.inProgress))
	for _, s := range r.inProgress {
		out = append(out, s.Clone())
	}
	transcript.SortSegments(out)
	return out
}

// ActiveSpeaker is the last speaker announced by a speaker change, or
// NoSpeaker.
func (r *Reconciler) ActiveSpeaker() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
