// Package events carries session notifications (previews, chunk lifecycle,
// warnings) from the pipeline to any number of sinks.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/transcript"
)

type Kind string

const (
	KindPreview       Kind = "preview"
	KindSegmentFinal  Kind = "segment_final"
	KindChunkCreated  Kind = "chunk_created"
	KindChunkPromoted Kind = "chunk_promoted"
	KindChunkCached   Kind = "chunk_cached"
	KindWarning       Kind = "warning"
	KindActionNeeded  Kind = "action_needed"
	KindStateChanged  Kind = "state_changed"
)

type WarningKind string

const (
	WarnPartialDataLoss   WarningKind = "partial_data_loss"
	WarnSchemaUnavailable WarningKind = "schema_unavailable"
	WarnWriteRetry        WarningKind = "write_retry"
	WarnCached            WarningKind = "cached_locally"
	WarnCacheFailed       WarningKind = "cache_failed"
	WarnConnectionFailed  WarningKind = "connection_failed"
	WarnEnrichmentFailed  WarningKind = "enrichment_failed"
	WarnUndelivered       WarningKind = "undelivered"
	WarnPartialDiscarded  WarningKind = "partial_discarded"
)

type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

func (w Warning) String() string {
	if w.Err != nil {
		return w.Message + ": " + w.Err.Error()
	}
	return w.Message
}

// Event is one session notification. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind      Kind                `json:"kind"`
	SessionID string              `json:"session_id"`
	Time      time.Time           `json:"time"`
	Segment   *transcript.Segment `json:"segment,omitempty"`
	Chunks    []transcript.Chunk  `json:"chunks,omitempty"`
	Warning   *Warning            `json:"warning,omitempty"`
	State     string              `json:"state,omitempty"`
}

// Sink receives events. Publish must not block for long; sinks that talk to
// the network buffer internally.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// Func adapts a function to a Sink.
type Func func(ctx context.Context, ev Event)

func (f Func) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards events.
var Nop Sink = Func(func(context.Context, Event) {})

// Fanout delivers each event to every sink in order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

func (f *Fanout) Add(s Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *Fanout) Publish(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(ctx, ev)
	}
}

// LogSink writes events to a zerolog logger. Previews are logged at trace.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Publish(_ context.Context, ev Event) {
	var e *zerolog.Event
	switch ev.Kind {
	case KindPreview:
		e = s.Log.Trace()
	case KindWarning:
		e = s.Log.Warn()
	case KindActionNeeded:
		e = s.Log.Error()
	case KindStateChanged:
		e = s.Log.Info()
	default:
		e = s.Log.Debug()
	}
	e = e.Str("kind", string(ev.Kind)).Str("session", ev.SessionID)
	if ev.Segment != nil {
		e = e.Str("segment", ev.Segment.ID).Int("speaker", ev.Segment.SpeakerID).Str("text", ev.Segment.Text)
	}
	if len(ev.Chunks) > 0 {
		e = e.Int("chunks", len(ev.Chunks))
	}
	if ev.State != "" {
		e = e.Str("state", ev.State)
	}
	if ev.Warning != nil {
		e = e.Str("warning", string(ev.Warning.Kind)).AnErr("cause", ev.Warning.Err)
		e.Msg(ev.Warning.Message)
		return
	}
	e.Msg("session event")
}
