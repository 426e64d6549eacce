// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gkirna/scribeflow/internal/events"
	"github.com/gkirna/scribeflow/internal/persist"
	"github.com/gkirna/scribeflow/internal/recording"
	"github.com/gkirna/scribeflow/internal/transcript"
)

// SyntheticSource emits a sine tone for a fixed duration, as fast as the
// consumer reads unless Pace is set.
type SyntheticSource struct {
	SampleRate int
	Duration   time.Duration
	FrameSize  int
	Pace       time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSyntheticSource(sampleRate int, d time.Duration) *SyntheticSource {
	return &SyntheticSource{SampleRate: sampleRate, Duration: d, FrameSize: sampleRate / 10}
}

func (s *SyntheticSource) Start(ctx context.Context) (<-chan recording.AudioFrame, <-chan error, error) {
	ctx, cancel := context.WithCancel(ctx)
	frames := make(chan recording.AudioFrame, 16)
	errs := make(chan error, 1)

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	total := int(s.Duration.Seconds() * float64(s.SampleRate))
	frameSize := s.FrameSize
	if frameSize <= 0 {
		frameSize = 1600
	}

	go func() {
		defer close(done)
		defer close(errs)
		defer close(frames)

		for pos := 0; pos < total; pos += frameSize {
			n := min(frameSize, total-pos)
			samples := make([]int16, n)
			for i := range samples {
				samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(pos+i)/float64(s.SampleRate)))
			}
			select {
			case frames <- recording.AudioFrame{Samples: samples, CapturedAt: time.Now()}:
			case <-ctx.Done():
				return
			}
			if s.Pace > 0 {
				select {
				case <-time.After(s.Pace):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return frames, errs, nil
}

func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *SyntheticSource) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// FlakyStore returns a memory store whose first failures calls fail with a
// transient error.
func FlakyStore(failures int) *persist.MemoryStore {
	store := persist.NewMemoryStore()
	store.Fail = func(call int, _ []transcript.Chunk) error {
		if call <= failures {
			return &persist.TransientWriteError{Err: context.DeadlineExceeded}
		}
		return nil
	}
	return store
}

// RecordingSink collects published events.
type RecordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *RecordingSink) Publish(_ context.Context, ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *RecordingSink) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Count returns how many events of kind were published.
func (r *RecordingSink) Count(kind events.Kind) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Warnings returns the warnings of kind wk published as warnings or
// action-needed signals.
func (r *RecordingSink) Warnings(wk events.WarningKind) []events.Warning {
	var out []events.Warning
	for _, ev := range r.Events() {
		if ev.Warning != nil && ev.Warning.Kind == wk {
			out = append(out, *ev.Warning)
		}
	}
	return out
}

// WaitFor polls cond until it holds or the timeout passes.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
