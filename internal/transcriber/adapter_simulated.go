package transcriber

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/gkirna/scribeflow/internal/transcript"
)

// SimulatedUtterance is one scripted turn. Partials are released evenly as
// audio covering the turn arrives; Final is released once the turn's
// Duration (seconds) of audio has been received.
type SimulatedUtterance struct {
	SpeakerID  int
	Partials   []string
	Final      string
	Confidence float64
	Duration   float64
}

// DefaultScript is a short two-speaker exchange.
var DefaultScript = []SimulatedUtterance{
	{
		SpeakerID:  0,
		Partials:   []string{"Thanks for", "Thanks for calling", "Thanks for calling how can I"},
		Final:      "Thanks for calling, how can I help you today?",
		Confidence: 0.95,
		Duration:   3,
	},
	{
		SpeakerID:  1,
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription.",
		Confidence: 0.92,
		Duration:   3,
	},
	{
		SpeakerID:  0,
		Partials:   []string{"Sure", "Sure I can"},
		Final:      "Sure, I can help with that.",
		Confidence: 0.97,
		Duration:   2.5,
	},
}

var errSimulatedClosed = errors.New("simulated: connection closed")

// SimulatedTransport replays a script against the audio it receives. The
// script timeline is shared by all connections so a reconnect resumes where
// the previous connection stopped.
type SimulatedTransport struct {
	script []SimulatedUtterance

	mu         sync.Mutex
	samples    int64
	idx        int
	partialIdx int
	begun      bool
	speaker    int
	dials      int
}

func NewSimulatedTransport(script []SimulatedUtterance) *SimulatedTransport {
	if len(script) == 0 {
		script = DefaultScript
	}
	return &SimulatedTransport{script: script, speaker: NoSpeaker}
}

func (t *SimulatedTransport) Name() string { return "simulated" }

// Dials returns how many sessions have been opened.
func (t *SimulatedTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *SimulatedTransport) Dial(ctx context.Context, cfg SessionConfig) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.dials++
	t.mu.Unlock()

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return &simulatedConn{
		t:      t,
		rate:   rate,
		queue:  []Event{{Type: EventSessionBegin, SpeakerID: NoSpeaker}},
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}, nil
}

func (t *SimulatedTransport) startOf(idx int) float64 {
	var start float64
	for i := 0; i < idx; i++ {
		start += t.script[i].Duration
	}
	return start
}

// advance releases every scripted event reached by the timeline. With
// flush set, the turn in progress is finalized early.
func (t *SimulatedTransport) advance(addSamples int64, rate int, flush bool) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples += addSamples
	now := float64(t.samples) / float64(rate)

	var out []Event
	for t.idx < len(t.script) {
		u := t.script[t.idx]
		start := t.startOf(t.idx)
		end := start + u.Duration
		if now < start || (flush && now == start) {
			break
		}
		if !t.begun {
			t.begun = true
			if u.SpeakerID != t.speaker {
				t.speaker = u.SpeakerID
				out = append(out, Event{Type: EventSpeakerChange, SpeakerID: u.SpeakerID, Start: start})
			}
		}
		step := u.Duration / float64(len(u.Partials)+1)
		for t.partialIdx < len(u.Partials) && now >= start+step*float64(t.partialIdx+1) {
			out = append(out, Event{
				Type:       EventPartial,
				Text:       u.Partials[t.partialIdx],
				SpeakerID:  u.SpeakerID,
				Confidence: u.Confidence,
				Start:      start,
				End:        start + step*float64(t.partialIdx+1),
			})
			t.partialIdx++
		}
		if now < end && !flush {
			break
		}
		fin := end
		if now < end {
			fin = now
		}
		out = append(out, Event{
			Type:       EventFinal,
			Text:       u.Final,
			SpeakerID:  u.SpeakerID,
			Confidence: u.Confidence,
			Start:      start,
			End:        fin,
			Words:      scriptWords(u.Final, start, fin, u.Confidence),
		})
		t.idx++
		t.partialIdx = 0
		t.begun = false
	}
	return out
}

func scriptWords(text string, start, end, confidence float64) []transcript.Word {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	step := (end - start) / float64(len(fields))
	words := make([]transcript.Word, len(fields))
	for i, f := range fields {
		words[i] = transcript.Word{
			Text:       f,
			Start:      math.Round((start+step*float64(i))*1000) / 1000,
			End:        math.Round((start+step*float64(i+1))*1000) / 1000,
			Confidence: confidence,
		}
	}
	return words
}

type simulatedConn struct {
	t    *SimulatedTransport
	rate int

	mu     sync.Mutex
	queue  []Event
	ended  bool
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func (c *simulatedConn) push(evs []Event, end bool) {
	c.mu.Lock()
	c.queue = append(c.queue, evs...)
	if end {
		c.ended = true
	}
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *simulatedConn) SendAudio(pcm []byte) error {
	select {
	case <-c.closed:
		return errSimulatedClosed
	default:
	}
	c.push(c.t.advance(int64(len(pcm)/2), c.rate, false), false)
	return nil
}

func (c *simulatedConn) Terminate() error {
	select {
	case <-c.closed:
		return errSimulatedClosed
	default:
	}
	evs := c.t.advance(0, c.rate, true)
	evs = append(evs, Event{Type: EventSessionEnd, SpeakerID: NoSpeaker})
	c.push(evs, true)
	return nil
}

func (c *simulatedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *simulatedConn) Recv() (Event, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return ev, nil
		}
		ended := c.ended
		c.mu.Unlock()
		if ended {
			return Event{}, io.EOF
		}

		select {
		case <-c.wake:
		case <-c.closed:
			return Event{}, io.EOF
		}
	}
}
