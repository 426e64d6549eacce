// Package audio holds the bounded sample buffer that sits between capture and
// the streaming client.
package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gkirna/scribeflow/internal/recording"
)

// Config sizes a FrameBuffer in samples.
type Config struct {
	MaxSamples     int
	ContextSamples int
	MinSamples     int
}

// ConfigFor derives sample counts from durations at the given sample rate.
func ConfigFor(sampleRate int, capacity, contextWindow, minProcess time.Duration) Config {
	toSamples := func(d time.Duration) int {
		return int(d.Seconds() * float64(sampleRate))
	}
	return Config{
		MaxSamples:     toSamples(capacity),
		ContextSamples: toSamples(contextWindow),
		MinSamples:     toSamples(minProcess),
	}
}

// DefaultConfig is 30s capacity, 5s context and 1s minimum at 16kHz.
func DefaultConfig() Config {
	return ConfigFor(16000, 30*time.Second, 5*time.Second, time.Second)
}

func (c Config) Validate() error {
	if c.MaxSamples <= 0 {
		return fmt.Errorf("invalid max samples: %d", c.MaxSamples)
	}
	if c.ContextSamples < 0 || c.ContextSamples >= c.MaxSamples {
		return fmt.Errorf("invalid context samples: %d (must be in [0, %d))", c.ContextSamples, c.MaxSamples)
	}
	if c.MinSamples < 0 || c.MinSamples > c.MaxSamples {
		return fmt.Errorf("invalid min samples: %d", c.MinSamples)
	}
	return nil
}

// FrameBuffer is a bounded FIFO of samples. Push and Drain may be called from
// different goroutines.
type FrameBuffer struct {
	cfg Config

	mu      sync.Mutex
	samples []int16
	evicted int64
}

func NewFrameBuffer(cfg Config) (*FrameBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FrameBuffer{
		cfg:     cfg,
		samples: make([]int16, 0, cfg.MaxSamples),
	}, nil
}

func (b *FrameBuffer) Config() Config {
	return b.cfg
}

// Push appends the frame and returns how many samples were discarded to stay
// within capacity. Eviction takes the oldest samples first and never touches
// the trailing context window of what was already buffered; if the frame
// alone does not fit in the remaining room its oldest samples are dropped.
func (b *FrameBuffer) Push(frame recording.AudioFrame) int {
	in := frame.Samples
	if len(in) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	overflow := len(b.samples) + len(in) - b.cfg.MaxSamples
	if overflow <= 0 {
		b.samples = append(b.samples, in...)
		return 0
	}

	keep := min(b.cfg.ContextSamples, len(b.samples))
	fromBuffer := min(overflow, len(b.samples)-keep)
	if fromBuffer > 0 {
		n := copy(b.samples, b.samples[fromBuffer:])
		b.samples = b.samples[:n]
	}

	fromFrame := overflow - fromBuffer
	if fromFrame > 0 {
		in = in[fromFrame:]
	}
	b.samples = append(b.samples, in...)

	dropped := fromBuffer + fromFrame
	b.evicted += int64(dropped)
	return dropped
}

// Drain removes and returns every buffered sample if at least minSamples are
// present. Otherwise the buffer is left untouched and ok is false.
func (b *FrameBuffer) Drain(minSamples int) (samples []int16, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 || len(b.samples) < minSamples {
		return nil, false
	}

	out := make([]int16, len(b.samples))
	copy(out, b.samples)
	b.samples = b.samples[:0]
	return out, true
}

func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Evicted is the total number of samples discarded by overflow.
func (b *FrameBuffer) Evicted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	b.samples = b.samples[:0]
	b.mu.Unlock()
}
