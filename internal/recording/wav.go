package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/rs/zerolog"
)

// FileConfig controls how an uploaded WAV file is replayed as a source.
type FileConfig struct {
	Path string
	// FrameDuration is the audio length carried by each emitted frame.
	FrameDuration time.Duration
	// Realtime paces frames at the wall-clock rate of the audio.
	Realtime          bool
	ChannelBufferSize int
}

// FileSource decodes a PCM WAV file and emits mono frames.
type FileSource struct {
	config FileConfig
	log    zerolog.Logger

	sampleRate int
	running    atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Source = (*FileSource)(nil)

// OpenFile validates the WAV header and returns a source for it.
func OpenFile(cfg FileConfig) (*FileSource, error) {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 100 * time.Millisecond
	}
	if cfg.ChannelBufferSize <= 0 {
		cfg.ChannelBufferSize = 30
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid PCM wav file", cfg.Path)
	}

	return &FileSource{
		config:     cfg,
		log:        logging.WithComponent("file-source"),
		sampleRate: int(d.SampleRate),
	}, nil
}

// SampleRate is the sample rate declared by the file header.
func (s *FileSource) SampleRate() int {
	return s.sampleRate
}

func (s *FileSource) Start(ctx context.Context) (<-chan AudioFrame, <-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, nil, fmt.Errorf("already started")
	}

	f, err := os.Open(s.config.Path)
	if err != nil {
		s.running.Store(false)
		return nil, nil, fmt.Errorf("open audio file: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	frameCh := make(chan AudioFrame, s.config.ChannelBufferSize)
	errCh := make(chan error, 1)

	s.wg.Add(1)
	go s.readLoop(runCtx, f, frameCh, errCh)

	return frameCh, errCh, nil
}

func (s *FileSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (s *FileSource) Wait() {
	s.wg.Wait()
}

func (s *FileSource) readLoop(ctx context.Context, f *os.File, frameCh chan<- AudioFrame, errCh chan<- error) {
	defer func() {
		f.Close()
		close(frameCh)
		close(errCh)
		s.running.Store(false)
		s.wg.Done()
	}()

	d := wav.NewDecoder(f)
	format := d.Format()
	if format == nil || format.NumChannels <= 0 {
		errCh <- fmt.Errorf("%s: missing fmt chunk", s.config.Path)
		return
	}
	bitDepth := int(d.BitDepth)
	channels := format.NumChannels

	perFrame := int(float64(s.sampleRate) * s.config.FrameDuration.Seconds())
	if perFrame <= 0 {
		perFrame = 1
	}
	buf := &audio.IntBuffer{
		Format: format,
		Data:   make([]int, perFrame*channels),
	}

	var ticker *time.Ticker
	if s.config.Realtime {
		ticker = time.NewTicker(s.config.FrameDuration)
		defer ticker.Stop()
	}

	total := 0
	for {
		n, err := d.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			errCh <- fmt.Errorf("decode wav: %w", err)
			return
		}
		if n == 0 {
			s.log.Debug().Int("samples", total).Msg("end of file")
			return
		}

		samples := downmix(buf.Data[:n], channels, bitDepth)
		total += len(samples)

		select {
		case frameCh <- AudioFrame{Samples: samples, CapturedAt: time.Now()}:
		case <-ctx.Done():
			return
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}
}

// downmix averages interleaved channels and scales to 16-bit.
func downmix(data []int, channels, bitDepth int) []int16 {
	if channels <= 0 {
		channels = 1
	}
	out := make([]int16, 0, len(data)/channels)
	for i := 0; i+channels <= len(data); i += channels {
		var sum int
		for c := 0; c < channels; c++ {
			sum += data[i+c]
		}
		out = append(out, scaleTo16(sum/channels, bitDepth))
	}
	return out
}

func scaleTo16(v, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		// 8-bit wav is unsigned
		return int16((v - 128) << 8)
	case bitDepth > 16:
		return int16(v >> (bitDepth - 16))
	default:
		return int16(v)
	}
}
