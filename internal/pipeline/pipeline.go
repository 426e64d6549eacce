// Package pipeline runs one transcription session: capture, buffering,
// streaming, reconciliation and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/audio"
	"github.com/gkirna/scribeflow/internal/events"
	"github.com/gkirna/scribeflow/internal/llm"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/metrics"
	"github.com/gkirna/scribeflow/internal/persist"
	"github.com/gkirna/scribeflow/internal/recording"
	"github.com/gkirna/scribeflow/internal/reconcile"
	"github.com/gkirna/scribeflow/internal/transcriber"
	"github.com/gkirna/scribeflow/internal/transcript"
)

type Status string

const (
	Idle     Status = "idle"
	Starting Status = "starting"
	Running  Status = "running"
	Paused   Status = "paused"
	Stopping Status = "stopping"
	Stopped  Status = "stopped"
	Failed   Status = "failed"
)

var (
	ErrNotRunning = errors.New("session is not running")
	ErrNotPaused  = errors.New("session is not paused")
	ErrStarted    = errors.New("session already started")
)

// PartialDataLoss reports audio that never reached the provider.
type PartialDataLoss struct {
	Samples int
	Reason  string
}

func (e *PartialDataLoss) Error() string {
	return fmt.Sprintf("partial data loss: %d samples (%s)", e.Samples, e.Reason)
}

type Config struct {
	SessionID     string
	Buffer        audio.Config
	DrainInterval time.Duration
	Client        transcriber.Config
	Queue         persist.Config
	StopTimeout   time.Duration
	EnrichTimeout time.Duration
	// LossWarnInterval bounds how often eviction warnings are published.
	LossWarnInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Buffer:           audio.DefaultConfig(),
		DrainInterval:    250 * time.Millisecond,
		Client:           transcriber.DefaultConfig(),
		Queue:            persist.DefaultConfig(),
		StopTimeout:      30 * time.Second,
		EnrichTimeout:    20 * time.Second,
		LossWarnInterval: time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Buffer.MaxSamples == 0 {
		c.Buffer = def.Buffer
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = def.DrainInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = def.EnrichTimeout
	}
	if c.LossWarnInterval <= 0 {
		c.LossWarnInterval = def.LossWarnInterval
	}
	return c
}

// Deps are the collaborators of a session. Source, Transport and Store are
// required.
type Deps struct {
	Source    recording.Source
	Transport transcriber.Transport
	Store     persist.Store
	Cache     persist.FallbackCache
	Enricher  llm.Enricher
	Sink      events.Sink
	Metrics   *metrics.Metrics
}

// Stats is a point-in-time view of session counters.
type Stats struct {
	SessionID   string    `json:"session_id" yaml:"session_id"`
	Status      Status    `json:"status" yaml:"status"`
	Connection  string    `json:"connection" yaml:"connection"`
	StartedAt   time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	Frames      int64     `json:"frames" yaml:"frames"`
	Discarded   int64     `json:"discarded_frames" yaml:"discarded_frames"`
	Evicted     int64     `json:"evicted_samples" yaml:"evicted_samples"`
	SentSamples int64     `json:"sent_samples" yaml:"sent_samples"`
	Dropped     int64     `json:"dropped_sends" yaml:"dropped_sends"`
	Buffered    int       `json:"buffered_samples" yaml:"buffered_samples"`
	Previews    int64     `json:"previews" yaml:"previews"`
	Finals      int       `json:"finals" yaml:"finals"`
	Pending     int       `json:"pending_chunks" yaml:"pending_chunks"`
	Cached      int       `json:"cached_chunks" yaml:"cached_chunks"`
}

// Session owns every goroutine, timer and counter of one recording.
type Session struct {
	id      string
	cfg     Config
	deps    Deps
	log     zerolog.Logger
	sink    events.Sink
	metrics *metrics.Metrics

	buffer *audio.FrameBuffer
	client *transcriber.Client
	rec    *reconcile.Reconciler
	queue  *persist.Queue

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	paused    atomic.Bool
	output    *transcript.StructuredOutput
	stopErr   error
	stopDone  chan struct{}

	runCtx    context.Context
	cancelRun context.CancelFunc

	captureStarted bool
	captureDone    chan struct{}
	tickerStop     chan struct{}
	tickerDone     chan struct{}
	eventsDone     chan struct{}
	queueStop      context.CancelFunc
	queueDone      chan struct{}
	retries        sync.WaitGroup

	frames      atomic.Int64
	discarded   atomic.Int64
	sentSamples atomic.Int64
	previews    atomic.Int64

	lossMu       sync.Mutex
	lossSamples  int
	lossReason   string
	lastLossWarn time.Time
}

func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Source == nil || deps.Transport == nil || deps.Store == nil {
		return nil, errors.New("pipeline: source, transport and store are required")
	}
	cfg = cfg.withDefaults()
	buffer, err := audio.NewFrameBuffer(cfg.Buffer)
	if err != nil {
		return nil, fmt.Errorf("frame buffer: %w", err)
	}
	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	sink := deps.Sink
	if sink == nil {
		sink = events.Nop
	}

	s := &Session{
		id:          id,
		cfg:         cfg,
		deps:        deps,
		log:         logging.WithSession("pipeline", id),
		sink:        sink,
		metrics:     deps.Metrics,
		buffer:      buffer,
		client:      transcriber.New(deps.Transport, cfg.Client, deps.Metrics),
		rec:         reconcile.New(deps.Metrics),
		queue:       persist.NewQueue(id, deps.Store, deps.Cache, sink, cfg.Queue, deps.Metrics),
		status:      Idle,
		captureDone: make(chan struct{}),
	}
	return s, nil
}

func (s *Session) SessionID() string { return s.id }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CaptureDone is closed when the audio source is exhausted or stopped.
func (s *Session) CaptureDone() <-chan struct{} {
	return s.captureDone
}

// Chunks returns the optimistic chunk view, durable ids where known.
func (s *Session) Chunks() []transcript.Chunk {
	return s.queue.Snapshot()
}

// Segments returns the finalized segments so far.
func (s *Session) Segments() []transcript.Segment {
	return s.rec.Finalized()
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	status, started := s.status, s.startedAt
	s.mu.Unlock()
	return Stats{
		SessionID:   s.id,
		Status:      status,
		Connection:  s.client.State().String(),
		StartedAt:   started,
		Frames:      s.frames.Load(),
		Discarded:   s.discarded.Load(),
		Evicted:     s.buffer.Evicted(),
		SentSamples: s.sentSamples.Load(),
		Dropped:     s.client.Dropped(),
		Buffered:    s.buffer.Len(),
		Previews:    s.previews.Load(),
		Finals:      len(s.rec.Finalized()),
		Pending:     s.queue.Pending(),
		Cached:      s.queue.Cached(),
	}
}

// setStatusLocked applies a status change and publishes it. Returns false
// if the session was already in next.
func (s *Session) setStatusLocked(next Status) bool {
	if s.status == next {
		return false
	}
	prev := s.status
	s.status = next
	s.log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("session status changed")
	go s.sink.Publish(context.Background(), events.Event{Kind: events.KindStateChanged, SessionID: s.id, Time: time.Now(), State: string(next)})
	return true
}

// Start connects the streaming client and begins capture. A failed Start
// leaves the session in Failed; Stop still cleans up whatever was started.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != Idle {
		s.mu.Unlock()
		return ErrStarted
	}
	s.setStatusLocked(Starting)
	s.startedAt = time.Now()
	s.runCtx, s.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := s.runCtx

	queueCtx, queueStop := context.WithCancel(runCtx)
	s.queueStop = queueStop
	s.queueDone = make(chan struct{})
	s.eventsDone = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.queueDone)
		s.queue.Run(queueCtx)
	}()
	go s.eventLoop()

	if err := s.client.Connect(ctx); err != nil {
		s.fail("connect failed", err)
		return fmt.Errorf("connect transcription client: %w", err)
	}

	s.mu.Lock()
	if s.status != Starting {
		s.mu.Unlock()
		return ErrNotRunning
	}
	frames, errs, err := s.deps.Source.Start(runCtx)
	if err != nil {
		s.mu.Unlock()
		s.fail("audio capture failed", err)
		return fmt.Errorf("start audio capture: %w", err)
	}
	s.captureStarted = true
	s.tickerStop = make(chan struct{})
	s.tickerDone = make(chan struct{})
	s.setStatusLocked(Running)
	s.mu.Unlock()

	go s.capturePump(frames, errs)
	go s.drainLoop()

	s.log.Info().Str("provider", s.deps.Transport.Name()).Msg("session started")
	return nil
}

func (s *Session) fail(msg string, err error) {
	s.mu.Lock()
	changed := s.status != Stopping && s.status != Stopped && s.setStatusLocked(Failed)
	s.mu.Unlock()
	if changed {
		s.log.Error().Err(err).Msg(msg)
		s.warn(events.KindActionNeeded, events.WarnConnectionFailed, msg, err)
	}
}

// capturePump moves frames into the buffer. It never blocks the source:
// while paused frames are discarded.
func (s *Session) capturePump(frames <-chan recording.AudioFrame, errs <-chan error) {
	defer close(s.captureDone)
	for frames != nil || errs != nil {
		select {
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.frames.Add(1)
			if s.paused.Load() {
				s.discarded.Add(1)
				continue
			}
			if evicted := s.buffer.Push(frame); evicted > 0 {
				s.metrics.RecordEviction(evicted)
				s.dataLoss(evicted, "buffer overflow")
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.Warn().Err(err).Msg("audio capture error")
			s.warn(events.KindWarning, events.WarnPartialDataLoss, "audio capture error", err)
		}
	}
	s.log.Debug().Int64("frames", s.frames.Load()).Msg("capture finished")
}

// dataLoss accumulates lost samples and publishes at most one warning per
// LossWarnInterval. Whatever is held back is published by reportLoss at stop.
func (s *Session) dataLoss(samples int, reason string) {
	s.lossMu.Lock()
	s.lossSamples += samples
	s.lossReason = reason
	hold := time.Since(s.lastLossWarn) < s.cfg.LossWarnInterval
	s.lossMu.Unlock()
	if !hold {
		s.reportLoss()
	}
}

// reportLoss publishes the accumulated loss, if any.
func (s *Session) reportLoss() {
	s.lossMu.Lock()
	lost, reason := s.lossSamples, s.lossReason
	s.lossSamples = 0
	s.lastLossWarn = time.Now()
	s.lossMu.Unlock()
	if lost == 0 {
		return
	}

	err := &PartialDataLoss{Samples: lost, Reason: reason}
	s.log.Warn().Err(err).Msg("audio lost")
	s.warn(events.KindWarning, events.WarnPartialDataLoss, "audio lost", err)
}

// drainLoop sends buffered audio to the client on every tick while the
// connection is streaming and the session is not paused.
func (s *Session) drainLoop() {
	defer close(s.tickerDone)
	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.tickerStop:
			return
		case <-ticker.C:
			if s.paused.Load() || s.client.State() != transcriber.StateStreaming {
				continue
			}
			if samples, ok := s.buffer.Drain(s.cfg.Buffer.MinSamples); ok {
				s.send(samples)
			}
		}
	}
}

func (s *Session) send(samples []int16) {
	before := s.client.Dropped()
	s.client.SendAudio(samples)
	if s.client.Dropped() > before {
		s.dataLoss(len(samples), "send dropped")
		return
	}
	s.sentSamples.Add(int64(len(samples)))
}

// eventLoop is the only consumer of client events. It exits when the client
// closes its event channel during Stop.
func (s *Session) eventLoop() {
	defer close(s.eventsDone)
	begins := 0
	for ev := range s.client.Events() {
		if ev.Type == transcriber.EventSessionBegin {
			begins++
			if begins > 1 {
				s.log.Info().Int("session", begins).Msg("provider session resumed")
				s.retryCached()
				continue
			}
		}
		s.handle(ev)
	}
}

// handle applies one client event. State events are best effort, so a
// terminal error is treated as the authoritative Failed signal.
func (s *Session) handle(ev transcriber.Event) {
	switch ev.Type {
	case transcriber.EventState:
		if ev.State == transcriber.StateFailed {
			s.fail("transcription connection failed", errors.New("reconnect attempts exhausted"))
		}
	case transcriber.EventError:
		if ev.Err != nil && transcriber.IsTerminal(ev.Err) {
			s.fail("transcription connection failed", ev.Err)
			return
		}
		s.warn(events.KindWarning, events.WarnConnectionFailed, "provider error", ev.Err)
	case transcriber.EventSessionBegin, transcriber.EventSessionEnd:
		s.log.Debug().Str("event", string(ev.Type)).Msg("provider session boundary")
	default:
		s.apply(ev)
	}
}

// retryCached pushes locally cached chunks back through the store after the
// provider connection came back.
func (s *Session) retryCached() {
	s.retries.Add(1)
	go func() {
		defer s.retries.Done()
		s.queue.RetryCached(s.runCtx)
	}()
}

func (s *Session) apply(ev transcriber.Event) {
	upd := s.rec.Apply(ev)
	switch upd.Kind {
	case reconcile.Preview:
		s.previews.Add(1)
		seg := upd.Segment
		s.sink.Publish(context.Background(), events.Event{Kind: events.KindPreview, SessionID: s.id, Time: time.Now(), Segment: &seg})
	case reconcile.Final:
		seg := upd.Segment
		s.sink.Publish(context.Background(), events.Event{Kind: events.KindSegmentFinal, SessionID: s.id, Time: time.Now(), Segment: &seg})
		s.queue.Enqueue(seg)
	}
}

// Pause stops feeding audio to the provider. The connection stays open and
// audio already buffered is kept; frames captured while paused are dropped.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Running {
		return ErrNotRunning
	}
	s.paused.Store(true)
	s.setStatusLocked(Paused)
	return nil
}

// Resume restarts feeding audio and retries any locally cached chunks. From
// Failed it attempts a fresh connection first.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case Paused:
	case Failed:
		if !s.captureStarted {
			s.mu.Unlock()
			return ErrNotPaused
		}
		s.mu.Unlock()
		if err := s.client.Connect(ctx); err != nil {
			s.warn(events.KindActionNeeded, events.WarnConnectionFailed, "reconnect failed", err)
			return fmt.Errorf("reconnect transcription client: %w", err)
		}
		s.mu.Lock()
		if s.status != Failed {
			s.mu.Unlock()
			return ErrNotPaused
		}
	default:
		s.mu.Unlock()
		return ErrNotPaused
	}
	s.paused.Store(false)
	s.setStatusLocked(Running)
	s.mu.Unlock()

	s.queue.RetryCached(ctx)
	return nil
}

// Stop ends the session and returns its StructuredOutput. Audio still
// buffered is sent regardless of the minimum threshold, the provider is
// asked to finalize, every chunk is flushed and the transcript is enriched
// when an enricher is configured. Stop is idempotent; when chunks remain
// undelivered the output is returned together with an
// *persist.UndeliveredError.
func (s *Session) Stop(ctx context.Context) (transcript.StructuredOutput, error) {
	s.mu.Lock()
	switch s.status {
	case Stopping:
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return transcript.StructuredOutput{}, ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return *s.output, s.stopErr
	case Stopped:
		defer s.mu.Unlock()
		return *s.output, s.stopErr
	}
	started := s.status != Idle
	s.setStatusLocked(Stopping)
	s.stopDone = make(chan struct{})
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()

	out, err := s.shutdown(ctx, started)

	s.mu.Lock()
	s.output = &out
	s.stopErr = err
	s.setStatusLocked(Stopped)
	close(s.stopDone)
	s.mu.Unlock()
	return out, err
}

func (s *Session) shutdown(ctx context.Context, started bool) (transcript.StructuredOutput, error) {
	s.mu.Lock()
	captureStarted := s.captureStarted
	s.mu.Unlock()

	if captureStarted {
		if err := s.deps.Source.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("stopping audio source")
		}
		s.deps.Source.Wait()
		<-s.captureDone
		close(s.tickerStop)
		<-s.tickerDone

		if s.client.State() == transcriber.StateStreaming {
			if samples, ok := s.buffer.Drain(0); ok {
				s.send(samples)
			}
		}
	}

	if err := s.client.Disconnect(ctx); err != nil {
		s.log.Warn().Err(err).Msg("disconnect did not complete cleanly")
	}

	if started {
		<-s.eventsDone
		s.queueStop()
		<-s.queueDone
		s.retries.Wait()
		s.cancelRun()
	}

	if leftover := s.rec.Pending(); len(leftover) > 0 {
		s.warn(events.KindWarning, events.WarnPartialDiscarded,
			fmt.Sprintf("%d unfinished segments discarded", len(leftover)), nil)
	}
	if n := s.buffer.Len(); n > 0 {
		s.dataLoss(n, "unsent at stop")
		s.buffer.Reset()
	}
	s.reportLoss()

	report, flushErr := s.queue.FlushAll(ctx)
	if flushErr != nil {
		s.warn(events.KindActionNeeded, events.WarnUndelivered,
			fmt.Sprintf("%d chunks not persisted", len(report.Undelivered)), flushErr)
	}

	segments := s.rec.Finalized()
	ann := s.enrich(ctx, segments)
	out := transcript.BuildStructuredOutput(s.id, segments, ann)

	s.log.Info().
		Int("segments", len(segments)).
		Int("persisted", report.Persisted).
		Int("cached", report.Cached).
		Int("speakers", out.Summary.SpeakerCount).
		Msg("session stopped")
	return out, flushErr
}

func (s *Session) enrich(ctx context.Context, segments []transcript.Segment) *transcript.Annotations {
	if s.deps.Enricher == nil || len(segments) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EnrichTimeout)
	defer cancel()
	ann, err := s.deps.Enricher.Enrich(ctx, segments)
	if err != nil {
		var ee *llm.EnrichmentError
		if !errors.As(err, &ee) {
			err = &llm.EnrichmentError{Provider: "unknown", Err: err}
		}
		s.log.Warn().Err(err).Msg("enrichment failed, using unknown annotations")
		s.warn(events.KindWarning, events.WarnEnrichmentFailed, "enrichment failed", err)
		return nil
	}
	return ann
}

func (s *Session) warn(kind events.Kind, wk events.WarningKind, msg string, err error) {
	s.metrics.RecordWarning(string(wk))
	s.sink.Publish(context.Background(), events.Event{
		Kind:      kind,
		SessionID: s.id,
		Time:      time.Now(),
		Warning:   &events.Warning{Kind: wk, Message: msg, Err: err},
	})
}
