package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gkirna/scribeflow/internal/audio"
	"github.com/gkirna/scribeflow/internal/events"
	"github.com/gkirna/scribeflow/internal/llm"
	"github.com/gkirna/scribeflow/internal/persist"
	"github.com/gkirna/scribeflow/internal/testutil"
	"github.com/gkirna/scribeflow/internal/transcriber"
	"github.com/gkirna/scribeflow/internal/transcript"
)

const sampleRate = 16000

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DrainInterval = 10 * time.Millisecond
	cfg.Queue = persist.Config{BatchSize: 5, Debounce: 50 * time.Millisecond, MaxRetries: 2, BaseBackoff: time.Millisecond, FlushTimeout: time.Second}
	cfg.StopTimeout = 5 * time.Second
	return cfg
}

type fixture struct {
	session *Session
	source  *testutil.SyntheticSource
	store   *persist.MemoryStore
	sink    *testutil.RecordingSink
}

func newFixture(t *testing.T, cfg Config, audioLen time.Duration, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		source: testutil.NewSyntheticSource(sampleRate, audioLen),
		store:  persist.NewMemoryStore(),
		sink:   &testutil.RecordingSink{},
	}
	deps := Deps{
		Source:    f.source,
		Transport: transcriber.NewSimulatedTransport(nil),
		Store:     f.store,
		Cache:     persist.NewMemoryCache(),
		Sink:      f.sink,
	}
	if mutate != nil {
		mutate(&deps)
	}
	s, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.session = s
	return f
}

func (f *fixture) waitCapture(t *testing.T) {
	t.Helper()
	select {
	case <-f.session.CaptureDone():
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not finish")
	}
}

func TestEndToEndSimulatedSession(t *testing.T) {
	f := newFixture(t, testConfig(), 10*time.Second, nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := f.session.Status(); got != Running {
		t.Fatalf("Status() = %s, want running", got)
	}
	f.waitCapture(t)

	out, err := f.session.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if f.session.Status() != Stopped {
		t.Errorf("Status() = %s, want stopped", f.session.Status())
	}

	if out.Summary.SpeakerCount != 2 {
		t.Errorf("SpeakerCount = %d, want 2", out.Summary.SpeakerCount)
	}
	var finals int
	for _, sp := range out.Speakers {
		finals += len(sp.Segments)
		if sp.Role != transcript.Unknown || sp.Gender != transcript.Unknown {
			t.Errorf("speaker %d annotations = %s/%s, want unknown without enricher", sp.SpeakerID, sp.Role, sp.Gender)
		}
	}
	if finals != 3 {
		t.Errorf("finals = %d, want 3", finals)
	}
	if out.Summary.Sentiment != transcript.Unknown {
		t.Errorf("Sentiment = %q", out.Summary.Sentiment)
	}

	stored := f.store.Chunks()
	if len(stored) != 3 {
		t.Fatalf("stored chunks = %d, want 3", len(stored))
	}
	chunks := f.session.Chunks()
	wantText := []string{
		transcriber.DefaultScript[0].Final,
		transcriber.DefaultScript[1].Final,
		transcriber.DefaultScript[2].Final,
	}
	for i, c := range chunks {
		if c.PendingPersist {
			t.Errorf("chunk %d still pending", i)
		}
		if c.ID == c.CorrelationID {
			t.Errorf("chunk %d kept its correlation id as durable id", i)
		}
		if c.Text != wantText[i] {
			t.Errorf("chunk %d text = %q, want %q", i, c.Text, wantText[i])
		}
		if i > 0 && c.TimestampOffset <= chunks[i-1].TimestampOffset {
			t.Errorf("chunks not in timestamp order: %v then %v", chunks[i-1].TimestampOffset, c.TimestampOffset)
		}
	}

	stats := f.session.Stats()
	if stats.SentSamples != 10*sampleRate {
		t.Errorf("SentSamples = %d, want %d", stats.SentSamples, 10*sampleRate)
	}
	if stats.Finals != 3 || stats.Pending != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if n := f.sink.Count(events.KindSegmentFinal); n != 3 {
		t.Errorf("segment_final events = %d, want 3", n)
	}
	if n := f.sink.Count(events.KindPreview); n == 0 {
		t.Error("expected preview events")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig(), 4*time.Second, nil)
	ctx := context.Background()
	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.waitCapture(t)

	first, err := f.session.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	second, err := f.session.Stop(ctx)
	if err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if first.SessionID != second.SessionID || first.Summary != second.Summary {
		t.Errorf("second Stop() = %+v, want %+v", second.Summary, first.Summary)
	}
	if err := f.session.Start(ctx); !errors.Is(err, ErrStarted) {
		t.Errorf("Start() after Stop error = %v, want ErrStarted", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t, testConfig(), time.Second, nil)
	out, err := f.session.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if out.SessionID != f.session.SessionID() || out.Summary.SpeakerCount != 0 {
		t.Errorf("output = %+v", out)
	}
	if f.session.Status() != Stopped {
		t.Errorf("Status() = %s", f.session.Status())
	}
}

type failingTransport struct{}

func (failingTransport) Name() string { return "failing" }

func (failingTransport) Dial(context.Context, transcriber.SessionConfig) (transcriber.Conn, error) {
	return nil, transcriber.NewFatalTranscriptionError(errors.New("invalid api key"))
}

func TestStartFailureLeavesSessionStoppable(t *testing.T) {
	f := newFixture(t, testConfig(), time.Second, func(d *Deps) { d.Transport = failingTransport{} })
	ctx := context.Background()

	err := f.session.Start(ctx)
	var connErr *transcriber.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Start() error = %v, want *ConnectionError", err)
	}
	if f.session.Status() != Failed {
		t.Errorf("Status() = %s, want failed", f.session.Status())
	}
	if !testutil.WaitFor(time.Second, func() bool {
		return len(f.sink.Warnings(events.WarnConnectionFailed)) > 0
	}) {
		t.Error("expected a connection_failed signal")
	}

	if _, err := f.session.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if f.session.Status() != Stopped {
		t.Errorf("Status() = %s, want stopped", f.session.Status())
	}
}

func TestPauseDiscardsAndResumeContinues(t *testing.T) {
	f := newFixture(t, testConfig(), 10*time.Second, nil)
	f.source.Pace = 2 * time.Millisecond
	ctx := context.Background()

	if err := f.session.Resume(ctx); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume() before start error = %v, want ErrNotPaused", err)
	}
	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.session.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := f.session.Pause(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Pause() error = %v, want ErrNotRunning", err)
	}
	if f.session.Status() != Paused {
		t.Errorf("Status() = %s, want paused", f.session.Status())
	}
	if !testutil.WaitFor(2*time.Second, func() bool { return f.session.Stats().Discarded > 0 }) {
		t.Fatal("no frames discarded while paused")
	}
	if err := f.session.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if f.session.Status() != Running {
		t.Errorf("Status() = %s, want running", f.session.Status())
	}
	f.waitCapture(t)

	if _, err := f.session.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if w := f.sink.Warnings(events.WarnPartialDataLoss); len(w) != 0 {
		t.Errorf("pause produced data loss warnings: %v", w)
	}
	stats := f.session.Stats()
	if stats.Frames != 100 {
		t.Errorf("Frames = %d, want 100", stats.Frames)
	}
}

func TestBufferOverflowWarnsPartialDataLoss(t *testing.T) {
	cfg := testConfig()
	cfg.DrainInterval = time.Hour
	cfg.Buffer = audio.ConfigFor(sampleRate, time.Second, 100*time.Millisecond, 100*time.Millisecond)
	f := newFixture(t, cfg, 3*time.Second, nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.waitCapture(t)
	if _, err := f.session.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	warnings := f.sink.Warnings(events.WarnPartialDataLoss)
	if len(warnings) == 0 {
		t.Fatal("expected a partial data loss warning")
	}
	var loss *PartialDataLoss
	if !errors.As(warnings[0].Err, &loss) || loss.Samples <= 0 {
		t.Errorf("warning error = %v, want *PartialDataLoss", warnings[0].Err)
	}
	if got := f.session.Stats().Evicted; got != 2*sampleRate {
		t.Errorf("Evicted = %d, want %d", got, 2*sampleRate)
	}
}

type enricherFunc func(context.Context, []transcript.Segment) (*transcript.Annotations, error)

func (f enricherFunc) Enrich(ctx context.Context, segs []transcript.Segment) (*transcript.Annotations, error) {
	return f(ctx, segs)
}

func TestEnrichment(t *testing.T) {
	tests := []struct {
		name      string
		enricher  enricherFunc
		wantRole  string
		wantWarns int
	}{
		{
			name: "annotations applied",
			enricher: func(_ context.Context, segs []transcript.Segment) (*transcript.Annotations, error) {
				if len(segs) != 3 {
					t.Errorf("enricher got %d segments, want 3", len(segs))
				}
				return &transcript.Annotations{
					Speakers:  map[int]transcript.SpeakerAnnotation{0: {Role: "Agent", Gender: "female"}},
					Sentiment: "neutral",
				}, nil
			},
			wantRole: "agent",
		},
		{
			name: "failure falls back to unknown",
			enricher: func(context.Context, []transcript.Segment) (*transcript.Annotations, error) {
				return nil, &llm.EnrichmentError{Provider: "test", Err: errors.New("rate limited")}
			},
			wantRole:  transcript.Unknown,
			wantWarns: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), 10*time.Second, func(d *Deps) { d.Enricher = tt.enricher })
			ctx := context.Background()
			if err := f.session.Start(ctx); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			f.waitCapture(t)
			out, err := f.session.Stop(ctx)
			if err != nil {
				t.Fatalf("Stop() error = %v", err)
			}
			if out.Speakers[0].Role != tt.wantRole {
				t.Errorf("speaker 0 role = %q, want %q", out.Speakers[0].Role, tt.wantRole)
			}
			if got := len(f.sink.Warnings(events.WarnEnrichmentFailed)); got != tt.wantWarns {
				t.Errorf("enrichment warnings = %d, want %d", got, tt.wantWarns)
			}
		})
	}
}

func TestStopReportsUndelivered(t *testing.T) {
	f := newFixture(t, testConfig(), 10*time.Second, nil)
	f.store.Fail = func(int, []transcript.Chunk) error {
		return &persist.TransientWriteError{Err: errors.New("connection refused")}
	}
	ctx := context.Background()
	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.waitCapture(t)

	out, err := f.session.Stop(ctx)
	var undelivered *persist.UndeliveredError
	if !errors.As(err, &undelivered) {
		t.Fatalf("Stop() error = %v, want *UndeliveredError", err)
	}
	if len(undelivered.Chunks) != 3 {
		t.Errorf("undelivered = %d, want 3", len(undelivered.Chunks))
	}
	if out.Summary.SpeakerCount != 2 {
		t.Errorf("output should still be built, got %+v", out.Summary)
	}
	if len(f.sink.Warnings(events.WarnUndelivered)) != 1 {
		t.Error("expected one undelivered action-needed signal")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
}
