package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/metrics"
	"github.com/gkirna/scribeflow/internal/transcript"
)

func TestFanoutDeliversInOrder(t *testing.T) {
	var got []string
	record := func(name string) Sink {
		return Func(func(_ context.Context, ev Event) {
			got = append(got, name+":"+string(ev.Kind))
		})
	}
	f := NewFanout(record("a"), nil, record("b"))
	f.Publish(context.Background(), Event{Kind: KindChunkCreated})
	f.Publish(context.Background(), Event{Kind: KindWarning})

	want := []string{"a:chunk_created", "b:chunk_created", "a:warning", "b:warning"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFanoutStampsTime(t *testing.T) {
	var ev Event
	f := NewFanout(Func(func(_ context.Context, e Event) { ev = e }))
	f.Publish(context.Background(), Event{Kind: KindPreview})
	if ev.Time.IsZero() {
		t.Error("Time should be set")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Log: zerolog.New(&buf)}

	sink.Publish(context.Background(), Event{
		Kind:      KindWarning,
		SessionID: "s1",
		Warning:   &Warning{Kind: WarnSchemaUnavailable, Message: "collection missing", Err: errors.New("ns not found")},
	})
	sink.Publish(context.Background(), Event{
		Kind:      KindSegmentFinal,
		SessionID: "s1",
		Segment:   &transcript.Segment{ID: "seg-1", SpeakerID: 1, Text: "hello"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %s", len(lines), buf.String())
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first["level"] != "warn" || first["warning"] != "schema_unavailable" || first["message"] != "collection missing" {
		t.Errorf("warning line = %v", first)
	}
	if !strings.Contains(lines[1], `"segment":"seg-1"`) {
		t.Errorf("segment line = %s", lines[1])
	}
}

func TestWarningString(t *testing.T) {
	w := Warning{Message: "flush failed", Err: errors.New("timeout")}
	if w.String() != "flush failed: timeout" {
		t.Errorf("String() = %q", w.String())
	}
	if (Warning{Message: "plain"}).String() != "plain" {
		t.Error("String() without error")
	}
}

func TestNewPublisher_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *KafkaConfig
	}{
		{"nil", nil},
		{"disabled", &KafkaConfig{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &KafkaConfig{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPublisher(tt.cfg, nil)
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writerSegments != nil || p.writerEvents != nil {
				t.Error("expected nil writers when disabled")
			}
			if err := p.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestNewPublisher_Enabled(t *testing.T) {
	p := NewPublisher(&KafkaConfig{
		Enabled:       true,
		Brokers:       []string{"localhost:9092"},
		TopicSegments: "scribeflow.segments",
		TopicEvents:   "scribeflow.events",
		ClientID:      "test",
	}, nil)
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerSegments.Topic != "scribeflow.segments" || p.writerEvents.Topic != "scribeflow.events" {
		t.Errorf("topics = %s, %s", p.writerSegments.Topic, p.writerEvents.Topic)
	}
	if !p.writerSegments.Async {
		t.Error("writers should be async")
	}
}

func TestPublisher_Route(t *testing.T) {
	p := NewPublisher(&KafkaConfig{TopicSegments: "seg", TopicEvents: "ev"}, nil)
	tests := []struct {
		kind      Kind
		wantTopic string
		wantOK    bool
	}{
		{KindSegmentFinal, "seg", true},
		{KindChunkPromoted, "seg", true},
		{KindWarning, "ev", true},
		{KindActionNeeded, "ev", true},
		{KindPreview, "ev", false},
	}
	for _, tt := range tests {
		_, topic, ok := p.route(tt.kind)
		if topic != tt.wantTopic || ok != tt.wantOK {
			t.Errorf("route(%s) = %s, %v, want %s, %v", tt.kind, topic, ok, tt.wantTopic, tt.wantOK)
		}
	}
}

func TestPublisher_LogOnlyRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := NewPublisher(&KafkaConfig{TopicSegments: "seg", TopicEvents: "ev"}, m)

	seg := transcript.Segment{ID: "a", Text: "hi", IsFinal: true}
	if err := p.PublishEvent(context.Background(), Event{Kind: KindSegmentFinal, SessionID: "s", Segment: &seg}); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	p.Publish(context.Background(), Event{Kind: KindPreview, SessionID: "s"})

	if got := testutil.CollectAndCount(reg, "scribeflow_events_published_total"); got != 1 {
		t.Errorf("published series = %d, want 1", got)
	}
}
