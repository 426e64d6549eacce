package notify

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/gkirna/scribeflow/internal/events"
)

type recorded struct {
	t      MessageType
	detail string
}

type recordingNotifier struct {
	sent []recorded
}

func (r *recordingNotifier) Send(t MessageType, detail string) {
	r.sent = append(r.sent, recorded{t, detail})
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[MessageType]Message
		want      Message
	}{
		{"default", nil, Message{Title: "Scribeflow needs attention", Body: "%s"}},
		{"title only", map[MessageType]Message{MsgActionNeeded: {Title: "Check it"}}, Message{Title: "Check it", Body: "%s"}},
		{"both", map[MessageType]Message{MsgActionNeeded: {Title: "A", Body: "B: %s"}}, Message{Title: "A", Body: "B: %s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(MsgActionNeeded, tt.overrides); got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDesktopArgs(t *testing.T) {
	var gotName string
	var gotArgs []string
	d := NewDesktop(nil)
	d.run = func(name string, args ...string) error {
		gotName, gotArgs = name, args
		return nil
	}

	d.Send(MsgActionNeeded, "store unreachable")
	want := []string{"-a", "Scribeflow", "-u", "critical", "Scribeflow needs attention", "store unreachable"}
	if gotName != "notify-send" || !reflect.DeepEqual(gotArgs, want) {
		t.Errorf("args = %s %v, want %v", gotName, gotArgs, want)
	}

	d.Send(MsgSessionStarted, "running")
	want = []string{"-a", "Scribeflow", "Scribeflow", "Session running"}
	if !reflect.DeepEqual(gotArgs, want) {
		t.Errorf("args = %v, want %v", gotArgs, want)
	}
}

func TestDesktopFailureDoesNotPanic(t *testing.T) {
	d := NewDesktop(nil)
	d.run = func(string, ...string) error { return errors.New("not installed") }
	d.Send(MsgWarning, "x")
}

func TestSink(t *testing.T) {
	rec := &recordingNotifier{}
	sink := Sink{Notifier: rec}
	ctx := context.Background()

	sink.Publish(ctx, events.Event{Kind: events.KindPreview})
	sink.Publish(ctx, events.Event{Kind: events.KindWarning, Warning: &events.Warning{Message: "gap"}})
	sink.Publish(ctx, events.Event{Kind: events.KindActionNeeded, Warning: &events.Warning{Message: "cache failed", Err: errors.New("disk full")}})
	sink.Publish(ctx, events.Event{Kind: events.KindStateChanged, State: "paused"})
	sink.Publish(ctx, events.Event{Kind: events.KindStateChanged, State: "stopping"})

	want := []recorded{
		{MsgActionNeeded, "cache failed: disk full"},
		{MsgSessionPaused, "paused"},
	}
	if !reflect.DeepEqual(rec.sent, want) {
		t.Errorf("sent = %+v, want %+v", rec.sent, want)
	}

	rec.sent = nil
	Sink{Notifier: rec, Warnings: true}.Publish(ctx, events.Event{Kind: events.KindWarning, Warning: &events.Warning{Message: "gap"}})
	if len(rec.sent) != 1 || rec.sent[0].t != MsgWarning {
		t.Errorf("warning not forwarded: %+v", rec.sent)
	}
}

func TestNew(t *testing.T) {
	if _, ok := New("desktop", nil).(*Desktop); !ok {
		t.Error("desktop kind should build *Desktop")
	}
	if _, ok := New("log", nil).(Log); !ok {
		t.Error("log kind should build Log")
	}
	if _, ok := New("", nil).(Nop); !ok {
		t.Error("empty kind should build Nop")
	}
}
