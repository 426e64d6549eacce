// Package notify surfaces session warnings and action-needed signals to the
// desktop.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/events"
	"github.com/gkirna/scribeflow/internal/logging"
)

type MessageType string

const (
	MsgSessionStarted MessageType = "session_started"
	MsgSessionPaused  MessageType = "session_paused"
	MsgSessionStopped MessageType = "session_stopped"
	MsgWarning        MessageType = "warning"
	MsgActionNeeded   MessageType = "action_needed"
)

// Message is a notification title and body. Body may contain one %s verb
// which receives the event detail.
type Message struct {
	Title string
	Body  string
}

var defaultMessages = map[MessageType]Message{
	MsgSessionStarted: {Title: "Scribeflow", Body: "Session running"},
	MsgSessionPaused:  {Title: "Scribeflow", Body: "Session paused"},
	MsgSessionStopped: {Title: "Scribeflow", Body: "Session stopped"},
	MsgWarning:        {Title: "Scribeflow warning", Body: "%s"},
	MsgActionNeeded:   {Title: "Scribeflow needs attention", Body: "%s"},
}

// Resolve returns the message for t with any override applied field by field.
func Resolve(t MessageType, overrides map[MessageType]Message) Message {
	msg := defaultMessages[t]
	if o, ok := overrides[t]; ok {
		if o.Title != "" {
			msg.Title = o.Title
		}
		if o.Body != "" {
			msg.Body = o.Body
		}
	}
	return msg
}

func (m Message) render(detail string) string {
	if strings.Contains(m.Body, "%s") {
		return fmt.Sprintf(m.Body, detail)
	}
	return m.Body
}

type Notifier interface {
	Send(t MessageType, detail string)
}

// Desktop sends notifications through notify-send.
type Desktop struct {
	Overrides map[MessageType]Message
	run       func(name string, args ...string) error
}

func NewDesktop(overrides map[MessageType]Message) *Desktop {
	return &Desktop{Overrides: overrides}
}

func (d *Desktop) Send(t MessageType, detail string) {
	msg := Resolve(t, d.Overrides)
	args := []string{"-a", "Scribeflow"}
	if t == MsgActionNeeded {
		args = append(args, "-u", "critical")
	}
	args = append(args, msg.Title, msg.render(detail))

	run := d.run
	if run == nil {
		run = func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		}
	}
	if err := run("notify-send", args...); err != nil {
		logger := logging.WithComponent("notify")
		logger.Warn().Err(err).Msg("failed to send notification")
	}
}

// Log writes notifications to the structured log instead of the desktop.
type Log struct {
	Overrides map[MessageType]Message
	Logger    zerolog.Logger
}

func (l Log) Send(t MessageType, detail string) {
	msg := Resolve(t, l.Overrides)
	l.Logger.Info().Str("type", string(t)).Str("title", msg.Title).Msg(msg.render(detail))
}

// Nop is a Notifier that does absolutely nothing.
type Nop struct{}

func (Nop) Send(MessageType, string) {}

// New picks a notifier by name: desktop, log or none.
func New(kind string, overrides map[MessageType]Message) Notifier {
	switch kind {
	case "desktop":
		return NewDesktop(overrides)
	case "log":
		return Log{Overrides: overrides, Logger: logging.WithComponent("notify")}
	default:
		return Nop{}
	}
}

// Sink forwards warnings, action-needed signals and session state changes
// to a Notifier. Other event kinds are ignored.
type Sink struct {
	Notifier Notifier
	Warnings bool
}

func (s Sink) Publish(_ context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindActionNeeded:
		s.Notifier.Send(MsgActionNeeded, warningText(ev))
	case events.KindWarning:
		if s.Warnings {
			s.Notifier.Send(MsgWarning, warningText(ev))
		}
	case events.KindStateChanged:
		if t, ok := stateMessages[ev.State]; ok {
			s.Notifier.Send(t, ev.State)
		}
	}
}

var stateMessages = map[string]MessageType{
	"running": MsgSessionStarted,
	"paused":  MsgSessionPaused,
	"stopped": MsgSessionStopped,
}

func warningText(ev events.Event) string {
	if ev.Warning == nil {
		return string(ev.Kind)
	}
	return ev.Warning.String()
}
