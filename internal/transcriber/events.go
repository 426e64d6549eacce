package transcriber

import (
	"time"

	"github.com/gkirna/scribeflow/internal/transcript"
)

// EventType names a provider or client notification.
type EventType string

const (
	EventPartial       EventType = "partial"
	EventFinal         EventType = "final"
	EventSpeakerChange EventType = "speaker_change"
	EventSessionBegin  EventType = "session_begin"
	EventSessionEnd    EventType = "session_end"
	EventError         EventType = "error"

	// EventState is emitted by the client itself on every state transition.
	EventState EventType = "state"
)

// NoSpeaker marks events that carry no diarization label.
const NoSpeaker = -1

// Event is delivered on Client.Events in the order the transport produced it.
type Event struct {
	Type       EventType
	Text       string
	SpeakerID  int
	Confidence float64
	Start      float64
	End        float64
	Words      []transcript.Word

	// Err is set for EventError.
	Err error
	// State and PrevState are set for EventState.
	State     ConnectionState
	PrevState ConnectionState

	ReceivedAt time.Time
}

func (e Event) HasSpeaker() bool {
	return e.SpeakerID != NoSpeaker
}
