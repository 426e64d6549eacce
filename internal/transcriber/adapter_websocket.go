package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/language"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/transcript"
)

// WebsocketTransport speaks the generic JSON streaming contract: binary PCM
// frames up, one JSON event per text frame down.
type WebsocketTransport struct {
	endpoint string
	apiKey   string
	log      zerolog.Logger
}

func NewWebsocketTransport(endpoint, apiKey string) *WebsocketTransport {
	return &WebsocketTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		log:      logging.WithComponent("transport.websocket"),
	}
}

func (t *WebsocketTransport) Name() string { return "websocket" }

func (t *WebsocketTransport) buildURL(cfg SessionConfig) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("encoding", cfg.Encoding)
	if lang := language.Normalize(cfg.Language); lang != "" {
		q.Set("language", lang)
	}
	q.Set("diarize", strconv.FormatBool(cfg.Diarize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *WebsocketTransport) Dial(ctx context.Context, cfg SessionConfig) (Conn, error) {
	wsURL, err := t.buildURL(cfg)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	if t.apiKey != "" {
		headers.Set("Authorization", "Bearer "+t.apiKey)
	}
	t.log.Debug().Str("url", wsURL).Msg("dialing")
	conn, err := dialWebsocket(ctx, "websocket", wsURL, headers)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn, log: t.log}, nil
}

type wireWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

type wireEvent struct {
	Type       string     `json:"type"`
	Text       string     `json:"text,omitempty"`
	SpeakerID  *int       `json:"speaker_id,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	StartTime  float64    `json:"start_time,omitempty"`
	EndTime    float64    `json:"end_time,omitempty"`
	Words      []wireWord `json:"words,omitempty"`
	Message    string     `json:"message,omitempty"`
}

type websocketConn struct {
	conn *websocket.Conn
	log  zerolog.Logger
}

func (c *websocketConn) SendAudio(pcm []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (c *websocketConn) Terminate() error {
	return c.conn.WriteJSON(wireEvent{Type: "terminate"})
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}

func (c *websocketConn) Recv() (Event, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return Event{}, readError(err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var w wireEvent
		if err := json.Unmarshal(data, &w); err != nil {
			c.log.Warn().Err(err).Msg("malformed event")
			continue
		}
		ev, ok := w.toEvent()
		if !ok {
			c.log.Debug().Str("type", w.Type).Msg("ignoring unknown event type")
			continue
		}
		return ev, nil
	}
}

func (w wireEvent) toEvent() (Event, bool) {
	ev := Event{
		Text:       w.Text,
		SpeakerID:  NoSpeaker,
		Confidence: w.Confidence,
		Start:      w.StartTime,
		End:        w.EndTime,
	}
	if w.SpeakerID != nil {
		ev.SpeakerID = *w.SpeakerID
	}
	for _, word := range w.Words {
		ev.Words = append(ev.Words, transcript.Word{
			Text:       word.Word,
			Start:      word.Start,
			End:        word.End,
			Confidence: word.Confidence,
		})
	}

	switch EventType(w.Type) {
	case EventPartial, EventFinal, EventSpeakerChange, EventSessionBegin, EventSessionEnd:
		ev.Type = EventType(w.Type)
	case EventError:
		ev.Type = EventError
		ev.Err = fmt.Errorf("provider: %s", w.Message)
	default:
		return Event{}, false
	}
	return ev, true
}
