package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/language"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/provider"
	"github.com/gkirna/scribeflow/internal/transcript"
)

var DefaultDeepgramEndpoint = provider.Get(provider.Deepgram).Endpoint

// DeepgramTransport streams to the Deepgram live API with diarization.
type DeepgramTransport struct {
	endpoint string
	apiKey   string
	model    string
	keywords []string
	log      zerolog.Logger
}

func NewDeepgramTransport(endpoint, apiKey, model string, keywords []string) *DeepgramTransport {
	if endpoint == "" {
		endpoint = DefaultDeepgramEndpoint
	}
	if model == "" {
		model = provider.Get(provider.Deepgram).DefaultModel(provider.Transcription)
	}
	return &DeepgramTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		keywords: keywords,
		log:      logging.WithComponent("transport.deepgram"),
	}
}

func (t *DeepgramTransport) Name() string { return "deepgram" }

// deepgramControl is a client-to-server control message.
type deepgramControl struct {
	Type string `json:"type"`
}

type deepgramWSResponse struct {
	Type        string            `json:"type"`
	Channel     *deepgramChannel  `json:"channel,omitempty"`
	Metadata    *deepgramMetadata `json:"metadata,omitempty"`
	Error       *deepgramError    `json:"error,omitempty"`
	Duration    float64           `json:"duration,omitempty"`
	Start       float64           `json:"start,omitempty"`
	IsFinal     bool              `json:"is_final,omitempty"`
	SpeechFinal bool              `json:"speech_final,omitempty"`

	// Metadata responses carry these at the top level.
	RequestID string `json:"request_id,omitempty"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives,omitempty"`
}

type deepgramAlternative struct {
	Transcript string         `json:"transcript"`
	Confidence float64        `json:"confidence"`
	Words      []deepgramWord `json:"words,omitempty"`
}

type deepgramWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        *int    `json:"speaker,omitempty"`
}

type deepgramMetadata struct {
	RequestID string `json:"request_id"`
	ModelInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"model_info"`
}

type deepgramError struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

func (t *DeepgramTransport) buildURL(cfg SessionConfig) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if cfg.Diarize {
		q.Set("diarize", "true")
	}
	if lang := language.Normalize(cfg.Language); lang != "" {
		q.Set("language", lang)
	}
	keywords := cfg.Keywords
	if len(keywords) == 0 {
		keywords = t.keywords
	}
	if len(keywords) > 0 {
		q.Set("keywords", strings.Join(keywords, ","))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *DeepgramTransport) Dial(ctx context.Context, cfg SessionConfig) (Conn, error) {
	wsURL, err := t.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("build websocket url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	t.log.Debug().Str("url", wsURL).Msg("dialing")
	conn, err := dialWebsocket(ctx, "deepgram", wsURL, headers)
	if err != nil {
		return nil, err
	}
	t.log.Info().Str("model", t.model).Str("language", cfg.Language).Msg("connected")

	// Deepgram has no explicit session start message; an accepted upgrade is
	// a ready session.
	return &deepgramConn{
		conn:    conn,
		log:     t.log,
		pending: []Event{{Type: EventSessionBegin, SpeakerID: NoSpeaker}},
		speaker: NoSpeaker,
	}, nil
}

type deepgramConn struct {
	conn *websocket.Conn
	log  zerolog.Logger

	// touched only by the reader goroutine
	pending []Event
	speaker int
}

func (c *deepgramConn) SendAudio(pcm []byte) error {
	// raw binary audio, not base64
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (c *deepgramConn) Terminate() error {
	return c.conn.WriteJSON(deepgramControl{Type: "CloseStream"})
}

func (c *deepgramConn) Close() error {
	return c.conn.Close()
}

func (c *deepgramConn) Recv() (Event, error) {
	for len(c.pending) == 0 {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return Event{}, readError(err)
		}

		var resp deepgramWSResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			c.log.Warn().Err(err).Msg("parse error")
			continue
		}
		c.handle(resp)
	}

	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev, nil
}

func (c *deepgramConn) handle(resp deepgramWSResponse) {
	switch resp.Type {
	case "Results":
		if resp.Channel == nil || len(resp.Channel.Alternatives) == 0 {
			return
		}
		alt := resp.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		speaker := dominantSpeaker(alt.Words)
		if speaker != NoSpeaker && speaker != c.speaker {
			c.speaker = speaker
			c.pending = append(c.pending, Event{Type: EventSpeakerChange, SpeakerID: speaker, Start: resp.Start})
		}

		ev := Event{
			Type:       EventPartial,
			Text:       alt.Transcript,
			SpeakerID:  speaker,
			Confidence: alt.Confidence,
			Start:      resp.Start,
			End:        resp.Start + resp.Duration,
		}
		if resp.IsFinal || resp.SpeechFinal {
			ev.Type = EventFinal
		}
		for _, w := range alt.Words {
			text := w.PunctuatedWord
			if text == "" {
				text = w.Word
			}
			ev.Words = append(ev.Words, transcript.Word{Text: text, Start: w.Start, End: w.End, Confidence: w.Confidence})
		}
		c.pending = append(c.pending, ev)

	case "Metadata":
		// Sent once the stream is closed, after the last results.
		requestID := resp.RequestID
		if resp.Metadata != nil {
			requestID = resp.Metadata.RequestID
		}
		c.log.Debug().Str("request_id", requestID).Msg("stream metadata")
		c.pending = append(c.pending, Event{Type: EventSessionEnd, SpeakerID: NoSpeaker})

	case "Error":
		if resp.Error == nil {
			return
		}
		msg := resp.Error.Message
		if resp.Error.Description != "" {
			msg = fmt.Sprintf("%s: %s", msg, resp.Error.Description)
		}
		c.pending = append(c.pending, Event{Type: EventError, SpeakerID: NoSpeaker, Err: fmt.Errorf("deepgram: %s", msg)})

	case "UtteranceEnd", "SpeechStarted":
		c.log.Debug().Str("type", resp.Type).Msg("vad event")

	default:
		c.log.Debug().Str("type", resp.Type).Msg("unknown message type")
	}
}

// dominantSpeaker returns the speaker label covering the most words.
func dominantSpeaker(words []deepgramWord) int {
	counts := map[int]int{}
	best, bestCount := NoSpeaker, 0
	for _, w := range words {
		if w.Speaker == nil {
			continue
		}
		counts[*w.Speaker]++
		n := counts[*w.Speaker]
		if n > bestCount || (n == bestCount && *w.Speaker < best) {
			best, bestCount = *w.Speaker, n
		}
	}
	return best
}
