package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gkirna/scribeflow/internal/language"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/transcript"
)

// GoogleConfig configures the Cloud Speech streaming transport. An empty
// CredentialsFile falls back to GOOGLE_APPLICATION_CREDENTIALS.
type GoogleConfig struct {
	CredentialsFile string
	Endpoint        string
	Model           string
	MaxSpeakers     int
}

// GoogleTransport streams to Google Cloud Speech-to-Text v1 over gRPC.
type GoogleTransport struct {
	cfg    GoogleConfig
	log    zerolog.Logger
	mu     sync.Mutex
	client *speech.Client
}

func NewGoogleTransport(cfg GoogleConfig) *GoogleTransport {
	if cfg.MaxSpeakers <= 0 {
		cfg.MaxSpeakers = 6
	}
	return &GoogleTransport{cfg: cfg, log: logging.WithComponent("transport.google")}
}

func (t *GoogleTransport) Name() string { return "google" }

func (t *GoogleTransport) speechClient(ctx context.Context) (*speech.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	var opts []option.ClientOption
	if t.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(t.cfg.CredentialsFile))
	}
	if t.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(t.cfg.Endpoint))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, classifyGRPCError(fmt.Errorf("google: new client: %w", err))
	}
	t.client = c
	return c, nil
}

// Close releases the underlying gRPC client.
func (t *GoogleTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *GoogleTransport) recognitionConfig(cfg SessionConfig) *speechpb.StreamingRecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(cfg.SampleRate),
		LanguageCode:               language.Normalize(cfg.Language),
		EnableWordTimeOffsets:      true,
		EnableWordConfidence:       true,
		EnableAutomaticPunctuation: true,
		Model:                      t.cfg.Model,
	}
	if rc.LanguageCode == "" {
		rc.LanguageCode = "en-US"
	}
	if cfg.Diarize {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          1,
			MaxSpeakerCount:          int32(t.cfg.MaxSpeakers),
		}
	}
	if len(cfg.Keywords) > 0 {
		rc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: cfg.Keywords}}
	}
	return &speechpb.StreamingRecognitionConfig{Config: rc, InterimResults: true}
}

func (t *GoogleTransport) Dial(ctx context.Context, cfg SessionConfig) (Conn, error) {
	client, err := t.speechClient(ctx)
	if err != nil {
		return nil, err
	}

	// The stream outlives the dial deadline; Close cancels it.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	stream, err := client.StreamingRecognize(streamCtx)
	if err == nil {
		err = stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
				StreamingConfig: t.recognitionConfig(cfg),
			},
		})
	}
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, classifyGRPCError(fmt.Errorf("google: start stream: %w", err))
	}

	t.log.Info().Str("language", cfg.Language).Bool("diarize", cfg.Diarize).Msg("stream started")
	return &googleConn{
		stream:  stream,
		cancel:  cancel,
		log:     t.log,
		pending: []Event{{Type: EventSessionBegin, SpeakerID: NoSpeaker}},
		speaker: NoSpeaker,
	}, nil
}

type googleConn struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	log    zerolog.Logger

	// touched only by the reader goroutine
	pending []Event
	speaker int
	ended   bool
}

func (c *googleConn) SendAudio(pcm []byte) error {
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: pcm},
	})
}

func (c *googleConn) Terminate() error {
	return c.stream.CloseSend()
}

func (c *googleConn) Close() error {
	c.cancel()
	return nil
}

func (c *googleConn) Recv() (Event, error) {
	for len(c.pending) == 0 {
		if c.ended {
			return Event{}, io.EOF
		}
		resp, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			// Server finished after CloseSend.
			c.ended = true
			c.pending = append(c.pending, Event{Type: EventSessionEnd, SpeakerID: NoSpeaker})
			continue
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return Event{}, io.EOF
			}
			return Event{}, classifyGRPCError(err)
		}
		if resp.Error != nil && resp.Error.Code != int32(codes.OK) {
			c.pending = append(c.pending, Event{
				Type:      EventError,
				SpeakerID: NoSpeaker,
				Err:       fmt.Errorf("google: %s: %s", codes.Code(resp.Error.Code), resp.Error.Message),
			})
		}
		for _, r := range resp.Results {
			c.handleResult(r)
		}
	}

	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev, nil
}

func (c *googleConn) handleResult(r *speechpb.StreamingRecognitionResult) {
	if len(r.Alternatives) == 0 || r.Alternatives[0].Transcript == "" {
		return
	}
	alt := r.Alternatives[0]

	ev := Event{
		Type:       EventPartial,
		Text:       alt.Transcript,
		SpeakerID:  NoSpeaker,
		Confidence: float64(alt.Confidence),
	}
	if r.IsFinal {
		ev.Type = EventFinal
	}

	counts := map[int]int{}
	bestCount := 0
	for i, w := range alt.Words {
		word := transcript.Word{
			Text:       w.Word,
			Start:      w.StartTime.AsDuration().Seconds(),
			End:        w.EndTime.AsDuration().Seconds(),
			Confidence: float64(w.Confidence),
		}
		ev.Words = append(ev.Words, word)
		if i == 0 {
			ev.Start = word.Start
		}
		ev.End = word.End

		// Speaker tags start at 1; zero means untagged.
		if tag := int(w.SpeakerTag); tag > 0 {
			counts[tag-1]++
			if counts[tag-1] > bestCount {
				ev.SpeakerID, bestCount = tag-1, counts[tag-1]
			}
		}
	}
	if len(alt.Words) == 0 && r.ResultEndTime != nil {
		ev.End = r.ResultEndTime.AsDuration().Seconds()
	}

	if ev.SpeakerID != NoSpeaker && ev.SpeakerID != c.speaker {
		c.speaker = ev.SpeakerID
		c.pending = append(c.pending, Event{Type: EventSpeakerChange, SpeakerID: ev.SpeakerID, Start: ev.Start})
	}
	c.pending = append(c.pending, ev)
}

// classifyGRPCError marks errors that a reconnect cannot fix as fatal.
func classifyGRPCError(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument:
		return NewFatalTranscriptionError(err)
	}
	return err
}
