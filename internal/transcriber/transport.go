package transcriber

import "context"

// SessionConfig is negotiated with the provider on every connect.
type SessionConfig struct {
	SampleRate int
	Encoding   string // linear16
	Language   string
	Diarize    bool
	Keywords   []string
}

// Transport opens provider sessions. The ctx passed to Dial bounds only the
// dial; the returned Conn lives until Close.
type Transport interface {
	Name() string
	Dial(ctx context.Context, cfg SessionConfig) (Conn, error)
}

// Conn is one provider session. Recv is called from a single reader
// goroutine; SendAudio and Terminate from a single writer goroutine. Close
// may be called from any goroutine and must unblock Recv.
type Conn interface {
	// SendAudio writes one little-endian s16 PCM payload.
	SendAudio(pcm []byte) error
	// Recv blocks for the next event. It returns io.EOF once the provider has
	// ended the stream cleanly.
	Recv() (Event, error)
	// Terminate asks the provider to flush pending results and end the stream.
	Terminate() error
	Close() error
}
