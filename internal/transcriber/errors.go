package transcriber

import (
	"errors"
	"fmt"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrNotStreaming = errors.New("client not streaming")
)

// ConnectionError is a dial, handshake or transport failure. Terminal errors
// end the client's reconnect policy.
type ConnectionError struct {
	Op       string // dial, handshake, reconnect
	Attempt  int
	Terminal bool
	Err      error
}

func (e *ConnectionError) Error() string {
	msg := "connection " + e.Op + " failed"
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempt)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err ends the session's connection for good.
func IsTerminal(err error) bool {
	var ce *ConnectionError
	if errors.As(err, &ce) && ce.Terminal {
		return true
	}
	return IsFatalTranscriptionError(err)
}

// FatalTranscriptionError marks a provider failure that retrying cannot fix,
// such as rejected credentials.
type FatalTranscriptionError struct {
	Err error
}

func (e *FatalTranscriptionError) Error() string {
	if e == nil || e.Err == nil {
		return "fatal transcription error"
	}
	return e.Err.Error()
}

func (e *FatalTranscriptionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewFatalTranscriptionError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalTranscriptionError{Err: err}
}

func IsFatalTranscriptionError(err error) bool {
	var fatal *FatalTranscriptionError
	return errors.As(err, &fatal)
}
