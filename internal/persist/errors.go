package persist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gkirna/scribeflow/internal/transcript"
)

// TransientWriteError is a store failure worth retrying.
type TransientWriteError struct {
	Err error
}

func (e *TransientWriteError) Error() string {
	return "transient write failure: " + e.Err.Error()
}

func (e *TransientWriteError) Unwrap() error { return e.Err }

// SchemaUnavailableError means the destination does not exist or rejects the
// document shape. Retrying cannot help.
type SchemaUnavailableError struct {
	Destination string
	Err         error
}

func (e *SchemaUnavailableError) Error() string {
	msg := "destination unavailable"
	if e.Destination != "" {
		msg += ": " + e.Destination
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaUnavailableError) Unwrap() error { return e.Err }

// UndeliveredError lists chunks that are neither in the store nor confirmed
// after a final flush. Cached chunks are included.
type UndeliveredError struct {
	Chunks []transcript.Chunk
}

func (e *UndeliveredError) Error() string {
	ids := make([]string, 0, len(e.Chunks))
	for _, c := range e.Chunks {
		ids = append(ids, c.CorrelationID)
	}
	return fmt.Sprintf("%d chunks undelivered: %s", len(e.Chunks), strings.Join(ids, ", "))
}

func IsSchemaUnavailable(err error) bool {
	var se *SchemaUnavailableError
	return errors.As(err, &se)
}

// IsTransient reports whether a write failure should be retried. Any error
// not classified as schema unavailable counts as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsSchemaUnavailable(err)
}
