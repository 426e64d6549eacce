// Package persist turns finalized segments into durable transcript chunks:
// an optimistic pending view, batched writes with retry, and a local
// fallback cache for batches the store will not take.
package persist

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gkirna/scribeflow/internal/transcript"
)

// Store is the durable destination. InsertMany returns the durable id for
// every correlation id it persisted. Inserting a correlation id twice must
// return the same durable id.
type Store interface {
	InsertMany(ctx context.Context, chunks []transcript.Chunk) (map[string]string, error)
}

// SessionReader is implemented by stores that can list what they hold for a
// session.
type SessionReader interface {
	ListSession(ctx context.Context, sessionID string) ([]transcript.Chunk, error)
}

// MemoryStore is an in-process Store for offline runs and tests. Fail, when
// set, is consulted before each insert.
type MemoryStore struct {
	mu      sync.Mutex
	ids     map[string]string
	records map[string]transcript.Chunk
	order   []string
	calls   int

	Fail func(call int, chunks []transcript.Chunk) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ids:     make(map[string]string),
		records: make(map[string]transcript.Chunk),
	}
}

func (s *MemoryStore) InsertMany(ctx context.Context, chunks []transcript.Chunk) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransientWriteError{Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.Fail != nil {
		if err := s.Fail(s.calls, chunks); err != nil {
			return nil, err
		}
	}

	out := make(map[string]string, len(chunks))
	for _, c := range chunks {
		id, ok := s.ids[c.CorrelationID]
		if !ok {
			id = uuid.NewString()
			s.ids[c.CorrelationID] = id
			c.ID = id
			c.PendingPersist = false
			s.records[id] = c
			s.order = append(s.order, id)
		}
		out[c.CorrelationID] = id
	}
	return out, nil
}

// Chunks returns stored chunks in insertion order.
func (s *MemoryStore) Chunks() []transcript.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Chunk, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// Calls is the number of InsertMany invocations so far.
func (s *MemoryStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ListSession returns the stored chunks of a session ordered by offset.
func (s *MemoryStore) ListSession(ctx context.Context, sessionID string) ([]transcript.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []transcript.Chunk
	for _, c := range s.Chunks() {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampOffset < out[j].TimestampOffset })
	return out, nil
}
