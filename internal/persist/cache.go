package persist

import (
	"context"
	"sort"
	"sync"

	"github.com/gkirna/scribeflow/internal/transcript"
)

// FallbackCache keeps chunks the store would not take, keyed by session.
// Drain removes and returns everything cached for a session in append order.
type FallbackCache interface {
	Append(ctx context.Context, sessionID string, chunks []transcript.Chunk) error
	Drain(ctx context.Context, sessionID string) ([]transcript.Chunk, error)
	Sessions(ctx context.Context) ([]string, error)
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]transcript.Chunk

	// Fail, when set, is returned by Append.
	Fail error
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]transcript.Chunk)}
}

func (c *MemoryCache) Append(_ context.Context, sessionID string, chunks []transcript.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return c.Fail
	}
	c.entries[sessionID] = append(c.entries[sessionID], chunks...)
	return nil
}

func (c *MemoryCache) Drain(_ context.Context, sessionID string) ([]transcript.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.entries[sessionID]
	delete(c.entries, sessionID)
	return out, nil
}

func (c *MemoryCache) Sessions(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of cached chunks for a session.
func (c *MemoryCache) Len(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[sessionID])
}
