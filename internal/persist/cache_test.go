package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gkirna/scribeflow/internal/transcript"
)

func testChunks(session string, n int) []transcript.Chunk {
	out := make([]transcript.Chunk, n)
	for i := range out {
		seg := segment(i)
		out[i] = transcript.ChunkFromSegment(session, seg, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	}
	return out
}

func exerciseCache(t *testing.T, cache FallbackCache) {
	t.Helper()
	ctx := context.Background()

	if err := cache.Append(ctx, "s1", testChunks("s1", 2)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := cache.Append(ctx, "s1", testChunks("s1", 3)[2:]); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := cache.Append(ctx, "s2", testChunks("s2", 1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	sessions, err := cache.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "s1" || sessions[1] != "s2" {
		t.Errorf("Sessions() = %v", sessions)
	}

	got, err := cache.Drain(ctx, "s1")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Drain() = %d chunks, want 3", len(got))
	}
	for i, c := range got {
		if c.CorrelationID != segment(i).ID || !c.PendingPersist || c.SessionID != "s1" {
			t.Errorf("chunk %d = %+v", i, c)
		}
	}
	if !got[0].CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", got[0].CreatedAt)
	}

	again, err := cache.Drain(ctx, "s1")
	if err != nil || len(again) != 0 {
		t.Errorf("second Drain() = %v, %v, want empty", again, err)
	}
	sessions, _ = cache.Sessions(ctx)
	if len(sessions) != 1 || sessions[0] != "s2" {
		t.Errorf("Sessions() after drain = %v", sessions)
	}
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache())
}

func TestBoltCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "fallback.db")
	cache, err := OpenBoltCache(path)
	if err != nil {
		t.Fatalf("OpenBoltCache() error = %v", err)
	}
	exerciseCache(t, cache)
	if err := cache.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestBoltCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.db")
	cache, err := OpenBoltCache(path)
	if err != nil {
		t.Fatalf("OpenBoltCache() error = %v", err)
	}
	if err := cache.Append(context.Background(), "s1", testChunks("s1", 2)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	cache.Close()

	cache, err = OpenBoltCache(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer cache.Close()

	peek, err := cache.Peek("s1")
	if err != nil || len(peek) != 2 {
		t.Fatalf("Peek() = %d, %v, want 2", len(peek), err)
	}
	got, _ := cache.Drain(context.Background(), "s1")
	if len(got) != 2 {
		t.Errorf("Drain() after reopen = %d, want 2", len(got))
	}
}

func TestQueueWithBoltCache(t *testing.T) {
	cache, err := OpenBoltCache(filepath.Join(t.TempDir(), "fallback.db"))
	if err != nil {
		t.Fatalf("OpenBoltCache() error = %v", err)
	}
	defer cache.Close()

	store := NewMemoryStore()
	down := true
	store.Fail = func(int, []transcript.Chunk) error {
		if down {
			return &TransientWriteError{}
		}
		return nil
	}
	q, _, _ := newTestQueue(store, cache, Config{MaxRetries: 1})
	q.Enqueue(segment(1))
	q.Flush(context.Background())

	peek, _ := cache.Peek("session-1")
	if len(peek) != 1 {
		t.Fatalf("cached = %d, want 1", len(peek))
	}

	down = false
	report, err := q.FlushAll(context.Background())
	if err != nil || report.Persisted != 1 {
		t.Errorf("FlushAll() = %+v, %v", report, err)
	}
}
