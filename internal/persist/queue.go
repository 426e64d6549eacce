package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/events"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/metrics"
	"github.com/gkirna/scribeflow/internal/transcript"
)

type Config struct {
	// BatchSize pending chunks trigger an immediate flush.
	BatchSize int
	// Debounce is the longest a chunk waits before a flush is attempted.
	Debounce time.Duration
	// MaxRetries is the total number of write attempts per batch.
	MaxRetries int
	// BaseBackoff is the wait after the first failed attempt; it doubles
	// after each further failure.
	BaseBackoff time.Duration
	// FlushTimeout bounds a single write attempt.
	FlushTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    5,
		Debounce:     2 * time.Second,
		MaxRetries:   3,
		BaseBackoff:  250 * time.Millisecond,
		FlushTimeout: 8 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Debounce <= 0 {
		c.Debounce = def.Debounce
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = def.BaseBackoff
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = def.FlushTimeout
	}
	return c
}

// Report summarizes a final flush.
type Report struct {
	Persisted   int                `json:"persisted"`
	Cached      int                `json:"cached"`
	Undelivered []transcript.Chunk `json:"undelivered,omitempty"`
}

type entry struct {
	chunk      transcript.Chunk
	enqueuedAt time.Time
}

// Queue owns the optimistic chunk view of one session and moves chunks to
// the store in batches.
type Queue struct {
	sessionID string
	store     Store
	cache     FallbackCache
	sink      events.Sink
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	mu           sync.Mutex
	entries      map[string]*entry
	pending      []string
	cached       map[string]struct{}
	schemaDown   bool
	schemaWarned bool

	// flushMu is held for the duration of a flush. Run skips a trigger when
	// it is taken; FlushAll waits for it.
	flushMu sync.Mutex
	kick    chan struct{}
}

func NewQueue(sessionID string, store Store, cache FallbackCache, sink events.Sink, cfg Config, m *metrics.Metrics) *Queue {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if sink == nil {
		sink = events.Nop
	}
	return &Queue{
		sessionID: sessionID,
		store:     store,
		cache:     cache,
		sink:      sink,
		cfg:       cfg.withDefaults(),
		log:       logging.WithSession("persist", sessionID),
		metrics:   m,
		sleep:     sleepContext,
		now:       time.Now,
		entries:   make(map[string]*entry),
		cached:    make(map[string]struct{}),
		kick:      make(chan struct{}, 1),
	}
}

// Enqueue records a finalized segment as an optimistic chunk. Enqueueing the
// same correlation id twice returns the existing chunk.
func (q *Queue) Enqueue(seg transcript.Segment) transcript.Chunk {
	now := q.now()
	q.mu.Lock()
	if e, ok := q.entries[seg.ID]; ok {
		c := e.chunk
		q.mu.Unlock()
		return c
	}
	chunk := transcript.ChunkFromSegment(q.sessionID, seg, now)
	q.entries[seg.ID] = &entry{chunk: chunk, enqueuedAt: now}
	q.pending = append(q.pending, seg.ID)
	n := len(q.pending)
	q.mu.Unlock()

	q.metrics.RecordEnqueued(n)
	q.publish(events.KindChunkCreated, []transcript.Chunk{chunk})
	if n >= q.cfg.BatchSize {
		q.trigger()
	}
	return chunk
}

func (q *Queue) trigger() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Run drives size and debounce triggered flushes until ctx is done. Flushes
// run on a context detached from ctx so cancellation never interrupts a
// write in flight.
func (q *Queue) Run(ctx context.Context) {
	tick := q.cfg.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > 250*time.Millisecond {
		tick = 250 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.kick:
			q.tryFlush(flushCtx)
		case <-ticker.C:
			if q.debounceElapsed() {
				q.tryFlush(flushCtx)
			}
		}
	}
}

func (q *Queue) debounceElapsed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return false
	}
	oldest := q.entries[q.pending[0]].enqueuedAt
	for _, id := range q.pending[1:] {
		if t := q.entries[id].enqueuedAt; t.Before(oldest) {
			oldest = t
		}
	}
	return q.now().Sub(oldest) >= q.cfg.Debounce
}

func (q *Queue) tryFlush(ctx context.Context) {
	if !q.flushMu.TryLock() {
		return
	}
	defer q.flushMu.Unlock()
	q.flushLocked(ctx)
}

// Flush writes the current pending batch, waiting for any flush in flight.
func (q *Queue) Flush(ctx context.Context) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()
	q.flushLocked(ctx)
}

// takePending removes the pending batch ordered by timestamp offset.
func (q *Queue) takePending() []transcript.Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := make([]transcript.Chunk, 0, len(q.pending))
	for _, id := range q.pending {
		batch = append(batch, q.entries[id].chunk)
	}
	q.pending = nil
	transcript.SortChunks(batch)
	return batch
}

// repend puts chunks back in front of the pending list.
func (q *Queue) repend(chunks []transcript.Chunk) {
	if len(chunks) == 0 {
		return
	}
	q.mu.Lock()
	ids := make([]string, 0, len(chunks)+len(q.pending))
	for _, c := range chunks {
		if _, ok := q.entries[c.CorrelationID]; !ok {
			q.entries[c.CorrelationID] = &entry{chunk: c, enqueuedAt: q.now()}
		}
		ids = append(ids, c.CorrelationID)
	}
	q.pending = append(ids, q.pending...)
	n := len(q.pending)
	q.mu.Unlock()
	q.metrics.SetPending(n)
}

func (q *Queue) flushLocked(ctx context.Context) {
	batch := q.takePending()
	if len(batch) == 0 {
		return
	}

	q.mu.Lock()
	schemaDown := q.schemaDown
	q.mu.Unlock()
	if schemaDown {
		q.cacheBatch(ctx, batch, nil)
		return
	}

	remaining, attempts, err := q.writeBatch(ctx, batch)
	if err != nil {
		q.handleFailure(ctx, remaining, attempts, err)
		return
	}
	// Chunks the store did not confirm stay pending.
	q.repend(remaining)

	q.mu.Lock()
	hasCached := len(q.cached) > 0
	q.mu.Unlock()
	if hasCached {
		q.retryCachedLocked(ctx)
	}
}

// writeBatch makes up to MaxRetries attempts and returns the chunks left
// unconfirmed. A nil error means the store accepted the batch.
func (q *Queue) writeBatch(ctx context.Context, batch []transcript.Chunk) ([]transcript.Chunk, int, error) {
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.FlushTimeout)
		start := time.Now()
		ids, err := q.store.InsertMany(attemptCtx, batch)
		cancel()
		if err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
			err = &TransientWriteError{Err: fmt.Errorf("flush attempt timed out after %s: %w", q.cfg.FlushTimeout, err)}
		}

		promoted := q.promote(ids)
		q.metrics.RecordFlush(err, promoted, time.Since(start))
		batch = unconfirmed(batch, ids)

		if err == nil {
			q.log.Debug().Int("persisted", promoted).Int("unconfirmed", len(batch)).Int("attempt", attempt).Msg("flushed batch")
			return batch, attempt, nil
		}
		lastErr = err
		if len(batch) == 0 {
			return nil, attempt, nil
		}
		if IsSchemaUnavailable(err) {
			return batch, attempt, err
		}

		q.log.Warn().Err(err).Int("attempt", attempt).Int("chunks", len(batch)).Msg("flush failed")
		if attempt < q.cfg.MaxRetries {
			q.metrics.RecordWarning(string(events.WarnWriteRetry))
			delay := q.cfg.BaseBackoff << (attempt - 1)
			if err := q.sleep(ctx, delay); err != nil {
				return batch, attempt, lastErr
			}
		}
	}
	return batch, q.cfg.MaxRetries, lastErr
}

func (q *Queue) handleFailure(ctx context.Context, batch []transcript.Chunk, attempts int, err error) {
	if IsSchemaUnavailable(err) {
		q.mu.Lock()
		q.schemaDown = true
		warn := !q.schemaWarned
		q.schemaWarned = true
		q.mu.Unlock()
		if warn {
			q.warn(events.KindWarning, events.WarnSchemaUnavailable,
				"transcript destination unavailable, caching chunks locally for this session", err)
		}
		q.cacheBatch(ctx, batch, err)
		return
	}
	if q.cacheBatch(ctx, batch, err) {
		q.warn(events.KindActionNeeded, events.WarnCached,
			fmt.Sprintf("%d transcript chunks cached locally after %d failed attempts", len(batch), attempts), err)
	}
}

// cacheBatch moves chunks to the fallback cache. If the cache refuses them
// they stay pending so they are retried and reported.
func (q *Queue) cacheBatch(ctx context.Context, batch []transcript.Chunk, cause error) bool {
	if len(batch) == 0 {
		return false
	}
	if err := q.cache.Append(ctx, q.sessionID, batch); err != nil {
		q.repend(batch)
		q.warn(events.KindActionNeeded, events.WarnCacheFailed,
			fmt.Sprintf("could not cache %d transcript chunks locally", len(batch)), err)
		return false
	}

	q.mu.Lock()
	for _, c := range batch {
		q.cached[c.CorrelationID] = struct{}{}
	}
	q.mu.Unlock()

	q.metrics.RecordCached(len(batch))
	q.log.Warn().AnErr("cause", cause).Int("chunks", len(batch)).Msg("chunks cached locally")
	q.publish(events.KindChunkCached, batch)
	return true
}

// promote applies durable ids in place. Each chunk is promoted at most once.
func (q *Queue) promote(ids map[string]string) int {
	if len(ids) == 0 {
		return 0
	}
	q.mu.Lock()
	var promoted []transcript.Chunk
	for corr, durable := range ids {
		e, ok := q.entries[corr]
		if !ok || !e.chunk.PendingPersist || durable == "" {
			continue
		}
		e.chunk.ID = durable
		e.chunk.PendingPersist = false
		delete(q.cached, corr)
		promoted = append(promoted, e.chunk)
	}
	q.mu.Unlock()

	if len(promoted) > 0 {
		transcript.SortChunks(promoted)
		q.publish(events.KindChunkPromoted, promoted)
	}
	return len(promoted)
}

// RetryCached drains this session's fallback cache back through the store.
// It also clears a previous schema failure so the destination is probed
// again.
func (q *Queue) RetryCached(ctx context.Context) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	q.schemaDown = false
	q.mu.Unlock()
	q.retryCachedLocked(ctx)
}

func (q *Queue) retryCachedLocked(ctx context.Context) {
	chunks, err := q.cache.Drain(ctx, q.sessionID)
	if err != nil {
		q.log.Error().Err(err).Msg("drain fallback cache")
		return
	}
	if len(chunks) == 0 {
		return
	}

	q.mu.Lock()
	batch := chunks[:0]
	for _, c := range chunks {
		delete(q.cached, c.CorrelationID)
		e, ok := q.entries[c.CorrelationID]
		if !ok {
			q.entries[c.CorrelationID] = &entry{chunk: c, enqueuedAt: q.now()}
			batch = append(batch, c)
			continue
		}
		if e.chunk.PendingPersist {
			batch = append(batch, e.chunk)
		}
	}
	q.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	q.log.Info().Int("chunks", len(batch)).Msg("retrying cached chunks")
	remaining, attempts, err := q.writeBatch(ctx, batch)
	if err != nil {
		q.handleFailure(ctx, remaining, attempts, err)
		return
	}
	q.repend(remaining)
}

// FlushAll waits for any flush in flight, then writes every pending and
// cached chunk. The report lists exactly the chunks still unconfirmed; when
// there are any, an *UndeliveredError is returned with it.
func (q *Queue) FlushAll(ctx context.Context) (Report, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	schemaDown := q.schemaDown
	hasCached := len(q.cached) > 0
	q.mu.Unlock()

	if hasCached && !schemaDown {
		q.retryCachedLocked(ctx)
	}
	q.flushLocked(ctx)

	q.mu.Lock()
	var report Report
	for _, e := range q.entries {
		if e.chunk.PendingPersist {
			report.Undelivered = append(report.Undelivered, e.chunk)
		} else {
			report.Persisted++
		}
	}
	report.Cached = len(q.cached)
	q.mu.Unlock()

	transcript.SortChunks(report.Undelivered)
	q.log.Info().
		Int("persisted", report.Persisted).
		Int("cached", report.Cached).
		Int("undelivered", len(report.Undelivered)).
		Msg("final flush complete")

	if len(report.Undelivered) > 0 {
		return report, &UndeliveredError{Chunks: report.Undelivered}
	}
	return report, nil
}

// Snapshot returns the optimistic chunk view ordered by offset.
func (q *Queue) Snapshot() []transcript.Chunk {
	q.mu.Lock()
	out := make([]transcript.Chunk, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.chunk)
	}
	q.mu.Unlock()
	transcript.SortChunks(out)
	return out
}

// Pending is the number of chunks waiting for a flush.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Cached is the number of chunks currently held in the fallback cache.
func (q *Queue) Cached() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cached)
}

func (q *Queue) publish(kind events.Kind, chunks []transcript.Chunk) {
	q.sink.Publish(context.Background(), events.Event{
		Kind:      kind,
		SessionID: q.sessionID,
		Time:      q.now(),
		Chunks:    chunks,
	})
}

func (q *Queue) warn(kind events.Kind, wk events.WarningKind, msg string, err error) {
	q.metrics.RecordWarning(string(wk))
	q.sink.Publish(context.Background(), events.Event{
		Kind:      kind,
		SessionID: q.sessionID,
		Time:      q.now(),
		Warning:   &events.Warning{Kind: wk, Message: msg, Err: err},
	})
}

func unconfirmed(batch []transcript.Chunk, ids map[string]string) []transcript.Chunk {
	if len(ids) == 0 {
		return batch
	}
	out := batch[:0:0]
	for _, c := range batch {
		if ids[c.CorrelationID] == "" {
			out = append(out, c)
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
