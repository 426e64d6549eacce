package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/metrics"
	"github.com/gkirna/scribeflow/internal/recording"
)

type Config struct {
	Session              SessionConfig
	HandshakeTimeout     time.Duration
	MaxReconnectAttempts int
	BaseDelay            time.Duration
	SendQueueSize        int
	EventBufferSize      int
}

func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			SampleRate: 16000,
			Encoding:   "linear16",
			Language:   "en-US",
			Diarize:    true,
		},
		HandshakeTimeout:     12 * time.Second,
		MaxReconnectAttempts: 3,
		BaseDelay:            500 * time.Millisecond,
		SendQueueSize:        64,
		EventBufferSize:      256,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Session.SampleRate <= 0 {
		c.Session.SampleRate = def.Session.SampleRate
	}
	if c.Session.Encoding == "" {
		c.Session.Encoding = def.Session.Encoding
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = def.EventBufferSize
	}
	return c
}

// connection is one dialed provider session. A client goes through a new
// connection on every reconnect.
type connection struct {
	gen  int
	conn Conn
	send chan []byte // nil payload requests Terminate

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func newConnection(gen int, conn Conn, queue int) *connection {
	return &connection{
		gen:   gen,
		conn:  conn,
		send:  make(chan []byte, queue),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (cn *connection) markReady() {
	cn.readyOnce.Do(func() { close(cn.ready) })
}

func (cn *connection) finish(err error) {
	cn.mu.Lock()
	cn.err = err
	cn.mu.Unlock()
	close(cn.done)
}

func (cn *connection) errOr(fallback error) error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.err == nil || errors.Is(cn.err, io.EOF) {
		return fallback
	}
	return cn.err
}

func (cn *connection) shutdown() {
	cn.closeOnce.Do(func() {
		_ = cn.conn.Close()
	})
}

// Client streams audio to a provider and turns its responses into ordered
// events. A Client is single use: once disconnected it cannot be reconnected.
type Client struct {
	transport Transport
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	state        ConnectionState
	conn         *connection
	gen          int
	eventsClosed bool

	ctx    context.Context
	cancel context.CancelFunc

	events  chan Event
	dropped atomic.Int64
	wg      sync.WaitGroup
}

func New(transport Transport, cfg Config, m *metrics.Metrics) *Client {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		transport: transport,
		cfg:       cfg,
		log:       logging.WithComponent("transcriber").With().Str("provider", transport.Name()).Logger(),
		metrics:   m,
		sleep:     sleepContext,
		state:     StateIdle,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan Event, cfg.EventBufferSize),
	}
}

// Events is closed once Disconnect returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dropped is the number of SendAudio payloads discarded so far.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Connect dials the provider and waits for the session to begin. On failure
// the client returns to Idle and Connect may be called again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateFailed:
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return ErrClientClosed
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect: client is %s", state)
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	// Cancelling the caller's ctx aborts the handshake; Disconnect does too.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-c.ctx.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	if err := c.establish(ctx, 0); err != nil {
		c.mu.Lock()
		if c.state == StateConnecting || c.state == StateOpen {
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("connect failed")
		return err
	}
	c.log.Info().Msg("streaming session started")
	return nil
}

// establish dials one connection and waits for session_begin. The client
// must be in Connecting.
func (c *Client) establish(ctx context.Context, attempt int) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := c.transport.Dial(dialCtx, c.cfg.Session)
	if err != nil {
		c.metrics.RecordConnectFailure("dial")
		return &ConnectionError{Op: "dial", Attempt: attempt, Terminal: IsFatalTranscriptionError(err), Err: err}
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	}
	c.gen++
	cn := newConnection(c.gen, conn, c.cfg.SendQueueSize)
	c.conn = cn
	c.setStateLocked(StateOpen)
	c.wg.Add(2)
	go c.readLoop(cn)
	go c.writeLoop(cn)
	c.mu.Unlock()

	select {
	case <-cn.ready:
		return nil
	case <-cn.done:
		select {
		case <-cn.ready:
			return nil
		default:
		}
		c.releaseConn(cn)
		c.metrics.RecordConnectFailure("handshake")
		return &ConnectionError{Op: "handshake", Attempt: attempt, Err: cn.errOr(io.ErrUnexpectedEOF)}
	case <-dialCtx.Done():
		c.mu.Lock()
		streaming := c.conn == cn && c.state == StateStreaming
		c.mu.Unlock()
		if streaming {
			return nil
		}
		c.releaseConn(cn)
		c.metrics.RecordConnectFailure("handshake")
		return &ConnectionError{
			Op:      "handshake",
			Attempt: attempt,
			Err:     fmt.Errorf("no session start within %s: %w", c.cfg.HandshakeTimeout, dialCtx.Err()),
		}
	}
}

func (c *Client) releaseConn(cn *connection) {
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	c.mu.Unlock()
	cn.shutdown()
}

func (c *Client) readLoop(cn *connection) {
	defer c.wg.Done()
	for {
		ev, err := cn.conn.Recv()
		if err != nil {
			cn.finish(err)
			c.connectionLost(cn, err)
			return
		}
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now()
		}
		if ev.Type == EventSessionBegin {
			c.sessionReady(cn)
		}
		c.emit(ev)
	}
}

func (c *Client) sessionReady(cn *connection) {
	c.mu.Lock()
	if c.conn == cn && c.state == StateOpen {
		c.setStateLocked(StateStreaming)
	}
	c.mu.Unlock()
	cn.markReady()
}

func (c *Client) writeLoop(cn *connection) {
	defer c.wg.Done()
	for {
		select {
		case <-cn.done:
			return
		case pcm := <-cn.send:
			var err error
			if pcm == nil {
				err = cn.conn.Terminate()
			} else {
				err = cn.conn.SendAudio(pcm)
			}
			if err != nil {
				c.log.Warn().Err(err).Int("conn", cn.gen).Msg("write failed, closing connection")
				cn.shutdown()
				return
			}
		}
	}
}

// connectionLost handles a reader exit. Only an unexpected loss while
// Streaming triggers the reconnect policy; during a handshake the waiter in
// establish reports the failure.
func (c *Client) connectionLost(cn *connection, cause error) {
	c.mu.Lock()
	if c.conn != cn || c.state != StateStreaming {
		c.mu.Unlock()
		cn.shutdown()
		return
	}
	c.conn = nil
	c.setStateLocked(StateReconnecting)
	c.wg.Add(1)
	go c.reconnectLoop(cause)
	c.mu.Unlock()

	c.log.Warn().Err(cause).Int("conn", cn.gen).Msg("connection lost, reconnecting")
	cn.shutdown()
}

// reconnectLoop makes up to MaxReconnectAttempts attempts. Attempt n waits
// BaseDelay * 2^n before dialing.
func (c *Client) reconnectLoop(cause error) {
	defer c.wg.Done()

	lastErr := cause
	attempts := 0
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		delay := c.cfg.BaseDelay << attempt
		if err := c.sleep(c.ctx, delay); err != nil {
			return
		}

		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()

		attempts = attempt
		c.metrics.RecordReconnectAttempt()
		c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")

		err := c.establish(c.ctx, attempt)
		if err == nil {
			c.log.Info().Int("attempt", attempt).Msg("reconnected")
			return
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")

		c.mu.Lock()
		if c.state != StateConnecting && c.state != StateOpen {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateReconnecting)
		c.mu.Unlock()

		if IsTerminal(err) {
			break
		}
	}

	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateFailed)
	c.mu.Unlock()

	connErr := &ConnectionError{Op: "reconnect", Attempt: attempts, Terminal: true, Err: lastErr}
	c.log.Error().Err(connErr).Msg("giving up on connection")
	c.emit(Event{Type: EventError, SpeakerID: NoSpeaker, Err: connErr, ReceivedAt: time.Now()})
}

// SendAudio queues samples for the provider. Outside Streaming, or when the
// outbound queue is full, the payload is dropped and counted.
func (c *Client) SendAudio(samples []int16) {
	if len(samples) == 0 {
		return
	}
	c.mu.Lock()
	cn := c.conn
	streaming := c.state == StateStreaming
	c.mu.Unlock()

	if !streaming || cn == nil {
		c.drop("not_streaming")
		return
	}
	select {
	case cn.send <- recording.EncodePCM(samples):
	default:
		c.drop("send_queue_full")
	}
}

func (c *Client) drop(reason string) {
	c.dropped.Add(1)
	c.metrics.RecordDrop(reason)
}

// Disconnect ends the session. When Streaming it asks the provider to flush
// and waits, bounded by ctx, for the stream to end before closing. Safe to
// call more than once.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	cn := c.conn
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	var err error
	if prev == StateStreaming && cn != nil {
		select {
		case cn.send <- nil:
			select {
			case <-cn.done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		case <-cn.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("provider did not finish before disconnect deadline")
		}
	}

	c.cancel()
	if cn != nil {
		cn.shutdown()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.conn = nil
	c.setStateLocked(StateClosed)
	c.eventsClosed = true
	close(c.events)
	c.mu.Unlock()

	c.log.Info().Int64("dropped", c.dropped.Load()).Msg("disconnected")
	return err
}

// emit delivers a provider event, blocking until the consumer takes it or
// the client shuts down.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// setStateLocked applies a transition and publishes it. State events are
// best effort and skipped when the event buffer is full.
func (c *Client) setStateLocked(next ConnectionState) bool {
	prev := c.state
	if prev == next {
		return true
	}
	if !CanTransition(prev, next) {
		c.log.Error().Str("from", prev.String()).Str("to", next.String()).Msg("illegal state transition")
		return false
	}
	c.state = next
	c.metrics.SetConnectionState(prev.String(), next.String())
	c.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("state changed")

	if !c.eventsClosed {
		select {
		case c.events <- Event{Type: EventState, SpeakerID: NoSpeaker, State: next, PrevState: prev, ReceivedAt: time.Now()}:
		default:
		}
	}
	return true
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
