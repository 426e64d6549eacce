// Package daemon hosts one session at a time behind the control socket.
package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gkirna/scribeflow/internal/bus"
	"github.com/gkirna/scribeflow/internal/config"
	"github.com/gkirna/scribeflow/internal/httpapi"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/persist"
	"github.com/gkirna/scribeflow/internal/pipeline"
	"github.com/gkirna/scribeflow/internal/transcript"
)

var (
	ErrNoSession     = errors.New("no_session")
	ErrSessionActive = errors.New("session_active")
)

type Daemon struct {
	manager *config.Manager
	opts    Options
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes start and stop; mu guards the fields below.
	opMu sync.Mutex
	mu   sync.RWMutex
	rt   *Runtime
	last *pipeline.Stats
}

func New(manager *config.Manager, opts Options) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		manager: manager,
		opts:    opts,
		log:     logging.WithComponent("daemon"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *Daemon) Run() error {
	if err := bus.CheckExistingDaemon(); err != nil {
		return err
	}

	ln, err := bus.Listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := bus.CreatePidFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer bus.RemovePidFile()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			d.log.Info().Str("signal", sig.String()).Msg("shutting down")
			d.cancel()
		case <-d.ctx.Done():
		}
	}()

	if err := d.manager.StartWatching(d.ctx); err != nil {
		d.log.Warn().Err(err).Msg("config watching disabled")
	}
	defer d.manager.Stop()
	d.manager.OnReload(func(*config.Config) {
		d.log.Info().Msg("config reloaded, applies to the next session")
	})

	cfg := d.manager.GetConfig()
	var srv *httpapi.Server
	if cfg.HTTP.Enabled {
		srv = httpapi.NewServer(cfg.HTTP.Addr, d, nil)
		srv.Start()
	}

	go func() {
		<-d.ctx.Done()
		ln.Close()
	}()

	d.log.Info().Str("config", d.manager.Path()).Msg("daemon started, listening on socket")

	var conns sync.WaitGroup
	for {
		c, err := ln.Accept()
		if err != nil {
			if d.ctx.Err() == nil {
				d.log.Error().Err(err).Msg("accept failed")
			}
			break
		}
		conns.Add(1)
		go func() {
			defer conns.Done()
			d.handle(c)
		}()
	}

	d.cancel()
	if _, err := d.stopSession(); err != nil && !errors.Is(err, ErrNoSession) {
		d.log.Error().Err(err).Msg("stop on shutdown")
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(ctx)
		cancel()
	}
	conns.Wait()
	d.log.Info().Msg("daemon stopped")
	return nil
}

// Shutdown stops the daemon as if it received "quit".
func (d *Daemon) Shutdown() { d.cancel() }

func (d *Daemon) handle(c net.Conn) {
	defer c.Close()

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		d.log.Warn().Err(err).Msg("client read error")
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd := line[0]

	switch cmd {
	case bus.CmdStart:
		rt, err := d.startSession()
		if err != nil {
			fmt.Fprintf(c, "ERR %v\n", err)
			return
		}
		fmt.Fprint(c, reply("OK", rt.Session.Stats()))
	case bus.CmdPause, bus.CmdResume:
		rt, err := d.current()
		if err == nil {
			if cmd == bus.CmdPause {
				err = rt.Session.Pause()
			} else {
				err = rt.Session.Resume(d.ctx)
			}
		}
		if err != nil {
			fmt.Fprintf(c, "ERR %v\n", err)
			return
		}
		fmt.Fprint(c, reply("OK", rt.Session.Stats()))
	case bus.CmdStop:
		res, err := d.stopSession()
		if errors.Is(err, ErrNoSession) {
			fmt.Fprintf(c, "ERR %v\n", err)
			return
		}
		fmt.Fprint(c, bus.FormatReply("OK", []string{"status", "session", "finals", "undelivered", "output"}, res.fields()))
	case bus.CmdStatus:
		stats, ok := d.Stats()
		if !ok {
			fmt.Fprintf(c, "STATUS status=%s\n", pipeline.Idle)
			return
		}
		fmt.Fprint(c, reply("STATUS", stats))
	case bus.CmdVersion:
		fmt.Fprintf(c, "STATUS proto=%s\n", bus.ProtoVer)
	case bus.CmdQuit:
		fmt.Fprint(c, "OK quitting\n")
		d.cancel()
	default:
		d.log.Warn().Str("cmd", string(cmd)).Msg("unknown command")
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}

func reply(kind string, s pipeline.Stats) string {
	return bus.FormatReply(kind, []string{"status", "session", "connection", "finals", "pending", "cached"}, map[string]string{
		"status":     string(s.Status),
		"session":    s.SessionID,
		"connection": s.Connection,
		"finals":     strconv.Itoa(s.Finals),
		"pending":    strconv.Itoa(s.Pending),
		"cached":     strconv.Itoa(s.Cached),
	})
}

func (d *Daemon) current() (*Runtime, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.rt == nil {
		return nil, ErrNoSession
	}
	return d.rt, nil
}

func (d *Daemon) startSession() (*Runtime, error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	if _, err := d.current(); err == nil {
		return nil, ErrSessionActive
	}

	cfg := d.manager.GetConfig()
	rt, err := NewSession(d.ctx, cfg, d.opts)
	if err != nil {
		return nil, err
	}
	if err := rt.Session.Start(d.ctx); err != nil {
		_, _ = rt.Session.Stop(d.ctx)
		_ = rt.Close(d.ctx)
		return nil, err
	}

	d.mu.Lock()
	d.rt = rt
	d.mu.Unlock()

	go d.watchCapture(rt)
	return rt, nil
}

// watchCapture stops the session when its source runs dry.
func (d *Daemon) watchCapture(rt *Runtime) {
	select {
	case <-rt.Session.CaptureDone():
	case <-d.ctx.Done():
		return
	}
	d.mu.RLock()
	same := d.rt == rt
	d.mu.RUnlock()
	if !same {
		return
	}
	d.log.Info().Str("session", rt.Session.SessionID()).Msg("audio source ended, stopping session")
	if _, err := d.stopSession(); err != nil && !errors.Is(err, ErrNoSession) {
		d.log.Error().Err(err).Msg("auto stop")
	}
}

type stopResult struct {
	stats       pipeline.Stats
	output      string
	undelivered int
}

func (r stopResult) fields() map[string]string {
	return map[string]string{
		"status":      string(r.stats.Status),
		"session":     r.stats.SessionID,
		"finals":      strconv.Itoa(r.stats.Finals),
		"undelivered": strconv.Itoa(r.undelivered),
		"output":      r.output,
	}
}

// stopSession stops the current session, writes its output and releases
// its resources. An undelivered report is logged, not returned.
func (d *Daemon) stopSession() (stopResult, error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	rt, err := d.current()
	if err != nil {
		return stopResult{}, err
	}
	log := logging.WithSession("daemon", rt.Session.SessionID())

	out, stopErr := rt.Session.Stop(context.Background())
	var res stopResult
	var undelivered *persist.UndeliveredError
	if errors.As(stopErr, &undelivered) {
		res.undelivered = len(undelivered.Chunks)
		log.Error().Int("chunks", res.undelivered).Msg("session stopped with undelivered chunks")
	} else if stopErr != nil {
		log.Error().Err(stopErr).Msg("session stop failed")
	}

	if err := rt.Close(context.Background()); err != nil {
		log.Warn().Err(err).Msg("release session resources")
	}

	res.output, err = d.writeOutput(out)
	if err != nil {
		log.Error().Err(err).Msg("write session output")
	} else {
		log.Info().Str("path", res.output).Msg("session output written")
	}

	res.stats = rt.Session.Stats()
	d.mu.Lock()
	d.rt = nil
	d.last = &res.stats
	d.mu.Unlock()
	return res, nil
}

func (d *Daemon) writeOutput(out transcript.StructuredOutput) (string, error) {
	dir, err := OutputDir(d.manager.GetConfig())
	if err != nil {
		return "", err
	}
	return WriteOutput(dir, out)
}

// Stats reports the current session, or the last stopped one.
func (d *Daemon) Stats() (pipeline.Stats, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.rt != nil {
		return d.rt.Session.Stats(), true
	}
	if d.last != nil {
		return *d.last, true
	}
	return pipeline.Stats{}, false
}

func (d *Daemon) Chunks() ([]transcript.Chunk, bool) {
	rt, err := d.current()
	if err != nil {
		return nil, false
	}
	return rt.Session.Chunks(), true
}

// Ready reports whether the current session's store is reachable.
func (d *Daemon) Ready(ctx context.Context) error {
	rt, err := d.current()
	if err != nil {
		return nil
	}
	return rt.Ready(ctx)
}
