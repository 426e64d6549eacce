package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gkirna/scribeflow/internal/bus"
	"github.com/gkirna/scribeflow/internal/config"
	"github.com/gkirna/scribeflow/internal/metrics"
	"github.com/gkirna/scribeflow/internal/notify"
	"github.com/gkirna/scribeflow/internal/pipeline"
	"github.com/gkirna/scribeflow/internal/recording"
	"github.com/gkirna/scribeflow/internal/testutil"
	"github.com/gkirna/scribeflow/internal/transcriber"
	"github.com/gkirna/scribeflow/internal/transcript"
)

// startDaemon runs a daemon on a temp socket with synthetic audio of the
// given length, paced at roughly ten times real time.
func startDaemon(t *testing.T, audio time.Duration) (*Daemon, string) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))

	cfg := config.DefaultConfig()
	outDir := filepath.Join(tmp, "out")
	cfg.Persistence.OutputDir = outDir
	cfg.Persistence.Debounce = 50 * time.Millisecond
	cfgPath := filepath.Join(tmp, "config.toml")
	if err := config.SaveFile(cfgPath, cfg); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}
	manager, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	d := New(manager, Options{
		Notifier: notify.Nop{},
		Source: func(cfg *config.Config, _ *metrics.Metrics) (recording.Source, error) {
			src := testutil.NewSyntheticSource(cfg.Recording.SampleRate, audio)
			src.Pace = 10 * time.Millisecond
			return src, nil
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run() }()

	ready := testutil.WaitFor(2*time.Second, func() bool {
		_, err := bus.SendCommand(bus.CmdVersion)
		return err == nil
	})
	if !ready {
		t.Fatal("daemon failed to start within timeout")
	}

	t.Cleanup(func() {
		bus.SendCommand(bus.CmdQuit)
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("daemon did not exit within timeout")
		}
	})
	return d, outDir
}

func send(t *testing.T, cmd byte) (string, map[string]string) {
	t.Helper()
	resp, err := bus.SendCommand(cmd)
	if err != nil {
		t.Fatalf("SendCommand(%q) error = %v", cmd, err)
	}
	return bus.ParseReply(resp)
}

func readOutput(t *testing.T, path string) transcript.StructuredOutput {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var out transcript.StructuredOutput
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	d, outDir := startDaemon(t, 60*time.Second)

	if kind, f := send(t, bus.CmdStatus); kind != "STATUS" || f["status"] != "idle" {
		t.Fatalf("initial status = %s %v", kind, f)
	}

	kind, f := send(t, bus.CmdStart)
	if kind != "OK" || f["status"] != "running" || f["session"] == "" {
		t.Fatalf("start = %s %v", kind, f)
	}
	session := f["session"]

	if _, err := bus.SendCommand(bus.CmdStart); err == nil || !strings.Contains(err.Error(), "session_active") {
		t.Errorf("second start error = %v", err)
	}

	if _, f := send(t, bus.CmdPause); f["status"] != "paused" {
		t.Errorf("pause = %v", f)
	}
	if _, err := bus.SendCommand(bus.CmdPause); err == nil {
		t.Error("pausing a paused session should fail")
	}
	if _, f := send(t, bus.CmdResume); f["status"] != "running" {
		t.Errorf("resume = %v", f)
	}

	// Let the simulated provider finalize the first utterance.
	if !testutil.WaitFor(5*time.Second, func() bool {
		stats, _ := d.Stats()
		return stats.Finals >= 1
	}) {
		t.Fatal("no finalized segment within timeout")
	}

	kind, f = send(t, bus.CmdStop)
	if kind != "OK" || f["status"] != "stopped" || f["session"] != session || f["undelivered"] != "0" {
		t.Fatalf("stop = %s %v", kind, f)
	}
	if want := filepath.Join(outDir, session+".json"); f["output"] != want {
		t.Errorf("output = %q, want %q", f["output"], want)
	}
	out := readOutput(t, f["output"])
	if out.SessionID != session || len(out.Speakers) == 0 {
		t.Errorf("output = %+v", out)
	}

	if _, err := bus.SendCommand(bus.CmdStop); err == nil || !strings.Contains(err.Error(), "no_session") {
		t.Errorf("second stop error = %v", err)
	}
	if _, f := send(t, bus.CmdStatus); f["status"] != "stopped" || f["session"] != session {
		t.Errorf("status after stop = %v", f)
	}
	if _, ok := d.Chunks(); ok {
		t.Error("Chunks() should report no active session")
	}
}

func TestSourceEndStopsSession(t *testing.T) {
	d, outDir := startDaemon(t, 10*time.Second)

	_, f := send(t, bus.CmdStart)
	session := f["session"]

	path := filepath.Join(outDir, session+".json")
	if !testutil.WaitFor(10*time.Second, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}) {
		t.Fatal("session output not written after source ended")
	}

	out := readOutput(t, path)
	segments := 0
	for _, sp := range out.Speakers {
		segments += len(sp.Segments)
	}
	if segments != len(transcriber.DefaultScript) {
		t.Errorf("output has %d segments, want %d", segments, len(transcriber.DefaultScript))
	}
	if !testutil.WaitFor(2*time.Second, func() bool {
		stats, _ := d.Stats()
		return stats.Status == pipeline.Stopped
	}) {
		t.Error("session status never reached stopped")
	}
}

func TestUnknownCommand(t *testing.T) {
	startDaemon(t, time.Second)
	if _, err := bus.SendCommand('x'); err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Errorf("unknown command error = %v", err)
	}
}

func TestWriteOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	path, err := WriteOutput(dir, transcript.StructuredOutput{SessionID: "abc"})
	if err != nil {
		t.Fatalf("WriteOutput() error = %v", err)
	}
	if path != filepath.Join(dir, "abc.json") {
		t.Errorf("path = %q", path)
	}
	if out := readOutput(t, path); out.SessionID != "abc" {
		t.Errorf("SessionID = %q", out.SessionID)
	}
}

func TestOutputDirDefault(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", tmp)
	cfg := config.DefaultConfig()
	dir, err := OutputDir(cfg)
	if err != nil || dir != filepath.Join(tmp, "scribeflow", "sessions") {
		t.Errorf("OutputDir() = %q, %v", dir, err)
	}
	cfg.Persistence.OutputDir = "/srv/out"
	if dir, _ := OutputDir(cfg); dir != "/srv/out" {
		t.Errorf("OutputDir() = %q", dir)
	}
}

func TestNewSessionRejectsUnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transcription.Provider = "carrier-pigeon"
	_, err := NewSession(t.Context(), cfg, Options{
		Source: func(*config.Config, *metrics.Metrics) (recording.Source, error) {
			return testutil.NewSyntheticSource(16000, time.Second), nil
		},
	})
	if err == nil || !strings.Contains(err.Error(), "transcription provider") {
		t.Errorf("NewSession() error = %v", err)
	}
}

func TestOpenCache(t *testing.T) {
	cfg := config.DefaultConfig()
	cache, closeFn, err := OpenCache(cfg)
	if err != nil {
		t.Fatalf("OpenCache() memory error = %v", err)
	}
	closeFn(t.Context())
	if cache == nil {
		t.Fatal("nil cache")
	}

	cfg.Persistence.CachePath = filepath.Join(t.TempDir(), "cache.db")
	cache, closeFn, err = OpenCache(cfg)
	if err != nil {
		t.Fatalf("OpenCache() bolt error = %v", err)
	}
	defer closeFn(t.Context())
	if sessions, err := cache.Sessions(t.Context()); err != nil || len(sessions) != 0 {
		t.Errorf("Sessions() = %v, %v", sessions, err)
	}
}
