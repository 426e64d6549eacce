package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gkirna/scribeflow/internal/config"
	"github.com/gkirna/scribeflow/internal/persist"
	"github.com/gkirna/scribeflow/internal/transcriber"
	"github.com/gkirna/scribeflow/internal/transcript"
	"github.com/gkirna/scribeflow/internal/tui"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Notifications.Enabled = false
	cfg.Persistence.OutputDir = filepath.Join(t.TempDir(), "out")
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.SaveFile(path, cfg); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}
	return path
}

func writeToneWAV(t *testing.T, rate int, d time.Duration) string {
	t.Helper()
	data := make([]int, int(d.Seconds()*float64(rate)))
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	path := filepath.Join(t.TempDir(), "call.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func TestTranscribeFile(t *testing.T) {
	cfgPath := writeConfig(t, nil)
	wavPath := writeToneWAV(t, 16000, 10*time.Second)

	out, err := run(t, "--config", cfgPath, "-o", "json", "transcribe", wavPath)
	if err != nil {
		t.Fatalf("transcribe error = %v", err)
	}
	var result transcript.StructuredOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}

	var texts []string
	for _, sp := range result.Speakers {
		for _, seg := range sp.Segments {
			texts = append(texts, seg.Text)
		}
	}
	if len(texts) != len(transcriber.DefaultScript) {
		t.Errorf("got %d segments, want %d: %v", len(texts), len(transcriber.DefaultScript), texts)
	}
	if result.Summary.SpeakerCount != 2 || result.Summary.Sentiment != transcript.Unknown {
		t.Errorf("summary = %+v", result.Summary)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	cfgPath := writeConfig(t, nil)
	if _, err := run(t, "--config", cfgPath, "transcribe", filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("transcribe of a missing file should fail")
	}
}

func TestCacheListAndReplay(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "cache.db")
	cfgPath := writeConfig(t, func(c *config.Config) { c.Persistence.CachePath = cachePath })

	cache, err := persist.OpenBoltCache(cachePath)
	if err != nil {
		t.Fatalf("OpenBoltCache() error = %v", err)
	}
	var chunks []transcript.Chunk
	for i := range 3 {
		seg := transcript.Segment{ID: fmt.Sprintf("corr-%d", i), Text: "hello", IsFinal: true, Start: float64(i), End: float64(i) + 1}
		chunks = append(chunks, transcript.ChunkFromSegment("s1", seg, time.Now()))
	}
	if err := cache.Append(context.Background(), "s1", chunks); err != nil {
		t.Fatal(err)
	}
	cache.Close()

	out, err := run(t, "--config", cfgPath, "-o", "json", "cache", "list")
	if err != nil {
		t.Fatalf("cache list error = %v", err)
	}
	var sessions []tui.CachedSession
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "s1" || sessions[0].Chunks != 3 {
		t.Errorf("sessions = %+v", sessions)
	}

	out, err = run(t, "--config", cfgPath, "-o", "json", "cache", "replay")
	if err != nil {
		t.Fatalf("cache replay error = %v", err)
	}
	var results []persist.ReplayResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode replay: %v\n%s", err, out)
	}
	if len(results) != 1 || results[0].Persisted != 3 {
		t.Errorf("results = %+v", results)
	}

	out, err = run(t, "--config", cfgPath, "cache", "list")
	if err != nil || !strings.Contains(out, "empty") {
		t.Errorf("cache list after replay = %q, %v", out, err)
	}
}

func TestChunksFromMemoryStore(t *testing.T) {
	cfgPath := writeConfig(t, nil)
	out, err := run(t, "--config", cfgPath, "chunks", "session-1")
	if err != nil {
		t.Fatalf("chunks error = %v", err)
	}
	if !strings.Contains(out, "no stored chunks for session session-1") {
		t.Errorf("chunks output = %q", out)
	}
	if _, err := run(t, "--config", cfgPath, "chunks"); err == nil {
		t.Error("chunks without a session id should fail")
	}
}

func TestCacheWithoutPath(t *testing.T) {
	cfgPath := writeConfig(t, nil)
	_, err := run(t, "--config", cfgPath, "cache", "list")
	if err == nil || !strings.Contains(err.Error(), "cache_path") {
		t.Errorf("cache list error = %v", err)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	cfgPath := writeConfig(t, nil)
	_, err := run(t, "--config", cfgPath, "-o", "xml", "cache", "list")
	if err == nil || !strings.Contains(err.Error(), "xml") {
		t.Errorf("error = %v", err)
	}
}

func TestControlCommandWithoutDaemon(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	if _, err := run(t, "status"); err == nil {
		t.Error("status without a daemon should fail")
	}
}
