package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gkirna/scribeflow/internal/metrics"
	"github.com/gkirna/scribeflow/internal/pipeline"
	"github.com/gkirna/scribeflow/internal/transcript"
)

type fakeView struct {
	stats    *pipeline.Stats
	chunks   []transcript.Chunk
	readyErr error
}

func (f *fakeView) Stats() (pipeline.Stats, bool) {
	if f.stats == nil {
		return pipeline.Stats{}, false
	}
	return *f.stats, true
}

func (f *fakeView) Chunks() ([]transcript.Chunk, bool) {
	return f.chunks, f.stats != nil
}

func (f *fakeView) Ready(context.Context) error { return f.readyErr }

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthAndReadiness(t *testing.T) {
	view := &fakeView{}
	srv := httptest.NewServer(NewRouter(view, prometheus.NewRegistry()))
	defer srv.Close()

	if code, body := get(t, srv, "/healthz"); code != http.StatusOK || body != "ok" {
		t.Errorf("/healthz = %d %q", code, body)
	}
	if code, _ := get(t, srv, "/readyz"); code != http.StatusOK {
		t.Errorf("/readyz = %d", code)
	}

	view.readyErr = errors.New("mongo unreachable")
	code, body := get(t, srv, "/readyz")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "mongo unreachable") {
		t.Errorf("/readyz with store down = %d %q", code, body)
	}
}

func TestSessionEndpoints(t *testing.T) {
	view := &fakeView{}
	srv := httptest.NewServer(NewRouter(view, prometheus.NewRegistry()))
	defer srv.Close()

	tests := []string{"/v1/session/", "/v1/session/chunks"}
	for _, path := range tests {
		if code, _ := get(t, srv, path); code != http.StatusNotFound {
			t.Errorf("%s without session = %d, want 404", path, code)
		}
	}

	view.stats = &pipeline.Stats{SessionID: "s1", Status: pipeline.Running, Finals: 2}
	view.chunks = []transcript.Chunk{{ID: "d1", CorrelationID: "c1", SessionID: "s1", Text: "hello"}}

	code, body := get(t, srv, "/v1/session/")
	if code != http.StatusOK {
		t.Fatalf("/v1/session/ = %d", code)
	}
	var stats map[string]any
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["session_id"] != "s1" || stats["status"] != "running" || stats["finals"] != float64(2) {
		t.Errorf("stats = %v", stats)
	}

	code, body = get(t, srv, "/v1/session/chunks")
	var chunks []transcript.Chunk
	if err := json.Unmarshal([]byte(body), &chunks); err != nil || code != http.StatusOK {
		t.Fatalf("/v1/session/chunks = %d %q", code, body)
	}
	if len(chunks) != 1 || chunks[0].ID != "d1" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordFinal()

	srv := httptest.NewServer(NewRouter(&fakeView{}, reg))
	defer srv.Close()

	code, body := get(t, srv, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "scribeflow_") {
		t.Errorf("/metrics = %d, body lacks scribeflow metrics", code)
	}
}
