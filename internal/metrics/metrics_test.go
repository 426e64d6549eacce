package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordFrame()
	m.RecordEviction(10)
	m.RecordDrop("not_streaming")
	m.SetConnectionState("idle", "connecting")
	m.RecordFlush(nil, 3, time.Millisecond)
	m.RecordWarning("partial_data_loss")
	m.RecordPublish("finals", nil, time.Millisecond)
}

func TestRecordFlush(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordFlush(errors.New("boom"), 0, 10*time.Millisecond)
	m.RecordFlush(nil, 4, 20*time.Millisecond)

	if got := testutil.ToFloat64(m.FlushTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error flushes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FlushTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("success flushes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ChunksPersisted); got != 4 {
		t.Errorf("persisted = %v, want 4", got)
	}
}

func TestSetConnectionState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetConnectionState("", "connecting")
	m.SetConnectionState("connecting", "streaming")

	if got := testutil.ToFloat64(m.ConnectionState.WithLabelValues("connecting")); got != 0 {
		t.Errorf("connecting = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.ConnectionState.WithLabelValues("streaming")); got != 1 {
		t.Errorf("streaming = %v, want 1", got)
	}
}

func TestRecordEvictionIgnoresZero(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordEviction(0)
	m.RecordEviction(-5)
	m.RecordEviction(160)
	if got := testutil.ToFloat64(m.SamplesEvicted); got != 160 {
		t.Errorf("evicted = %v, want 160", got)
	}
}
