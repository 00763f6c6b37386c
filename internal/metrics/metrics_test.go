package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Create a new registry for isolated testing
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}

	if m.SocketsOpen == nil {
		t.Error("SocketsOpen metric is nil")
	}
	if m.StreamsSent == nil {
		t.Error("StreamsSent metric is nil")
	}
	if m.BytesSent == nil {
		t.Error("BytesSent metric is nil")
	}
}

func TestRecordSocketOpenClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordSocketOpen()
	m.RecordSocketOpen()
	m.RecordSocketClose()

	if got := testutil.ToFloat64(m.SocketsOpen); got != 1 {
		t.Errorf("SocketsOpen = %v, want 1", got)
	}
}

func TestRecordStreamSent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordStreamSent(3, 131015, 0.002)
	m.RecordStreamSent(0, 0, 0.0001)

	if got := testutil.ToFloat64(m.StreamsSent); got != 2 {
		t.Errorf("StreamsSent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ChunksSent); got != 3 {
		t.Errorf("ChunksSent = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 131015 {
		t.Errorf("BytesSent = %v, want 131015", got)
	}
	if got := testutil.CollectAndCount(m.StreamSendLatency); got != 1 {
		t.Errorf("StreamSendLatency series = %d, want 1", got)
	}
}

func TestRecordStreamError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordStreamError("write")
	m.RecordStreamError("write")
	m.RecordStreamError("canceled")

	if got := testutil.ToFloat64(m.StreamErrors.WithLabelValues("write")); got != 2 {
		t.Errorf("StreamErrors{write} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StreamErrors.WithLabelValues("canceled")); got != 1 {
		t.Errorf("StreamErrors{canceled} = %v, want 1", got)
	}
}

func TestRecordStreamReceived(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordStreamReceived(1000, 2)

	if got := testutil.ToFloat64(m.StreamsReceived); got != 1 {
		t.Errorf("StreamsReceived = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 1000 {
		t.Errorf("BytesReceived = %v, want 1000", got)
	}
	if got := testutil.ToFloat64(m.DatagramsDropped); got != 2 {
		t.Errorf("DatagramsDropped = %v, want 2", got)
	}
}

func TestDaemonMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordCommand("ping")
	m.RecordCommand("data")
	m.RecordCommand("ping")
	m.RecordRefill()
	m.SetStreaming(true)

	if got := testutil.ToFloat64(m.Commands.WithLabelValues("ping")); got != 2 {
		t.Errorf("Commands{ping} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BuffersRefilled); got != 1 {
		t.Errorf("BuffersRefilled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Streaming); got != 1 {
		t.Errorf("Streaming = %v, want 1", got)
	}

	m.SetStreaming(false)
	if got := testutil.ToFloat64(m.Streaming); got != 0 {
		t.Errorf("Streaming = %v, want 0", got)
	}
}

func TestDefault(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return the same instance")
	}
}
