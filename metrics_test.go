package ctcp

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountersIncrement(t *testing.T) {
	m := NewMetrics("ctcptest", nil)
	m.incSent()
	m.incSent()
	m.incReceived()
	m.incRetransmitted()
	m.incCorrupt()

	if got := testutil.ToFloat64(m.segmentsSent); got != 2 {
		t.Fatalf("want segmentsSent=2, got %v", got)
	}
	if got := testutil.ToFloat64(m.segmentsReceived); got != 1 {
		t.Fatalf("want segmentsReceived=1, got %v", got)
	}
	if got := testutil.ToFloat64(m.segmentsRetransmitted); got != 1 {
		t.Fatalf("want segmentsRetransmitted=1, got %v", got)
	}
	if got := testutil.ToFloat64(m.segmentsCorrupt); got != 1 {
		t.Fatalf("want segmentsCorrupt=1, got %v", got)
	}
}

func TestMetricsActiveConnectionsTracksEngine(t *testing.T) {
	e := NewEngine(nil)
	m := NewMetrics("ctcptest", e)
	if got := testutil.ToFloat64(m.activeConnections); got != 0 {
		t.Fatalf("want 0 active connections initially, got %v", got)
	}
	e.Register(newTestConnection(t, "A"))
	e.Register(newTestConnection(t, "B"))
	if got := testutil.ToFloat64(m.activeConnections); got != 2 {
		t.Fatalf("want 2 active connections after registering, got %v", got)
	}
}

func TestMetricsRegistersWithPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("ctcptest", NewEngine(nil))
	if err := reg.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("want at least one metric family collected")
	}
}

func TestMetricsNilEngineOmitsActiveConnections(t *testing.T) {
	m := NewMetrics("ctcptest", nil)
	if m.activeConnections != nil {
		t.Fatal("want activeConnections gauge nil without an engine")
	}
	descs := make(chan *prometheus.Desc, 16)
	m.Describe(descs)
	close(descs)
	n := 0
	for range descs {
		n++
	}
	if n != 4 {
		t.Fatalf("want 4 described metrics without an engine, got %d", n)
	}
}
