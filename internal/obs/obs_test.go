package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsWithNilRegistererIsNoop(t *testing.T) {
	m := NewMetrics(nil)
	// None of these should panic even though nothing was registered.
	m.SetCwnd("127.0.0.1:1", 4)
	m.SetRTO("127.0.0.1:1", 1.5)
	m.SetInFlight("127.0.0.1:1", 2)
	m.SetSRTT("127.0.0.1:1", 0.2)
	m.AddRetransmit("127.0.0.1:1")
	m.AddDatagramsSent("127.0.0.1:1", 3, 128)
	m.AddDatagramRecv("127.0.0.1:1", 64)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetCwnd("x", 1)
	m.AddRetransmit("x")
}

func TestNewMetricsRegistersUnderRealRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SetCwnd("127.0.0.1:2", 8)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() = %v", err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "raknet_cwnd" {
			found = true
		}
	}
	if !found {
		t.Fatal("raknet_cwnd not found after registration")
	}
}

func TestNewLoggerFallsBackToInfoOnInvalidLevel(t *testing.T) {
	l := NewLogger("not-a-level")
	if l.GetLevel().String() != "info" {
		t.Fatalf("level = %s, want info", l.GetLevel())
	}
}
