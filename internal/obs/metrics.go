package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes one session's transport health to Prometheus, labeled by
// remote address so a single registry can serve every peer a listener
// holds. A Metrics built with a nil Registerer is a safe no-op: every
// method on it becomes a cheap no-op instead of touching an unregistered
// collector.
type Metrics struct {
	enabled bool

	cwnd     *prometheus.GaugeVec
	rto      *prometheus.GaugeVec
	inflight *prometheus.GaugeVec
	srtt     *prometheus.GaugeVec

	retransmits   *prometheus.CounterVec
	datagramsSent *prometheus.CounterVec
	datagramsRecv *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
	bytesRecv     *prometheus.CounterVec
}

// NewMetrics builds and registers the collector set against reg. A nil reg
// returns a disabled Metrics whose methods are no-ops, letting callers skip
// a nil check at every call site.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}

	labels := []string{"remote_addr"}
	m := &Metrics{
		enabled: true,
		cwnd: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raknet", Name: "cwnd", Help: "current congestion window, in datagrams",
		}, labels),
		rto: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raknet", Name: "rto_seconds", Help: "current retransmission timeout",
		}, labels),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raknet", Name: "inflight", Help: "reliable frames awaiting acknowledgement",
		}, labels),
		srtt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "raknet", Name: "srtt_seconds", Help: "smoothed round-trip time",
		}, labels),
		retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raknet", Name: "retransmits_total", Help: "frames retransmitted on nack or timeout",
		}, labels),
		datagramsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raknet", Name: "datagrams_sent_total", Help: "datagrams written to the socket",
		}, labels),
		datagramsRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raknet", Name: "datagrams_received_total", Help: "datagrams read from the socket",
		}, labels),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raknet", Name: "bytes_sent_total", Help: "bytes written to the socket",
		}, labels),
		bytesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raknet", Name: "bytes_received_total", Help: "bytes read from the socket",
		}, labels),
	}
	reg.MustRegister(m.cwnd, m.rto, m.inflight, m.srtt,
		m.retransmits, m.datagramsSent, m.datagramsRecv, m.bytesSent, m.bytesRecv)
	return m
}

func (m *Metrics) SetCwnd(addr string, v uint32) {
	if m == nil || !m.enabled {
		return
	}
	m.cwnd.WithLabelValues(addr).Set(float64(v))
}

func (m *Metrics) SetRTO(addr string, seconds float64) {
	if m == nil || !m.enabled {
		return
	}
	m.rto.WithLabelValues(addr).Set(seconds)
}

func (m *Metrics) SetInFlight(addr string, v int) {
	if m == nil || !m.enabled {
		return
	}
	m.inflight.WithLabelValues(addr).Set(float64(v))
}

func (m *Metrics) SetSRTT(addr string, seconds float64) {
	if m == nil || !m.enabled {
		return
	}
	m.srtt.WithLabelValues(addr).Set(seconds)
}

func (m *Metrics) AddRetransmit(addr string) {
	if m == nil || !m.enabled {
		return
	}
	m.retransmits.WithLabelValues(addr).Inc()
}

func (m *Metrics) AddDatagramsSent(addr string, count, bytes uint64) {
	if m == nil || !m.enabled || count == 0 {
		return
	}
	m.datagramsSent.WithLabelValues(addr).Add(float64(count))
	m.bytesSent.WithLabelValues(addr).Add(float64(bytes))
}

func (m *Metrics) AddDatagramRecv(addr string, bytes int) {
	if m == nil || !m.enabled {
		return
	}
	m.datagramsRecv.WithLabelValues(addr).Inc()
	m.bytesRecv.WithLabelValues(addr).Add(float64(bytes))
}
