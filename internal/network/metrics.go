package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dcrodman/parley/internal/packets"
)

// DefaultNamespace prefixes every metric unless NewMetrics is given another one.
const DefaultNamespace = "parley"

// Metrics collects connection and packet counters for one or more instances. A
// nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionsTotal  *prometheus.CounterVec
	connectionsActive *prometheus.GaugeVec
	authenticated     *prometheus.GaugeVec
	packetsReceived   *prometheus.CounterVec
	packetsSent       *prometheus.CounterVec
	frameBytes        *prometheus.HistogramVec
	decodeErrors      *prometheus.CounterVec
	authFailures      *prometheus.CounterVec
	reconnectsTotal   prometheus.Counter
	responsesExpired  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Passing nil uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of connections opened",
		}, []string{"role"}),

		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open connections",
		}, []string{"role"}),

		authenticated: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authenticated",
			Help:      "Number of open connections that have authenticated",
		}, []string{"role"}),

		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total number of packets decoded",
		}, []string{"role", "packet"}),

		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total number of packets written",
		}, []string{"role", "packet"}),

		frameBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Size of frames read and written, length prefix excluded",
			Buckets:   []float64{8, 32, 128, 512, 2048, 8192},
		}, []string{"role", "direction"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of frames that could not be decoded",
		}, []string{"role"}),

		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of rejected authentication attempts by reason",
		}, []string{"reason"}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of client reconnection attempts scheduled",
		}),

		responsesExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_expired_total",
			Help:      "Total number of requests that were never answered",
		}, []string{"role"}),
	}
}

func (m *Metrics) connectionOpened(side packets.Side) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(side.String()).Inc()
	m.connectionsActive.WithLabelValues(side.String()).Inc()
}

func (m *Metrics) connectionClosed(side packets.Side, wasAuthenticated bool) {
	if m == nil {
		return
	}
	m.connectionsActive.WithLabelValues(side.String()).Dec()
	if wasAuthenticated {
		m.authenticated.WithLabelValues(side.String()).Dec()
	}
}

func (m *Metrics) connectionAuthenticated(side packets.Side) {
	if m == nil {
		return
	}
	m.authenticated.WithLabelValues(side.String()).Inc()
}

func (m *Metrics) packetReceived(side packets.Side, name string, size int) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(side.String(), name).Inc()
	m.frameBytes.WithLabelValues(side.String(), "in").Observe(float64(size))
}

func (m *Metrics) packetSent(side packets.Side, name string, size int) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(side.String(), name).Inc()
	m.frameBytes.WithLabelValues(side.String(), "out").Observe(float64(size))
}

func (m *Metrics) decodeFailed(side packets.Side) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(side.String()).Inc()
}

func (m *Metrics) authFailed(reason packets.DisconnectReason) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

func (m *Metrics) responseExpired(side packets.Side) {
	if m == nil {
		return
	}
	m.responsesExpired.WithLabelValues(side.String()).Inc()
}
