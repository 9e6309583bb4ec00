package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes the metrics surface of the relay. The session gauge is
// boolean in practice: the arbitrator never grants more than one role.
type Collector struct {
	sessionActive      prometheus.Gauge
	connectedParties   prometheus.Gauge
	listenersConnected prometheus.Gauge
	signalMessages     *prometheus.CounterVec
	signalErrors       prometheus.Counter
	roleDenials        prometheus.Counter
	negotiationSeconds prometheus.Histogram
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		sessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "djlive_session_active",
			Help: "Whether a broadcast session is currently active (0 or 1)",
		}),
		connectedParties: factory.NewGauge(prometheus.GaugeOpts{
			Name: "djlive_connected_parties",
			Help: "Number of parties connected to the signaling relay",
		}),
		listenersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "djlive_listeners_connected",
			Help: "Number of listeners attached to the active session",
		}),
		signalMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "djlive_signal_messages_total",
			Help: "Signaling messages processed by the relay, by type",
		}, []string{"type"}),
		signalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "djlive_signal_errors_total",
			Help: "Signaling messages that failed processing",
		}),
		roleDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "djlive_role_denials_total",
			Help: "Broadcaster role requests denied",
		}),
		negotiationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "djlive_negotiation_duration_seconds",
			Help:    "Time from listener readiness to answer relay",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (c *Collector) SetSessionActive(active bool) {
	if active {
		c.sessionActive.Set(1)
		return
	}
	c.sessionActive.Set(0)
}

func (c *Collector) SetConnectedParties(n int) {
	c.connectedParties.Set(float64(n))
}

func (c *Collector) SetListenersConnected(n int) {
	c.listenersConnected.Set(float64(n))
}

func (c *Collector) RecordSignalMessage(msgType string) {
	c.signalMessages.WithLabelValues(msgType).Inc()
}

func (c *Collector) RecordSignalError() {
	c.signalErrors.Inc()
}

func (c *Collector) RecordRoleDenial() {
	c.roleDenials.Inc()
}

func (c *Collector) ObserveNegotiation(seconds float64) {
	c.negotiationSeconds.Observe(seconds)
}
