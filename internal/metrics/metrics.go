package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/bidsync/internal/connection"
)

const namespace = "bidsync"

// Recorder holds the bidsync collectors.
type Recorder struct {
	connectionState   *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	malformedMessages *prometheus.CounterVec
	sendFallbacks     *prometheus.CounterVec
	suppressed        prometheus.Counter
	surfaced          *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg.
// A nil reg uses a fresh registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state per topic (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
		}, []string{"topic"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Backoff retries scheduled per topic.",
		}, []string{"topic"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound frames decoded per topic.",
		}, []string{"topic"}),
		malformedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Inbound frames dropped as malformed or unknown per topic.",
		}, []string{"topic"}),
		sendFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_fallbacks_total",
			Help:      "Outbound actions issued over HTTP because the channel was down.",
		}, []string{"topic"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_suppressed_total",
			Help:      "Notifications dropped as already surfaced.",
		}),
		surfaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_surfaced_total",
			Help:      "Notifications surfaced to the user by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		r.connectionState,
		r.reconnectAttempts,
		r.messagesReceived,
		r.malformedMessages,
		r.sendFallbacks,
		r.suppressed,
		r.surfaced,
	)
	return r
}

// ObserveStatus records a status change.
func (r *Recorder) ObserveStatus(s connection.Status) {
	if r == nil {
		return
	}
	r.connectionState.WithLabelValues(s.Topic).Set(float64(s.State))
	if s.State == connection.StateReconnecting {
		r.reconnectAttempts.WithLabelValues(s.Topic).Inc()
	}
}

// ForgetTopic drops the per-topic state gauge after teardown.
func (r *Recorder) ForgetTopic(topic string) {
	if r == nil {
		return
	}
	r.connectionState.DeleteLabelValues(topic)
}

// MessageReceived counts a decoded inbound frame.
func (r *Recorder) MessageReceived(topic string) {
	if r == nil {
		return
	}
	r.messagesReceived.WithLabelValues(topic).Inc()
}

// Malformed counts a dropped inbound frame.
func (r *Recorder) Malformed(topic string) {
	if r == nil {
		return
	}
	r.malformedMessages.WithLabelValues(topic).Inc()
}

// SendFallback counts an action sent over HTTP.
func (r *Recorder) SendFallback(topic string) {
	if r == nil {
		return
	}
	r.sendFallbacks.WithLabelValues(topic).Inc()
}

// NotificationSuppressed counts a duplicate notification.
func (r *Recorder) NotificationSuppressed() {
	if r == nil {
		return
	}
	r.suppressed.Inc()
}

// NotificationSurfaced counts a surfaced notification.
func (r *Recorder) NotificationSurfaced(kind string) {
	if r == nil {
		return
	}
	r.surfaced.WithLabelValues(kind).Inc()
}

// Handler serves the given gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
