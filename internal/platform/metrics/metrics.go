// Package metrics exposes prometheus instruments for messaging, scheduling,
// notification delivery and the realtime transport. Every method is safe on
// a nil receiver so components can run without metrics in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "carelink"

type Metrics struct {
	messagesTotal       *prometheus.CounterVec
	operationFailures   *prometheus.CounterVec
	appointmentsTotal   *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	eventsTotal         *prometheus.CounterVec
	unreadRepairedTotal prometheus.Counter
	websocketClients    prometheus.Gauge
	activeSubscriptions prometheus.Gauge
	mediaUploadLatency  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Messages appended, by payload kind",
		}, []string{"kind"}),
		operationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed operations by operation and failure kind",
		}, []string{"operation", "kind"}),
		appointmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "appointment_transitions_total",
			Help:      "Appointment status transitions, by resulting status",
		}, []string{"status"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notifications dispatched, by event type and delivery status",
		}, []string{"event_type", "status"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Change events handled by the broker, by type and source",
		}, []string{"event_type", "source"}),
		unreadRepairedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "unread_repaired_total",
			Help:      "Unread counters corrected by reconciliation",
		}),
		websocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "websocket_clients",
			Help:      "Connected websocket clients",
		}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "active_subscriptions",
			Help:      "Live message list subscriptions",
		}),
		mediaUploadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "media_upload_seconds",
			Help:      "Latency of media uploads to the blob store",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.messagesTotal, m.operationFailures, m.appointmentsTotal, m.notificationsTotal,
		m.eventsTotal, m.unreadRepairedTotal, m.websocketClients, m.activeSubscriptions,
		m.mediaUploadLatency,
	)
	return m
}

func (m *Metrics) MessageAppended(kind string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) OperationFailed(operation, kind string) {
	if m == nil {
		return
	}
	m.operationFailures.WithLabelValues(operation, kind).Inc()
}

func (m *Metrics) AppointmentTransition(status string) {
	if m == nil {
		return
	}
	m.appointmentsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) NotificationDispatched(eventType string, delivered bool) {
	if m == nil {
		return
	}
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	m.notificationsTotal.WithLabelValues(eventType, status).Inc()
}

// EventHandled counts a broker event. source is "local" or "remote".
func (m *Metrics) EventHandled(eventType, source string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType, source).Inc()
}

func (m *Metrics) UnreadRepaired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unreadRepairedTotal.Add(float64(n))
}

func (m *Metrics) WebsocketClients(delta int) {
	if m == nil {
		return
	}
	m.websocketClients.Add(float64(delta))
}

func (m *Metrics) Subscriptions(delta int) {
	if m == nil {
		return
	}
	m.activeSubscriptions.Add(float64(delta))
}

func (m *Metrics) ObserveMediaUpload(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.mediaUploadLatency.WithLabelValues(kind).Observe(seconds)
}
