package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for reservation and payment flows.
type BookingMetrics struct {
	reservationsTotal *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	paymentEvents     *prometheus.CounterVec
	anomaliesTotal    *prometheus.CounterVec
	gatewayCalls      *prometheus.CounterVec
	webhookLatency    *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		reservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medicarex",
			Subsystem: "booking",
			Name:      "reservations_total",
			Help:      "Slot reservation attempts by outcome",
		}, []string{"result"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medicarex",
			Subsystem: "ledger",
			Name:      "transitions_total",
			Help:      "Appointment lifecycle transitions",
		}, []string{"from", "to"}),
		paymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medicarex",
			Subsystem: "payments",
			Name:      "events_total",
			Help:      "Normalized payment events processed by the reconciler",
		}, []string{"gateway", "kind", "result"}),
		anomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medicarex",
			Subsystem: "payments",
			Name:      "anomalies_total",
			Help:      "Payment anomalies queued for manual review",
		}, []string{"kind"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medicarex",
			Subsystem: "payments",
			Name:      "gateway_calls_total",
			Help:      "Outbound payment gateway calls",
		}, []string{"gateway", "operation", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medicarex",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of payment webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservationsTotal, m.transitionsTotal, m.paymentEvents, m.anomaliesTotal, m.gatewayCalls, m.webhookLatency)
	return m
}

func (m *BookingMetrics) ObserveReservation(result string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObservePaymentEvent(gateway, kind, result string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(gateway, kind, result).Inc()
}

func (m *BookingMetrics) ObserveAnomaly(kind string) {
	if m == nil {
		return
	}
	m.anomaliesTotal.WithLabelValues(kind).Inc()
}

func (m *BookingMetrics) ObserveGatewayCall(gateway, operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.gatewayCalls.WithLabelValues(gateway, operation, status).Inc()
}

func (m *BookingMetrics) ObserveWebhookLatency(gateway string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(gateway).Observe(seconds)
}
