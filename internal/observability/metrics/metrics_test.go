package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveReservation("ok")
	m.ObserveReservation("ok")
	m.ObserveReservation("slot_unavailable")
	m.ObserveTransition("reserved", "payment_pending")
	m.ObservePaymentEvent("stripe", "payment_captured", "applied")
	m.ObserveAnomaly("amount_mismatch")
	m.ObserveGatewayCall("razorpay", "create_order", errors.New("boom"))
	m.ObserveWebhookLatency("stripe", 0.25)

	if got := testutil.ToFloat64(m.reservationsTotal.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok reservations, got %v", got)
	}
	if got := testutil.ToFloat64(m.gatewayCalls.WithLabelValues("razorpay", "create_order", "error")); got != 1 {
		t.Fatalf("expected 1 failed gateway call, got %v", got)
	}
}

func TestBookingMetricsGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveAnomaly("unknown_order")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "medicarex_payments_anomalies_total" {
			found = f
		}
	}
	if found == nil {
		t.Fatal("expected anomalies family to be registered")
	}
	if v := found.GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Fatalf("expected counter 1, got %v", v)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveReservation("ok")
	m.ObserveTransition("a", "b")
	m.ObservePaymentEvent("g", "k", "r")
	m.ObserveAnomaly("k")
	m.ObserveGatewayCall("g", "op", nil)
	m.ObserveWebhookLatency("g", 0.1)
}
