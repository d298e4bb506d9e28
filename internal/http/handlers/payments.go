package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/observability/metrics"
	"github.com/wolfman30/medicarex-booking/internal/payments"
	"github.com/wolfman30/medicarex-booking/internal/reconcile"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// PaymentHandler serves order creation, client confirmation and gateway webhooks.
type PaymentHandler struct {
	orders   *payments.OrderService
	gateways *payments.Registry
	applier  payments.Applier
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
}

func NewPaymentHandler(orders *payments.OrderService, gateways *payments.Registry, applier payments.Applier, m *metrics.BookingMetrics, logger *logging.Logger) *PaymentHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PaymentHandler{
		orders:   orders,
		gateways: gateways,
		applier:  applier,
		metrics:  m,
		logger:   logger.With("component", "payments_http"),
	}
}

// CreateOrderRequest is the body of POST /payment/order.
type CreateOrderRequest struct {
	AppointmentID uuid.UUID            `json:"appointment_id"`
	Gateway       appointments.Gateway `json:"gateway,omitempty"`
}

// VerifyRequest is the body of POST /payment/verify.
type VerifyRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	payments.ClientPayload
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status   string `json:"status"`
	Received int    `json:"received"`
	Flagged  int    `json:"flagged,omitempty"`
}

func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.AppointmentID == uuid.Nil {
		badRequest(w, "appointment_id is required")
		return
	}
	res, err := h.orders.CreateOrder(r.Context(), caller, req.AppointmentID, req.Gateway)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.AppointmentID == uuid.Nil || req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		badRequest(w, "appointment_id, order_id, payment_id and signature are required")
		return
	}
	appt, err := h.orders.VerifyClient(r.Context(), caller, req.AppointmentID, req.ClientPayload)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Webhook verifies and applies a gateway delivery. Signature failures are 400.
// Mismatched amounts and unknown orders are recorded as anomalies and
// acknowledged so the gateway stops redelivering; anything else is 500 and the
// gateway retries. Redelivery is safe because application is idempotent.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := appointments.Gateway(chi.URLParam(r, "gateway"))
	defer func() { h.metrics.ObserveWebhookLatency(string(name), time.Since(start).Seconds()) }()

	gw, err := h.gateways.Get(name)
	if err != nil || name == "" {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown_gateway", Message: "unknown gateway " + string(name)})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "unreadable body")
		return
	}
	evts, err := gw.ParseWebhook(body, r.Header)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			h.logger.Warn("webhook signature rejected", "gateway", name)
			writeError(w, h.logger, err)
			return
		}
		h.logger.Warn("webhook payload rejected", "gateway", name, "error", err)
		badRequest(w, "malformed webhook payload")
		return
	}

	resp := WebhookResponse{Status: "ok", Received: len(evts)}
	if len(evts) == 0 {
		resp.Status = "ignored"
	}
	for _, evt := range evts {
		_, err := h.applier.Apply(r.Context(), evt)
		switch {
		case err == nil:
		case errors.Is(err, reconcile.ErrAmountMismatch), errors.Is(err, reconcile.ErrUnknownOrder):
			resp.Flagged++
			resp.Status = "flagged"
		default:
			h.logger.Error("webhook apply failed", "gateway", name, "event_id", evt.EventID, "error", err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "event not applied"})
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
