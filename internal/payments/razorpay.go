package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

var razorpayTracer = otel.Tracer("medicarex.internal.payments.razorpay")

// RazorpayAdapter collects fees through Razorpay Orders. Payment is confirmed
// either by the client handing back a signed (order, payment) pair or by the
// payment.captured webhook; both produce the same event id.
type RazorpayAdapter struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	logger        *logging.Logger
}

// NewRazorpayAdapter creates a Razorpay adapter.
func NewRazorpayAdapter(keyID, keySecret, webhookSecret string, logger *logging.Logger) *RazorpayAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &RazorpayAdapter{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		baseURL:       "https://api.razorpay.com",
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
	}
}

// WithBaseURL overrides the Razorpay API base URL (for testing).
func (r *RazorpayAdapter) WithBaseURL(baseURL string) *RazorpayAdapter {
	if baseURL != "" {
		r.baseURL = strings.TrimRight(baseURL, "/")
	}
	return r
}

func (r *RazorpayAdapter) Name() appointments.Gateway { return appointments.GatewayRazorpay }

func razorpayEventID(entityID, suffix string) string {
	return fmt.Sprintf("razorpay:%s:%s", entityID, suffix)
}

func (r *RazorpayAdapter) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	ctx, span := razorpayTracer.Start(ctx, "razorpay.create_order")
	defer span.End()
	span.SetAttributes(
		attribute.String("medicarex.appointment_id", req.AppointmentID.String()),
		attribute.Int64("medicarex.amount", req.Amount),
	)

	payload := map[string]any{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.AppointmentID.String(),
		"notes": map[string]string{
			"appointment_id": req.AppointmentID.String(),
			"patient_id":     req.PatientID,
		},
	}
	var order razorpayOrder
	if err := r.call(ctx, http.MethodPost, "/v1/orders", payload, &order); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("payments: razorpay response missing order id")
	}
	return &Order{
		Ref:      order.ID,
		Amount:   order.Amount,
		Currency: strings.ToUpper(order.Currency),
		ClientConfig: map[string]string{
			"gateway":  string(appointments.GatewayRazorpay),
			"key_id":   r.keyID,
			"order_id": order.ID,
			"amount":   strconv.FormatInt(order.Amount, 10),
			"currency": strings.ToUpper(order.Currency),
		},
	}, nil
}

// VerifyClientSignature checks HMAC-SHA256(key_secret, "<order_id>|<payment_id>")
// and then asks Razorpay what actually happened to the payment, so the amount
// on the returned event is the gateway's, not the client's.
func (r *RazorpayAdapter) VerifyClientSignature(ctx context.Context, payload ClientPayload) (*PaymentEvent, error) {
	ctx, span := razorpayTracer.Start(ctx, "razorpay.verify_client")
	defer span.End()

	if r.keySecret == "" || payload.OrderID == "" || payload.PaymentID == "" || payload.Signature == "" {
		return nil, ErrInvalidSignature
	}
	if !hmacHexEqual(r.keySecret, []byte(payload.OrderID+"|"+payload.PaymentID), payload.Signature) {
		return nil, ErrInvalidSignature
	}

	var payment razorpayPayment
	if err := r.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(payload.PaymentID), nil, &payment); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if payment.OrderID != payload.OrderID {
		return nil, fmt.Errorf("%w: payment belongs to another order", ErrInvalidSignature)
	}

	evt := &PaymentEvent{
		Gateway:       appointments.GatewayRazorpay,
		OrderRef:      payment.OrderID,
		AppointmentID: payment.Notes["appointment_id"],
		Amount:        payment.Amount,
		Currency:      strings.ToUpper(payment.Currency),
		OccurredAt:    time.Unix(payment.CreatedAt, 0).UTC(),
	}
	switch payment.Status {
	case "captured":
		evt.Kind = KindPaymentCaptured
		evt.EventID = razorpayEventID(payment.ID, "captured")
	case "failed":
		evt.Kind = KindPaymentFailed
		evt.EventID = razorpayEventID(payment.ID, "failed")
	default:
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotSettled, payment.Status)
	}
	return evt, nil
}

// VerifyWebhookSignature checks X-Razorpay-Signature: hex HMAC-SHA256 of the raw body.
func (r *RazorpayAdapter) VerifyWebhookSignature(rawBody []byte, header string) error {
	if r.webhookSecret == "" || header == "" {
		return ErrInvalidSignature
	}
	if !hmacHexEqual(r.webhookSecret, rawBody, header) {
		return ErrInvalidSignature
	}
	return nil
}

func (r *RazorpayAdapter) ParseWebhook(rawBody []byte, headers http.Header) ([]PaymentEvent, error) {
	if err := r.VerifyWebhookSignature(rawBody, headers.Get("X-Razorpay-Signature")); err != nil {
		return nil, err
	}

	var evt razorpayWebhookEvent
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return nil, fmt.Errorf("payments: decode razorpay event: %w", err)
	}
	payment := evt.Payload.Payment.Entity
	out := PaymentEvent{
		Gateway:       appointments.GatewayRazorpay,
		OrderRef:      payment.OrderID,
		AppointmentID: payment.Notes["appointment_id"],
		Amount:        payment.Amount,
		Currency:      strings.ToUpper(payment.Currency),
		OccurredAt:    time.Unix(evt.CreatedAt, 0).UTC(),
	}
	switch evt.Event {
	case "payment.captured":
		out.Kind = KindPaymentCaptured
		out.EventID = razorpayEventID(payment.ID, "captured")
	case "payment.failed":
		out.Kind = KindPaymentFailed
		out.EventID = razorpayEventID(payment.ID, "failed")
	case "refund.processed":
		refund := evt.Payload.Refund.Entity
		out.Kind = KindRefundIssued
		out.EventID = razorpayEventID(refund.ID, "refund")
		out.Amount = refund.Amount
		out.Currency = strings.ToUpper(refund.Currency)
	default:
		r.logger.Debug("razorpay webhook ignored", "event", evt.Event, "delivery_id", headers.Get("X-Razorpay-Event-Id"))
		return nil, nil
	}
	if payment.ID == "" || out.OrderRef == "" {
		return nil, fmt.Errorf("payments: razorpay %s event missing payment entity", evt.Event)
	}
	return []PaymentEvent{out}, nil
}

// Refund refunds the captured payment of the order.
func (r *RazorpayAdapter) Refund(ctx context.Context, req RefundRequest) error {
	ctx, span := razorpayTracer.Start(ctx, "razorpay.refund")
	defer span.End()
	span.SetAttributes(attribute.String("medicarex.order_ref", req.OrderRef))

	var payments struct {
		Items []razorpayPayment `json:"items"`
	}
	if err := r.call(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(req.OrderRef)+"/payments", nil, &payments); err != nil {
		span.RecordError(err)
		return err
	}
	var paymentID string
	for _, p := range payments.Items {
		if p.Status == "captured" {
			paymentID = p.ID
			break
		}
	}
	if paymentID == "" {
		return fmt.Errorf("payments: razorpay order %s has no captured payment", req.OrderRef)
	}

	body := map[string]any{
		"receipt": "refund-" + req.AppointmentID.String(),
		"notes": map[string]string{
			"appointment_id": req.AppointmentID.String(),
			"reason":         req.Reason,
		},
	}
	if req.Amount > 0 {
		body["amount"] = req.Amount
	}
	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := r.call(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/refund", body, &refund); err != nil {
		span.RecordError(err)
		return err
	}
	r.logger.Info("razorpay refund requested", "appointment_id", req.AppointmentID, "refund_id", refund.ID, "status", refund.Status)
	return nil
}

func (r *RazorpayAdapter) call(ctx context.Context, method, path string, payload any, out any) error {
	body := bytes.NewReader(nil)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("payments: razorpay marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payments: razorpay request: %w", err)
	}
	req.SetBasicAuth(r.keyID, r.keySecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, err := do(r.httpClient, "razorpay", req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("payments: razorpay decode: %w", err)
	}
	return nil
}

func hmacHexEqual(secret string, message []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayPayment struct {
	ID        string        `json:"id"`
	OrderID   string        `json:"order_id"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Status    string        `json:"status"`
	CreatedAt int64         `json:"created_at"`
	Notes     razorpayNotes `json:"notes"`
}

// razorpayNotes accepts both the object form and the empty-array form Razorpay
// sends when an entity has no notes.
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*n = nil
		return nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

type razorpayRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type razorpayWebhookEvent struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity razorpayRefund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}
