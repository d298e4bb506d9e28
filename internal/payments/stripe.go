package payments

import (
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

var stripeTracer = otel.Tracer("medicarex.internal.payments.stripe")

const stripeSignatureTolerance = 5 * time.Minute

// StripeAdapter collects appointment fees through Stripe PaymentIntents. The
// PaymentIntent id is the order reference; confirmation arrives by webhook only.
type StripeAdapter struct {
	secretKey     string
	webhookSecret string
	publishable   string
	baseURL       string
	apiVersion    string
	httpClient    *http.Client
	logger        *logging.Logger
	now           func() time.Time
}

// NewStripeAdapter creates a Stripe adapter.
func NewStripeAdapter(secretKey, webhookSecret string, logger *logging.Logger) *StripeAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeAdapter{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       "https://api.stripe.com",
		apiVersion:    "2024-12-18.acacia",
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
		now:           time.Now,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *StripeAdapter) WithBaseURL(baseURL string) *StripeAdapter {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// WithPublishableKey exposes the publishable key to clients in order responses.
func (s *StripeAdapter) WithPublishableKey(key string) *StripeAdapter {
	s.publishable = key
	return s
}

func (s *StripeAdapter) Name() appointments.Gateway { return appointments.GatewayStripe }

func (s *StripeAdapter) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_payment_intent")
	defer span.End()
	span.SetAttributes(
		attribute.String("medicarex.appointment_id", req.AppointmentID.String()),
		attribute.Int64("medicarex.amount", req.Amount),
	)

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[appointment_id]", req.AppointmentID.String())
	if req.PatientID != "" {
		form.Set("metadata[patient_id]", req.PatientID)
	}

	var intent stripePaymentIntent
	key := fmt.Sprintf("appt-%s-v%d", req.AppointmentID, req.Version)
	if err := s.post(ctx, "/v1/payment_intents", form, key, &intent); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("payments: stripe response missing payment intent id")
	}

	cfg := map[string]string{
		"gateway":       string(appointments.GatewayStripe),
		"client_secret": intent.ClientSecret,
	}
	if s.publishable != "" {
		cfg["publishable_key"] = s.publishable
	}
	return &Order{
		Ref:          intent.ID,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(intent.Currency),
		ClientConfig: cfg,
	}, nil
}

func (s *StripeAdapter) VerifyClientSignature(ctx context.Context, payload ClientPayload) (*PaymentEvent, error) {
	return nil, ErrClientConfirmationUnsupported
}

// VerifyWebhookSignature checks a Stripe-Signature header of the form
// t=<unix>,v1=<hex>[,v1=...]: HMAC-SHA256(secret, "<t>.<body>") within tolerance.
func (s *StripeAdapter) VerifyWebhookSignature(rawBody []byte, header string) error {
	if s.webhookSecret == "" || header == "" {
		return ErrInvalidSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (s *StripeAdapter) ParseWebhook(rawBody []byte, headers http.Header) ([]PaymentEvent, error) {
	if err := s.VerifyWebhookSignature(rawBody, headers.Get("Stripe-Signature")); err != nil {
		return nil, err
	}

	var evt stripeWebhookEvent
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return nil, fmt.Errorf("payments: decode stripe event: %w", err)
	}
	if evt.ID == "" {
		return nil, fmt.Errorf("payments: stripe event missing id")
	}

	base := PaymentEvent{
		EventID:    evt.ID,
		Gateway:    appointments.GatewayStripe,
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
	}
	switch evt.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripePaymentIntent
		if err := json.Unmarshal(evt.Data.Object, &intent); err != nil {
			return nil, fmt.Errorf("payments: decode stripe payment intent: %w", err)
		}
		base.OrderRef = intent.ID
		base.AppointmentID = intent.Metadata["appointment_id"]
		base.Currency = strings.ToUpper(intent.Currency)
		if evt.Type == "payment_intent.succeeded" {
			base.Kind = KindPaymentCaptured
			base.Amount = intent.AmountReceived
		} else {
			base.Kind = KindPaymentFailed
			base.Amount = intent.Amount
		}
	case "charge.refunded":
		var charge stripeCharge
		if err := json.Unmarshal(evt.Data.Object, &charge); err != nil {
			return nil, fmt.Errorf("payments: decode stripe charge: %w", err)
		}
		base.Kind = KindRefundIssued
		base.OrderRef = charge.PaymentIntent
		base.AppointmentID = charge.Metadata["appointment_id"]
		base.Amount = charge.AmountRefunded
		base.Currency = strings.ToUpper(charge.Currency)
	default:
		s.logger.Debug("stripe webhook ignored", "event_id", evt.ID, "type", evt.Type)
		return nil, nil
	}
	if base.OrderRef == "" {
		return nil, fmt.Errorf("payments: stripe %s event missing payment intent", evt.Type)
	}
	return []PaymentEvent{base}, nil
}

func (s *StripeAdapter) Refund(ctx context.Context, req RefundRequest) error {
	ctx, span := stripeTracer.Start(ctx, "stripe.refund")
	defer span.End()
	span.SetAttributes(attribute.String("medicarex.order_ref", req.OrderRef))

	form := url.Values{}
	form.Set("payment_intent", req.OrderRef)
	if req.Amount > 0 {
		form.Set("amount", strconv.FormatInt(req.Amount, 10))
	}
	form.Set("reason", "requested_by_customer")
	form.Set("metadata[appointment_id]", req.AppointmentID.String())

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := s.post(ctx, "/v1/refunds", form, "refund-"+req.AppointmentID.String(), &refund); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("stripe refund requested", "appointment_id", req.AppointmentID, "refund_id", refund.ID, "status", refund.Status)
	return nil
}

func (s *StripeAdapter) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", s.apiVersion)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	body, err := do(s.httpClient, "stripe", req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("payments: stripe decode: %w", err)
	}
	return nil
}

type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripePaymentIntent struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	ClientSecret   string            `json:"client_secret"`
	Status         string            `json:"status"`
	Metadata       map[string]string `json:"metadata"`
}

type stripeCharge struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}
