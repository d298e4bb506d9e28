// Package payments adapts external payment gateways to one normalized event
// shape and drives order creation against the appointment ledger.
package payments

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medicarex-booking/internal/appointments"
)

// EventKind is the normalized kind of a gateway signal.
type EventKind string

const (
	KindOrderCreated    EventKind = "order_created"
	KindPaymentCaptured EventKind = "payment_captured"
	KindPaymentFailed   EventKind = "payment_failed"
	KindRefundIssued    EventKind = "refund_issued"
)

// PaymentEvent is one normalized, immutable signal from a gateway. EventID is
// the deduplication key.
type PaymentEvent struct {
	EventID       string               `json:"event_id"`
	Gateway       appointments.Gateway `json:"gateway"`
	OrderRef      string               `json:"order_ref"`
	AppointmentID string               `json:"appointment_id,omitempty"`
	Kind          EventKind            `json:"kind"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// OrderRequest asks a gateway to open an order for an appointment.
type OrderRequest struct {
	AppointmentID uuid.UUID
	Version       int64
	Amount        int64
	Currency      string
	PatientID     string
}

// Order is the gateway-side order plus what the client needs to pay it.
type Order struct {
	Ref          string            `json:"gateway_order_ref"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ClientConfig map[string]string `json:"client_config"`
}

// ClientPayload is what a client hands back after paying on a gateway that
// confirms client-side.
type ClientPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// RefundRequest asks the gateway to return a captured payment.
type RefundRequest struct {
	AppointmentID uuid.UUID
	OrderRef      string
	Amount        int64
	Currency      string
	Reason        string
}

// Gateway is the capability set every payment provider adapter implements.
type Gateway interface {
	Name() appointments.Gateway
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	// VerifyClientSignature checks a client confirmation and returns the event it proves.
	VerifyClientSignature(ctx context.Context, payload ClientPayload) (*PaymentEvent, error)
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) error
	// ParseWebhook verifies and normalizes a webhook delivery. Deliveries for
	// event types the engine does not track yield no events.
	ParseWebhook(rawBody []byte, headers http.Header) ([]PaymentEvent, error)
	Refund(ctx context.Context, req RefundRequest) error
}

// Registry resolves adapters by gateway name.
type Registry struct {
	gateways map[appointments.Gateway]Gateway
	fallback appointments.Gateway
}

// NewRegistry indexes gateways by name. The first one is the default.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[appointments.Gateway]Gateway)}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		if r.fallback == "" {
			r.fallback = gw.Name()
		}
		r.gateways[gw.Name()] = gw
	}
	return r
}

// Get returns the adapter for name, or the default adapter when name is empty.
func (r *Registry) Get(name appointments.Gateway) (Gateway, error) {
	if name == "" {
		name = r.fallback
	}
	gw, ok := r.gateways[name]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return gw, nil
}

// Names lists the configured gateways.
func (r *Registry) Names() []appointments.Gateway {
	out := make([]appointments.Gateway, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	return out
}
