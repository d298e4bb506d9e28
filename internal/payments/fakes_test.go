package payments

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/wolfman30/medicarex-booking/internal/appointments"
)

type fakeGateway struct {
	mu         sync.Mutex
	name       appointments.Gateway
	orderErrs  []error
	orderCalls int
	refunds    []RefundRequest
	refundErr  error
	verifyEvt  *PaymentEvent
	verifyErr  error
}

func (f *fakeGateway) Name() appointments.Gateway {
	if f.name == "" {
		return appointments.GatewayRazorpay
	}
	return f.name
}

func (f *fakeGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	if len(f.orderErrs) > 0 {
		err := f.orderErrs[0]
		f.orderErrs = f.orderErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	ref := fmt.Sprintf("order_%d", f.orderCalls)
	return &Order{Ref: ref, Amount: req.Amount, Currency: req.Currency, ClientConfig: map[string]string{"order_id": ref}}, nil
}

func (f *fakeGateway) VerifyClientSignature(ctx context.Context, payload ClientPayload) (*PaymentEvent, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	evt := *f.verifyEvt
	return &evt, nil
}

func (f *fakeGateway) VerifyWebhookSignature(rawBody []byte, header string) error {
	return nil
}

func (f *fakeGateway) ParseWebhook(rawBody []byte, headers http.Header) ([]PaymentEvent, error) {
	return nil, nil
}

func (f *fakeGateway) Refund(ctx context.Context, req RefundRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, req)
	return f.refundErr
}

type recordingApplier struct {
	mu     sync.Mutex
	events []PaymentEvent
	result *appointments.Appointment
}

func (a *recordingApplier) Apply(ctx context.Context, evt PaymentEvent) (*appointments.Appointment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, evt)
	return a.result, nil
}
