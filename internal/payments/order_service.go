package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medicarex-booking/internal/access"
	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

var orderTracer = otel.Tracer("medicarex.internal.payments")

// Applier folds a verified payment event into the appointment ledger.
type Applier interface {
	Apply(ctx context.Context, evt PaymentEvent) (*appointments.Appointment, error)
}

// OrderResult is what the client needs after an order was opened.
type OrderResult struct {
	Appointment *appointments.Appointment `json:"appointment"`
	Order       *Order                    `json:"order"`
}

// OrderService opens gateway orders for reserved appointments and forwards
// client-side payment confirmations to the reconciler.
type OrderService struct {
	ledger   *appointments.Ledger
	gateways *Registry
	applier  Applier
	policy   *access.Policy
	logger   *logging.Logger
}

func NewOrderService(ledger *appointments.Ledger, gateways *Registry, applier Applier, logger *logging.Logger) *OrderService {
	if logger == nil {
		logger = logging.Default()
	}
	return &OrderService{
		ledger:   ledger,
		gateways: gateways,
		applier:  applier,
		policy:   access.NewPolicy(),
		logger:   logger.With("component", "order_service"),
	}
}

// CreateOrder opens an order on gateway (the default gateway when empty) and
// moves the appointment to PaymentPending. A gateway failure leaves the ledger
// untouched.
func (s *OrderService) CreateOrder(ctx context.Context, caller access.Caller, appointmentID uuid.UUID, gateway appointments.Gateway) (*OrderResult, error) {
	ctx, span := orderTracer.Start(ctx, "payments.order.create")
	defer span.End()
	span.SetAttributes(attribute.String("medicarex.appointment_id", appointmentID.String()))

	appt, err := s.ledger.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanPay(caller, appt); err != nil {
		return nil, err
	}
	switch appt.State {
	case appointments.StateReserved:
	case appointments.StateExpired:
		return nil, appointments.ErrExpiredReservation
	default:
		return nil, fmt.Errorf("%w: cannot open an order while %s", appointments.ErrInvalidTransition, appt.State)
	}

	gw, err := s.gateways.Get(gateway)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("medicarex.gateway", string(gw.Name())))

	order, err := gw.CreateOrder(ctx, OrderRequest{
		AppointmentID: appt.ID,
		Version:       appt.Version,
		Amount:        appt.AmountDue,
		Currency:      appt.Currency,
		PatientID:     appt.PatientID,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	updated, err := s.ledger.Transition(ctx, appointments.TransitionRequest{
		ID:              appt.ID,
		ExpectedVersion: appt.Version,
		Event:           appointments.EventCreateOrder,
		Gateway:         gw.Name(),
		OrderRef:        order.Ref,
	})
	if err != nil {
		s.logger.Warn("gateway order opened but ledger rejected it",
			"appointment_id", appt.ID,
			"gateway", string(gw.Name()),
			"order_ref", order.Ref,
			"error", err,
		)
		return nil, err
	}

	if s.applier != nil {
		evt := PaymentEvent{
			EventID:       fmt.Sprintf("%s:%s:order_created", gw.Name(), order.Ref),
			Gateway:       gw.Name(),
			OrderRef:      order.Ref,
			AppointmentID: appt.ID.String(),
			Kind:          KindOrderCreated,
			Amount:        order.Amount,
			Currency:      order.Currency,
			OccurredAt:    updated.UpdatedAt,
		}
		if _, err := s.applier.Apply(ctx, evt); err != nil {
			s.logger.Warn("order_created event not recorded", "appointment_id", appt.ID, "order_ref", order.Ref, "error", err)
		}
	}

	s.logger.Info("payment order created",
		"appointment_id", appt.ID,
		"gateway", string(gw.Name()),
		"order_ref", order.Ref,
		"amount", order.Amount,
		"currency", order.Currency,
	)
	return &OrderResult{Appointment: updated, Order: order}, nil
}

// VerifyClient checks a client-side payment confirmation for appointmentID and
// applies the event it proves.
func (s *OrderService) VerifyClient(ctx context.Context, caller access.Caller, appointmentID uuid.UUID, payload ClientPayload) (*appointments.Appointment, error) {
	ctx, span := orderTracer.Start(ctx, "payments.order.verify_client")
	defer span.End()
	span.SetAttributes(attribute.String("medicarex.appointment_id", appointmentID.String()))

	appt, err := s.ledger.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanPay(caller, appt); err != nil {
		return nil, err
	}
	if appt.OrderRef == "" || appt.OrderRef != payload.OrderID {
		return nil, fmt.Errorf("%w: order does not belong to appointment", ErrInvalidSignature)
	}

	gw, err := s.gateways.Get(appt.Gateway)
	if err != nil {
		return nil, err
	}
	evt, err := gw.VerifyClientSignature(ctx, payload)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("client payment confirmation rejected", "appointment_id", appt.ID, "gateway", string(gw.Name()), "error", err)
		return nil, err
	}
	evt.AppointmentID = appt.ID.String()
	if s.applier == nil {
		return appt, nil
	}
	return s.applier.Apply(ctx, *evt)
}
