// Package reconcile folds normalized payment events into the appointment
// ledger. Every event is logged before it is acted on, applied at most once per
// event id, and anything that cannot be applied safely is queued for review.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/events"
	"github.com/wolfman30/medicarex-booking/internal/observability/metrics"
	"github.com/wolfman30/medicarex-booking/internal/payments"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

var tracer = otel.Tracer("medicarex.internal.reconcile")

const maxStaleRetries = 3

// Notifier is told about lifecycle changes after they are committed.
type Notifier interface {
	Notify(ctx context.Context, appt *appointments.Appointment, kind events.NotificationKind)
}

// Reconciler applies payment events to the ledger.
type Reconciler struct {
	ledger    *appointments.Ledger
	log       events.PaymentEventLog
	anomalies AnomalyStore
	notifier  Notifier
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithNotifier sets where lifecycle notifications go.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithMetrics records event outcomes.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func New(ledger *appointments.Ledger, log events.PaymentEventLog, anomalies AnomalyStore, logger *logging.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Reconciler{
		ledger:    ledger,
		log:       log,
		anomalies: anomalies,
		logger:    logger.With("component", "reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// outcome is what happened to one event.
type outcome struct {
	appt    *appointments.Appointment
	changed bool
	flagged bool
	notify  events.NotificationKind
}

// Apply logs evt and applies it. Events already applied or flagged are
// acknowledged without touching the ledger. ErrAmountMismatch and
// ErrUnknownOrder mean the event was accepted and queued for review.
func (r *Reconciler) Apply(ctx context.Context, evt payments.PaymentEvent) (*appointments.Appointment, error) {
	ctx, span := tracer.Start(ctx, "reconcile.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("medicarex.event_id", evt.EventID),
		attribute.String("medicarex.gateway", string(evt.Gateway)),
		attribute.String("medicarex.order_ref", evt.OrderRef),
		attribute.String("medicarex.kind", string(evt.Kind)),
	)

	if evt.EventID == "" || evt.OrderRef == "" {
		return nil, fmt.Errorf("%w: event id and order ref required", appointments.ErrInvalidRequest)
	}
	evt.Currency = strings.ToUpper(evt.Currency)
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = r.ledger.Now()
	}

	status, inserted, err := r.log.Append(ctx, events.PaymentRecord{
		EventID:    evt.EventID,
		Gateway:    string(evt.Gateway),
		OrderRef:   evt.OrderRef,
		Kind:       string(evt.Kind),
		Amount:     evt.Amount,
		Currency:   evt.Currency,
		OccurredAt: evt.OccurredAt,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if status.Settled() {
		r.observe(evt, "duplicate")
		r.logger.Info("payment event already processed", "event_id", evt.EventID, "status", string(status))
		appt, err := r.ledger.FindByOrder(ctx, evt.Gateway, evt.OrderRef)
		if err != nil {
			return nil, nil
		}
		return appt, nil
	}
	if !inserted {
		r.logger.Info("resuming pending payment event", "event_id", evt.EventID)
	}

	var res outcome
	for attempt := 0; ; attempt++ {
		res, err = r.applyOnce(ctx, evt)
		if !errors.Is(err, appointments.ErrStaleAppointmentState) || attempt >= maxStaleRetries {
			break
		}
		r.logger.Debug("stale appointment, re-reading", "event_id", evt.EventID, "attempt", attempt+1)
	}
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrAmountMismatch) || errors.Is(err, ErrUnknownOrder) {
			return res.appt, err
		}
		r.observe(evt, "error")
		return nil, err
	}

	if !res.flagged {
		if markErr := r.log.MarkApplied(ctx, evt.EventID); markErr != nil {
			r.logger.Error("failed to mark payment event applied", "event_id", evt.EventID, "error", markErr)
		}
		r.observe(evt, "applied")
	}
	if res.changed && res.notify != "" && r.notifier != nil {
		r.notifier.Notify(ctx, res.appt, res.notify)
	}
	return res.appt, nil
}

func (r *Reconciler) applyOnce(ctx context.Context, evt payments.PaymentEvent) (outcome, error) {
	appt, err := r.ledger.FindByOrder(ctx, evt.Gateway, evt.OrderRef)
	if errors.Is(err, appointments.ErrNotFound) {
		return outcome{}, r.flag(ctx, evt, nil, AnomalyUnknownOrder, 0, "no appointment carries this order reference", ErrUnknownOrder)
	}
	if err != nil {
		return outcome{}, err
	}

	switch evt.Kind {
	case payments.KindOrderCreated:
		return outcome{appt: appt}, nil
	case payments.KindPaymentCaptured:
		return r.capture(ctx, evt, appt)
	case payments.KindPaymentFailed:
		return r.fail(ctx, evt, appt)
	case payments.KindRefundIssued:
		return r.refund(ctx, evt, appt)
	}
	return outcome{}, fmt.Errorf("%w: unknown payment event kind %q", appointments.ErrInvalidRequest, evt.Kind)
}

func (r *Reconciler) capture(ctx context.Context, evt payments.PaymentEvent, appt *appointments.Appointment) (outcome, error) {
	switch appt.State {
	case appointments.StateConfirmed, appointments.StateCompleted:
		r.logger.Info("capture already applied", "event_id", evt.EventID, "appointment_id", appt.ID)
		return outcome{appt: appt}, nil
	}

	if evt.Amount != appt.AmountDue || evt.Currency != appt.Currency {
		detail := fmt.Sprintf("captured %d %s, due %d %s", evt.Amount, evt.Currency, appt.AmountDue, appt.Currency)
		err := r.flag(ctx, evt, appt, AnomalyAmountMismatch, appt.AmountDue, detail, ErrAmountMismatch)
		return outcome{appt: appt}, err
	}

	current := appt
	if current.State == appointments.StateReserved {
		// An earlier failed attempt on this order moved it back to Reserved.
		reopened, err := r.ledger.Transition(ctx, appointments.TransitionRequest{
			ID:              current.ID,
			ExpectedVersion: current.Version,
			Event:           appointments.EventCreateOrder,
			Gateway:         evt.Gateway,
			OrderRef:        evt.OrderRef,
		})
		if err != nil {
			return r.captureRejected(ctx, evt, current, reopened, err)
		}
		current = reopened
	}
	if current.State != appointments.StatePaymentPending {
		return r.captureRejected(ctx, evt, current, nil, appointments.ErrInvalidTransition)
	}

	confirmed, err := r.ledger.Transition(ctx, appointments.TransitionRequest{
		ID:              current.ID,
		ExpectedVersion: current.Version,
		Event:           appointments.EventCapture,
		Gateway:         evt.Gateway,
		OrderRef:        evt.OrderRef,
	})
	if err != nil {
		return r.captureRejected(ctx, evt, current, confirmed, err)
	}
	r.logger.Info("payment captured", "event_id", evt.EventID, "appointment_id", confirmed.ID, "amount", evt.Amount)
	return outcome{appt: confirmed, changed: true, notify: events.NotifyConfirmed}, nil
}

// captureRejected handles a capture the ledger cannot take: money arrived for
// an appointment that expired, was cancelled, or moved on. Stale reads are
// handed back for a retry.
func (r *Reconciler) captureRejected(ctx context.Context, evt payments.PaymentEvent, appt, after *appointments.Appointment, cause error) (outcome, error) {
	if errors.Is(cause, appointments.ErrStaleAppointmentState) {
		return outcome{}, cause
	}
	if !errors.Is(cause, appointments.ErrExpiredReservation) && !errors.Is(cause, appointments.ErrInvalidTransition) {
		return outcome{}, cause
	}
	if after != nil {
		appt = after
	}
	detail := fmt.Sprintf("capture received while appointment is %s: %v", appt.State, cause)
	if err := r.flag(ctx, evt, appt, AnomalyLateCapture, appt.AmountDue, detail, nil); err != nil {
		return outcome{}, err
	}
	res := outcome{appt: appt, flagged: true}
	if after != nil && after.State == appointments.StateExpired {
		res.changed = true
		res.notify = events.NotifyExpired
	}
	return res, nil
}

func (r *Reconciler) fail(ctx context.Context, evt payments.PaymentEvent, appt *appointments.Appointment) (outcome, error) {
	if appt.State != appointments.StatePaymentPending {
		r.logger.Info("payment failure ignored", "event_id", evt.EventID, "appointment_id", appt.ID, "state", string(appt.State))
		return outcome{appt: appt}, nil
	}
	updated, err := r.ledger.Transition(ctx, appointments.TransitionRequest{
		ID:              appt.ID,
		ExpectedVersion: appt.Version,
		Event:           appointments.EventPaymentFailed,
	})
	if err != nil {
		return outcome{}, err
	}
	kind := events.NotifyPaymentFailed
	if updated.State == appointments.StateExpired {
		kind = events.NotifyExpired
	}
	r.logger.Info("payment failed", "event_id", evt.EventID, "appointment_id", updated.ID, "state", string(updated.State))
	return outcome{appt: updated, changed: true, notify: kind}, nil
}

func (r *Reconciler) refund(ctx context.Context, evt payments.PaymentEvent, appt *appointments.Appointment) (outcome, error) {
	switch appt.State {
	case appointments.StateRefunded:
		return outcome{appt: appt}, nil
	case appointments.StateRefundPending:
	default:
		detail := fmt.Sprintf("refund issued while appointment is %s", appt.State)
		if err := r.flag(ctx, evt, appt, AnomalyUnexpectedRefund, appt.AmountDue, detail, nil); err != nil {
			return outcome{}, err
		}
		return outcome{appt: appt, flagged: true}, nil
	}

	if evt.Amount != appt.AmountDue {
		r.logger.Warn("partial refund", "event_id", evt.EventID, "appointment_id", appt.ID, "refunded", evt.Amount, "due", appt.AmountDue)
	}
	updated, err := r.ledger.Transition(ctx, appointments.TransitionRequest{
		ID:              appt.ID,
		ExpectedVersion: appt.Version,
		Event:           appointments.EventRefundIssued,
	})
	if err != nil {
		return outcome{}, err
	}
	r.logger.Info("refund settled", "event_id", evt.EventID, "appointment_id", updated.ID)
	return outcome{appt: updated, changed: true, notify: events.NotifyRefunded}, nil
}

// flag queues an anomaly and marks the event flagged. It returns result, or the
// storage error when the anomaly could not be recorded.
func (r *Reconciler) flag(ctx context.Context, evt payments.PaymentEvent, appt *appointments.Appointment, kind AnomalyKind, expected int64, detail string, result error) error {
	a := Anomaly{
		ID:             uuid.New(),
		Kind:           kind,
		EventID:        evt.EventID,
		Gateway:        string(evt.Gateway),
		OrderRef:       evt.OrderRef,
		ExpectedAmount: expected,
		ReceivedAmount: evt.Amount,
		Currency:       evt.Currency,
		Detail:         detail,
		CreatedAt:      r.ledger.Now(),
	}
	if appt != nil {
		id := appt.ID
		a.AppointmentID = &id
	}
	if err := r.anomalies.Record(ctx, a); err != nil {
		return err
	}
	if err := r.log.MarkFlagged(ctx, evt.EventID, string(kind)); err != nil {
		r.logger.Error("failed to mark payment event flagged", "event_id", evt.EventID, "error", err)
	}
	r.metrics.ObserveAnomaly(string(kind))
	r.observe(evt, "flagged")
	r.logger.Warn("payment anomaly queued",
		"kind", string(kind),
		"event_id", evt.EventID,
		"gateway", string(evt.Gateway),
		"order_ref", evt.OrderRef,
		"detail", detail,
	)
	if result != nil {
		return fmt.Errorf("%w: %s", result, detail)
	}
	return nil
}

func (r *Reconciler) observe(evt payments.PaymentEvent, result string) {
	r.metrics.ObservePaymentEvent(string(evt.Gateway), string(evt.Kind), result)
}

// Anomalies exposes the review queue.
func (r *Reconciler) Anomalies() AnomalyStore {
	return r.anomalies
}
