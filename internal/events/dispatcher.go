package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

var refundNamespace = uuid.MustParse("6f1d3c2e-6a43-4bde-9d4c-2b8f0f6f4a11")

// Dispatcher turns lifecycle side effects into outbox entries. Notification
// failures are logged and swallowed; the ledger transition has already happened.
type Dispatcher struct {
	outbox Outbox
	logger *logging.Logger
	now    func() time.Time
}

func NewDispatcher(outbox Outbox, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{outbox: outbox, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Notify queues a notification about appt. It never fails the caller.
func (d *Dispatcher) Notify(ctx context.Context, appt *appointments.Appointment, kind NotificationKind) {
	if d == nil || d.outbox == nil || appt == nil {
		return
	}
	payload := NotificationFor(appt, kind, d.now())
	if _, err := d.outbox.Insert(ctx, appt.ID.String(), TypeAppointmentNotification, payload); err != nil {
		d.logger.Error("notification enqueue failed", "appointment_id", appt.ID, "kind", string(kind), "error", err)
	}
}

// RefundEntryID is the outbox id of the refund request for an appointment.
// One appointment is refunded at most once.
func RefundEntryID(appointmentID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(refundNamespace, []byte("refund:"+appointmentID.String()))
}

// RequestRefund queues the refund for a cancelled, paid appointment. Repeated
// requests for the same appointment are no-ops.
func (d *Dispatcher) RequestRefund(ctx context.Context, appt *appointments.Appointment, reason string) (bool, error) {
	id := RefundEntryID(appt.ID)
	payload := RefundRequestedV1{
		EventID:       id.String(),
		AppointmentID: appt.ID,
		Gateway:       appt.Gateway,
		OrderRef:      appt.OrderRef,
		Amount:        appt.AmountDue,
		Currency:      appt.Currency,
		Reason:        reason,
		RequestedAt:   d.now(),
	}
	inserted, err := d.outbox.InsertOnce(ctx, id, appt.ID.String(), TypeRefundRequested, payload)
	if err != nil {
		return false, err
	}
	if inserted {
		d.logger.Info("refund requested", "appointment_id", appt.ID, "gateway", string(appt.Gateway), "order_ref", appt.OrderRef)
	}
	return inserted, nil
}
