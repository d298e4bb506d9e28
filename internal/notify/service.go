package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"

	"github.com/wolfman30/medicarex-booking/internal/directory"
	"github.com/wolfman30/medicarex-booking/internal/events"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// Service turns appointment notifications from the outbox into emails and
// receipts.
type Service struct {
	email     EmailSender
	directory directory.Directory
	receipts  ReceiptStore
	logger    *logging.Logger
}

// NewService creates a notification service. receipts may be nil.
func NewService(email EmailSender, dir directory.Directory, receipts ReceiptStore, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:     email,
		directory: dir,
		receipts:  receipts,
		logger:    logger.With("component", "notify"),
	}
}

// Handle implements events.DeliveryHandler. A returned error leaves the entry
// in the outbox for another attempt.
func (s *Service) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var evt events.AppointmentNotificationV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		return fmt.Errorf("notify: decode notification: %w", err)
	}
	return s.Notify(ctx, evt)
}

// Notify emails the patient about evt and, for confirmations and cancellations,
// the doctor too. Money-moving kinds also get a receipt.
func (s *Service) Notify(ctx context.Context, evt events.AppointmentNotificationV1) error {
	if hasReceipt(evt.Kind) && s.receipts != nil {
		if _, err := s.receipts.Put(ctx, receiptFor(evt)); err != nil {
			return err
		}
	}
	if s.email == nil {
		s.logger.Debug("email not configured, skipping", "appointment_id", evt.AppointmentID, "kind", evt.Kind)
		return nil
	}

	patient, err := s.directory.PatientContact(ctx, evt.PatientID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			s.logger.Warn("patient has no contact, dropping notification", "patient_id", evt.PatientID, "kind", evt.Kind)
			return nil
		}
		return fmt.Errorf("notify: patient contact: %w", err)
	}

	doctorName := evt.DoctorID
	var doctorEmail string
	if doc, err := s.directory.Doctor(ctx, evt.DoctorID); err == nil {
		doctorName = doc.Name
		doctorEmail = doc.Email
	} else if !errors.Is(err, directory.ErrNotFound) {
		return fmt.Errorf("notify: doctor: %w", err)
	}

	var errs []error
	if patient.Email != "" {
		msg := patientMessage(evt, patient.Name, doctorName)
		msg.To, msg.ToName = patient.Email, patient.Name
		errs = append(errs, s.send(ctx, evt, msg))
	}
	if doctorEmail != "" && (evt.Kind == events.NotifyConfirmed || evt.Kind == events.NotifyCancelled) {
		msg := doctorMessage(evt, patient.Name)
		msg.To, msg.ToName = doctorEmail, doctorName
		errs = append(errs, s.send(ctx, evt, msg))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	s.logger.Info("notification sent", "appointment_id", evt.AppointmentID, "kind", evt.Kind)
	return nil
}

// send tags msg with the appointment and swallows permanent rejections so the
// outbox does not retry them.
func (s *Service) send(ctx context.Context, evt events.AppointmentNotificationV1, msg EmailMessage) error {
	msg.Category = "appointment_" + string(evt.Kind)
	msg.Tags = map[string]string{
		"appointment_id": evt.AppointmentID.String(),
		"kind":           string(evt.Kind),
	}
	err := s.email.Send(ctx, msg)
	if errors.Is(err, ErrRejected) {
		s.logger.Warn("notification rejected, not retrying", "appointment_id", evt.AppointmentID, "kind", evt.Kind, "error", err)
		return nil
	}
	return err
}

func hasReceipt(kind events.NotificationKind) bool {
	return kind == events.NotifyConfirmed || kind == events.NotifyRefunded
}

func receiptFor(evt events.AppointmentNotificationV1) Receipt {
	return Receipt{
		AppointmentID: evt.AppointmentID,
		Kind:          evt.Kind,
		PatientID:     evt.PatientID,
		DoctorID:      evt.DoctorID,
		HospitalID:    evt.HospitalID,
		Amount:        evt.Amount,
		Currency:      evt.Currency,
		Gateway:       string(evt.Gateway),
		OrderRef:      evt.OrderRef,
		SlotDate:      evt.Slot.Date,
		SlotStart:     evt.Slot.Start,
		IssuedAt:      evt.OccurredAt,
	}
}

// formatAmount renders minor units as "12.50 USD".
func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}

func formatSlot(evt events.AppointmentNotificationV1) string {
	return fmt.Sprintf("%s, %s-%s", evt.Slot.Date, evt.Slot.Start, evt.Slot.End)
}

func patientMessage(evt events.AppointmentNotificationV1, patientName, doctorName string) EmailMessage {
	if patientName == "" {
		patientName = "there"
	}
	when := formatSlot(evt)
	amount := formatAmount(evt.Amount, evt.Currency)

	var subject, line string
	switch evt.Kind {
	case events.NotifyReserved:
		subject = "Your appointment is on hold"
		line = fmt.Sprintf("We are holding %s with Dr. %s for you. Pay %s to confirm it.", when, doctorName, amount)
	case events.NotifyConfirmed:
		subject = "Appointment confirmed"
		line = fmt.Sprintf("Your appointment with Dr. %s on %s is confirmed. We received %s.", doctorName, when, amount)
	case events.NotifyPaymentFailed:
		subject = "Payment did not go through"
		line = fmt.Sprintf("Your payment of %s for %s did not go through. Your hold is still active, you can try again.", amount, when)
	case events.NotifyExpired:
		subject = "Your appointment hold expired"
		line = fmt.Sprintf("We did not receive payment in time, so the hold on %s with Dr. %s was released.", when, doctorName)
	case events.NotifyCancelled:
		subject = "Appointment cancelled"
		line = fmt.Sprintf("Your appointment with Dr. %s on %s was cancelled.", doctorName, when)
	case events.NotifyRefunded:
		subject = "Refund issued"
		line = fmt.Sprintf("We refunded %s for your cancelled appointment on %s.", amount, when)
	case events.NotifyCompleted:
		subject = "Thanks for visiting"
		line = fmt.Sprintf("Your appointment with Dr. %s on %s is complete.", doctorName, when)
	default:
		subject = "Appointment update"
		line = fmt.Sprintf("Your appointment on %s is now %s.", when, evt.State)
	}

	body := fmt.Sprintf("Hi %s,\n\n%s\n\nAppointment: %s\n", patientName, line, evt.AppointmentID)
	htmlBody := fmt.Sprintf("<p>Hi %s,</p><p>%s</p><p>Appointment: %s</p>",
		html.EscapeString(patientName), html.EscapeString(line), evt.AppointmentID)
	return EmailMessage{Subject: subject, Text: body, HTML: htmlBody}
}

func doctorMessage(evt events.AppointmentNotificationV1, patientName string) EmailMessage {
	if patientName == "" {
		patientName = evt.PatientID
	}
	verb := "booked"
	if evt.Kind == events.NotifyCancelled {
		verb = "cancelled"
	}
	subject := fmt.Sprintf("Appointment %s: %s", verb, formatSlot(evt))
	body := fmt.Sprintf("%s %s an appointment on %s.\n\nAppointment: %s\n", patientName, verb, formatSlot(evt), evt.AppointmentID)
	return EmailMessage{Subject: subject, Text: body}
}
