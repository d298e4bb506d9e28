package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medicarex-booking/internal/appointments"
)

// Outbox entry types.
const (
	TypeAppointmentNotification = "appointment.notification.v1"
	TypeRefundRequested         = "refund.requested.v1"
)

// NotificationKind names the lifecycle moment a notification reports.
type NotificationKind string

const (
	NotifyReserved      NotificationKind = "reserved"
	NotifyConfirmed     NotificationKind = "confirmed"
	NotifyPaymentFailed NotificationKind = "payment_failed"
	NotifyCancelled     NotificationKind = "cancelled"
	NotifyExpired       NotificationKind = "expired"
	NotifyRefunded      NotificationKind = "refunded"
	NotifyCompleted     NotificationKind = "completed"
)

// AppointmentNotificationV1 asks the notification service to tell the patient
// (and doctor) about a lifecycle change.
type AppointmentNotificationV1 struct {
	EventID       string               `json:"event_id"`
	AppointmentID uuid.UUID            `json:"appointment_id"`
	PatientID     string               `json:"patient_id"`
	DoctorID      string               `json:"doctor_id"`
	HospitalID    string               `json:"hospital_id"`
	Kind          NotificationKind     `json:"kind"`
	State         appointments.State   `json:"state"`
	Slot          appointments.SlotRef `json:"slot"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	Gateway       appointments.Gateway `json:"gateway,omitempty"`
	OrderRef      string               `json:"order_ref,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// RefundRequestedV1 asks the payment side to refund a cancelled, paid appointment.
type RefundRequestedV1 struct {
	EventID       string               `json:"event_id"`
	AppointmentID uuid.UUID            `json:"appointment_id"`
	Gateway       appointments.Gateway `json:"gateway"`
	OrderRef      string               `json:"order_ref"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	Reason        string               `json:"reason,omitempty"`
	RequestedAt   time.Time            `json:"requested_at"`
}

// NotificationFor builds the notification payload for appt.
func NotificationFor(appt *appointments.Appointment, kind NotificationKind, at time.Time) AppointmentNotificationV1 {
	return AppointmentNotificationV1{
		EventID:       uuid.NewString(),
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		HospitalID:    appt.HospitalID,
		Kind:          kind,
		State:         appt.State,
		Slot:          appt.Slot,
		Amount:        appt.AmountDue,
		Currency:      appt.Currency,
		Gateway:       appt.Gateway,
		OrderRef:      appt.OrderRef,
		OccurredAt:    at,
	}
}
