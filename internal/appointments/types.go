// Package appointments owns appointment records, their lifecycle state machine,
// and the per-doctor slot calendar those appointments hold.
package appointments

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is a lifecycle state of an appointment.
type State string

const (
	StateRequested      State = "requested"
	StateReserved       State = "reserved"
	StatePaymentPending State = "payment_pending"
	StateConfirmed      State = "confirmed"
	StateCompleted      State = "completed"
	StateCancelled      State = "cancelled"
	StateExpired        State = "expired"
	StateRefundPending  State = "refund_pending"
	StateRefunded       State = "refunded"
)

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateExpired, StateRefunded:
		return true
	}
	return false
}

// HoldsSlot reports whether an appointment in s keeps its slot held or booked.
// RefundPending is not terminal but has already released the slot.
func (s State) HoldsSlot() bool {
	switch s {
	case StateRequested, StateReserved, StatePaymentPending, StateConfirmed:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateRequested, StateReserved, StatePaymentPending, StateConfirmed, StateCompleted,
		StateCancelled, StateExpired, StateRefundPending, StateRefunded:
		return true
	}
	return false
}

// SlotStatus tags a slot as free, temporarily held, or booked.
type SlotStatus string

const (
	SlotFree   SlotStatus = "free"
	SlotHeld   SlotStatus = "held"
	SlotBooked SlotStatus = "booked"
)

// Gateway names the payment provider variant collecting an appointment's fee.
type Gateway string

const (
	GatewayStripe   Gateway = "stripe"
	GatewayRazorpay Gateway = "razorpay"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// SlotRef identifies a slot within a doctor's calendar.
type SlotRef struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Normalize returns r with its date and times re-rendered as YYYY-MM-DD and
// zero-padded HH:MM. Every slot key is built from the normalized form, so
// "9:00" and "09:00" name the same slot.
func (r SlotRef) Normalize() (SlotRef, error) {
	date, err := NormalizeDate(r.Date)
	if err != nil {
		return SlotRef{}, err
	}
	start, err := time.Parse(timeLayout, strings.TrimSpace(r.Start))
	if err != nil {
		return SlotRef{}, fmt.Errorf("%w: slot start %q must be HH:MM", ErrInvalidRequest, r.Start)
	}
	end, err := time.Parse(timeLayout, strings.TrimSpace(r.End))
	if err != nil {
		return SlotRef{}, fmt.Errorf("%w: slot end %q must be HH:MM", ErrInvalidRequest, r.End)
	}
	if !end.After(start) {
		return SlotRef{}, fmt.Errorf("%w: slot end must be after start", ErrInvalidRequest)
	}
	return SlotRef{
		Date:  date,
		Start: start.Format(timeLayout),
		End:   end.Format(timeLayout),
	}, nil
}

// Validate checks the date/time formats and that the range is not empty.
func (r SlotRef) Validate() error {
	_, err := r.Normalize()
	return err
}

// NormalizeDate renders a calendar date as YYYY-MM-DD.
func NormalizeDate(date string) (string, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(date))
	if err != nil {
		return "", fmt.Errorf("%w: slot date %q must be YYYY-MM-DD", ErrInvalidRequest, date)
	}
	return d.Format(dateLayout), nil
}

// StartTime resolves the slot start in loc.
func (r SlotRef) StartTime(loc *time.Location) (time.Time, error) {
	return parseSlotTime(r.Date, r.Start, loc)
}

// EndTime resolves the slot end in loc.
func (r SlotRef) EndTime(loc *time.Location) (time.Time, error) {
	return parseSlotTime(r.Date, r.End, loc)
}

func (r SlotRef) String() string {
	return fmt.Sprintf("%s %s-%s", r.Date, r.Start, r.End)
}

func parseSlotTime(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+clock, loc)
}

// Slot is a bookable (doctor, date, time range) entry. AppointmentID is a lookup
// reference to the holder, not ownership.
type Slot struct {
	DoctorID      string     `json:"doctor_id"`
	Ref           SlotRef    `json:"slot"`
	Status        SlotStatus `json:"status"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Appointment is the authoritative record of one booking.
type Appointment struct {
	ID           uuid.UUID `json:"id"`
	PatientID    string    `json:"patient_id"`
	DoctorID     string    `json:"doctor_id"`
	HospitalID   string    `json:"hospital_id"`
	Slot         SlotRef   `json:"slot"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	AmountDue    int64     `json:"amount_due"`
	Currency     string    `json:"currency"`
	State        State     `json:"state"`
	Gateway      Gateway   `json:"gateway,omitempty"`
	OrderRef     string    `json:"order_ref,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HoldLapsed reports whether the reservation TTL has elapsed while the
// appointment is still waiting on payment.
func (a *Appointment) HoldLapsed(now time.Time) bool {
	if a == nil {
		return false
	}
	if a.State != StateReserved && a.State != StatePaymentPending {
		return false
	}
	return !now.Before(a.ExpiresAt)
}

// ListFilter narrows appointment listings. Empty fields match everything.
type ListFilter struct {
	PatientID string
	DoctorID  string
	States    []State
	Limit     int
}
