package appointments

import "errors"

var (
	// ErrSlotUnavailable is returned when the slot is already held or booked.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrStaleAppointmentState is returned when the supplied version no longer matches.
	ErrStaleAppointmentState = errors.New("stale appointment state")

	// ErrExpiredReservation is returned when a hold lapsed before the requested transition.
	ErrExpiredReservation = errors.New("reservation expired")

	// ErrInvalidTransition is returned when the state machine has no such edge.
	ErrInvalidTransition = errors.New("invalid appointment transition")

	// ErrNotFound is returned when an appointment or slot does not exist.
	ErrNotFound = errors.New("appointment not found")

	// ErrInvalidRequest is returned for malformed input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSlotIntegrity is returned when a transition would leave a slot out of step
	// with its holding appointment. The surrounding transaction is rolled back.
	ErrSlotIntegrity = errors.New("slot not held by appointment")
)
