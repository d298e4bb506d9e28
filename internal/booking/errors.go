package booking

import "errors"

var (
	// ErrUnknownDoctor is returned when the directory has no such doctor.
	ErrUnknownDoctor = errors.New("booking: unknown doctor")
	// ErrDoctorUnavailable is returned when the doctor takes no bookings on the requested date.
	ErrDoctorUnavailable = errors.New("booking: doctor unavailable")
	// ErrSlotInPast is returned when the requested slot has already started.
	ErrSlotInPast = errors.New("booking: slot is in the past")
	// ErrNotStarted is returned when completing an appointment before its slot begins.
	ErrNotStarted = errors.New("booking: appointment has not started")
)
