// Package directory is the client side of the hospital/doctor directory: it
// answers whether a doctor exists and takes bookings, what a visit costs, and
// how to reach a patient.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the directory has no such doctor or patient.
var ErrNotFound = errors.New("directory: not found")

// Doctor is the booking-relevant slice of a doctor profile.
type Doctor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	HospitalID string `json:"hospital_id"`
	Speciality string `json:"speciality,omitempty"`
	// Fee is in minor currency units.
	Fee       int64  `json:"fee"`
	Currency  string `json:"currency"`
	Available bool   `json:"available"`
}

// Contact is how notifications reach a person.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Directory is the read-only view of doctors and patients the booking engine consumes.
type Directory interface {
	DoctorExists(ctx context.Context, doctorID string) (bool, error)
	IsDoctorAvailable(ctx context.Context, doctorID, date string) (bool, error)
	Doctor(ctx context.Context, doctorID string) (*Doctor, error)
	PatientContact(ctx context.Context, patientID string) (*Contact, error)
}

func doctorExists(ctx context.Context, d Directory, doctorID string) (bool, error) {
	if _, err := d.Doctor(ctx, doctorID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
