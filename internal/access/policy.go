package access

import (
	"fmt"

	"github.com/wolfman30/medicarex-booking/internal/appointments"
)

// Policy enforces read and write scope per role. Patients reach only their own
// appointments, doctors only appointments they attend, admins everything.
// Payment-driven transitions are not caller actions and never pass through here.
type Policy struct{}

// NewPolicy returns the role policy.
func NewPolicy() *Policy {
	return &Policy{}
}

func (p *Policy) authenticated(c Caller) error {
	if !c.Valid() {
		return ErrUnauthorized
	}
	return nil
}

func (p *Policy) owns(c Caller, appt *appointments.Appointment) bool {
	switch c.Role {
	case RoleAdmin:
		return true
	case RolePatient:
		return appt.PatientID == c.ID
	case RoleDoctor:
		return appt.DoctorID == c.ID
	}
	return false
}

// CanRead checks that c may view appt.
func (p *Policy) CanRead(c Caller, appt *appointments.Appointment) error {
	if err := p.authenticated(c); err != nil {
		return err
	}
	if appt == nil || !p.owns(c, appt) {
		return ErrForbidden
	}
	return nil
}

// CanCancel checks that c may cancel appt: the patient who booked it, the
// attending doctor, or an admin.
func (p *Policy) CanCancel(c Caller, appt *appointments.Appointment) error {
	return p.CanRead(c, appt)
}

// CanComplete checks that c may mark appt as completed.
func (p *Policy) CanComplete(c Caller, appt *appointments.Appointment) error {
	if err := p.authenticated(c); err != nil {
		return err
	}
	if c.Role == RolePatient {
		return fmt.Errorf("%w: patients cannot complete appointments", ErrForbidden)
	}
	if !p.owns(c, appt) {
		return ErrForbidden
	}
	return nil
}

// CanReserve checks that c may request a slot. Only patients book for themselves.
func (p *Policy) CanReserve(c Caller) error {
	if err := p.authenticated(c); err != nil {
		return err
	}
	if c.Role != RolePatient {
		return fmt.Errorf("%w: only patients can book", ErrForbidden)
	}
	return nil
}

// CanPay checks that c may start or confirm payment for appt.
func (p *Policy) CanPay(c Caller, appt *appointments.Appointment) error {
	if err := p.authenticated(c); err != nil {
		return err
	}
	if c.Role != RolePatient || appt == nil || appt.PatientID != c.ID {
		return ErrForbidden
	}
	return nil
}

// CanPublish checks that c may publish availability for doctorID.
func (p *Policy) CanPublish(c Caller, doctorID string) error {
	if err := p.authenticated(c); err != nil {
		return err
	}
	if c.Role == RoleAdmin || (c.Role == RoleDoctor && c.ID == doctorID) {
		return nil
	}
	return ErrForbidden
}

// CanAdminister checks that c is an admin.
func (p *Policy) CanAdminister(c Caller) error {
	if err := p.authenticated(c); err != nil {
		return err
	}
	if c.Role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// ScopeFilter narrows filter to what c may list. Attempts to list another
// principal's appointments are forbidden rather than silently rewritten.
func (p *Policy) ScopeFilter(c Caller, filter appointments.ListFilter) (appointments.ListFilter, error) {
	if err := p.authenticated(c); err != nil {
		return filter, err
	}
	switch c.Role {
	case RolePatient:
		if filter.PatientID != "" && filter.PatientID != c.ID {
			return filter, ErrForbidden
		}
		filter.PatientID = c.ID
	case RoleDoctor:
		if filter.DoctorID != "" && filter.DoctorID != c.ID {
			return filter, ErrForbidden
		}
		filter.DoctorID = c.ID
	}
	return filter, nil
}
