package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Change is one version-guarded lifecycle step applied by Store.Apply.
type Change struct {
	Event        Event
	From         State
	To           State
	Gateway      Gateway
	OrderRef     string
	CancelReason string
	At           time.Time
}

// Store persists appointments and slots. Implementations must make Reserve and
// Apply atomic across the appointment row and its slot.
type Store interface {
	// Reserve flips the slot Free→Held and inserts appt in one unit, creating
	// the slot as Free first when it was never published.
	Reserve(ctx context.Context, appt *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindByOrder(ctx context.Context, gateway Gateway, orderRef string) (*Appointment, error)
	// Apply moves the appointment from change.From to change.To only when its
	// version still equals expectedVersion, re-tagging the slot in the same unit.
	Apply(ctx context.Context, id uuid.UUID, expectedVersion int64, change Change) (*Appointment, error)
	List(ctx context.Context, filter ListFilter) ([]Appointment, error)
	ListExpiring(ctx context.Context, now time.Time, limit int) ([]Appointment, error)
	ListEnded(ctx context.Context, now time.Time, limit int) ([]Appointment, error)

	GetSlot(ctx context.Context, doctorID string, ref SlotRef) (*Slot, error)
	ListSlots(ctx context.Context, doctorID, date string) ([]Slot, error)
	PublishSlots(ctx context.Context, doctorID string, refs []SlotRef) (int, error)
}

func matchesFilter(a *Appointment, f ListFilter) bool {
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if a.State == s {
			return true
		}
	}
	return false
}
