package appointments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotKey struct {
	doctorID string
	ref      SlotRef
}

// MemoryStore is an in-process Store guarded by a single mutex. It backs local
// development (USE_MEMORY_STORE) and tests.
type MemoryStore struct {
	mu           sync.Mutex
	slots        map[slotKey]*Slot
	appointments map[uuid.UUID]*Appointment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:        make(map[slotKey]*Slot),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (s *MemoryStore) Reserve(ctx context.Context, appt *Appointment) error {
	if appt == nil {
		return fmt.Errorf("%w: appointment required", ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.appointments[appt.ID]; exists {
		return fmt.Errorf("appointments: duplicate id %s", appt.ID)
	}
	key := slotKey{doctorID: appt.DoctorID, ref: appt.Slot}
	slot, ok := s.slots[key]
	if !ok {
		slot = &Slot{DoctorID: appt.DoctorID, Ref: appt.Slot, Status: SlotFree}
		s.slots[key] = slot
	}
	if slot.Status != SlotFree {
		return ErrSlotUnavailable
	}
	id := appt.ID
	slot.Status = SlotStatusFor(appt.State)
	slot.AppointmentID = &id
	slot.UpdatedAt = appt.CreatedAt

	stored := *appt
	s.appointments[appt.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *appt
	return &out, nil
}

func (s *MemoryStore) FindByOrder(ctx context.Context, gateway Gateway, orderRef string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, appt := range s.appointments {
		if appt.Gateway == gateway && appt.OrderRef != "" && appt.OrderRef == orderRef {
			out := *appt
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Apply(ctx context.Context, id uuid.UUID, expectedVersion int64, change Change) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if appt.Version != expectedVersion || appt.State != change.From {
		return nil, ErrStaleAppointmentState
	}

	if change.From.HoldsSlot() || change.To.HoldsSlot() {
		slot, ok := s.slots[slotKey{doctorID: appt.DoctorID, ref: appt.Slot}]
		if !ok || slot.AppointmentID == nil || *slot.AppointmentID != id {
			return nil, fmt.Errorf("%w: %s", ErrSlotIntegrity, appt.Slot)
		}
		slot.Status = SlotStatusFor(change.To)
		if slot.Status == SlotFree {
			slot.AppointmentID = nil
		}
		slot.UpdatedAt = change.At
	}

	appt.State = change.To
	appt.Version++
	appt.UpdatedAt = change.At
	if change.Gateway != "" {
		appt.Gateway = change.Gateway
	}
	if change.OrderRef != "" {
		appt.OrderRef = change.OrderRef
	}
	if change.CancelReason != "" {
		appt.CancelReason = change.CancelReason
	}
	out := *appt
	return &out, nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, appt := range s.appointments {
		if matchesFilter(appt, filter) {
			out = append(out, *appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListExpiring(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	return s.collect(limit, func(a *Appointment) bool { return a.HoldLapsed(now) })
}

func (s *MemoryStore) ListEnded(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	return s.collect(limit, func(a *Appointment) bool {
		return a.State == StateConfirmed && !now.Before(a.EndsAt)
	})
}

func (s *MemoryStore) collect(limit int, keep func(*Appointment) bool) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, appt := range s.appointments {
		if keep(appt) {
			out = append(out, *appt)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetSlot(ctx context.Context, doctorID string, ref SlotRef) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[slotKey{doctorID: doctorID, ref: ref}]
	if !ok {
		return nil, ErrNotFound
	}
	out := *slot
	return &out, nil
}

func (s *MemoryStore) ListSlots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Slot
	for key, slot := range s.slots {
		if key.doctorID == doctorID && key.ref.Date == date {
			out = append(out, *slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Start < out[j].Ref.Start })
	return out, nil
}

func (s *MemoryStore) PublishSlots(ctx context.Context, doctorID string, refs []SlotRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	now := time.Now().UTC()
	for _, ref := range refs {
		key := slotKey{doctorID: doctorID, ref: ref}
		if _, ok := s.slots[key]; ok {
			continue
		}
		s.slots[key] = &Slot{DoctorID: doctorID, Ref: ref, Status: SlotFree, UpdatedAt: now}
		created++
	}
	return created, nil
}
