package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestAppointment(doctorID string, ref SlotRef, now time.Time) *Appointment {
	return &Appointment{
		ID:         uuid.New(),
		PatientID:  "patient-1",
		DoctorID:   doctorID,
		HospitalID: "hospital-1",
		Slot:       ref,
		AmountDue:  5000,
		Currency:   "USD",
		State:      StateReserved,
		ExpiresAt:  now.Add(10 * time.Minute),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryStoreReserveIsExclusiveUnderConcurrency(t *testing.T) {
	store := NewMemoryStore()
	ref := SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}
	now := time.Now().UTC()

	const attempts = 32
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		successes   int
		unavailable int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := store.Reserve(context.Background(), newTestAppointment("doc-1", ref, now))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || unavailable != attempts-1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d unavailable", successes, unavailable)
	}
	slot, err := store.GetSlot(context.Background(), "doc-1", ref)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if slot.Status != SlotHeld || slot.AppointmentID == nil {
		t.Fatalf("expected held slot with holder, got %+v", slot)
	}
}

func TestMemoryStoreApplyGuardsVersionAndState(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	appt := newTestAppointment("doc-1", SlotRef{Date: "2026-03-02", Start: "10:00", End: "10:30"}, now)
	if err := store.Reserve(context.Background(), appt); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	change := Change{Event: EventCreateOrder, From: StateReserved, To: StatePaymentPending, Gateway: GatewayStripe, OrderRef: "pi_1", At: now}
	if _, err := store.Apply(context.Background(), appt.ID, 7, change); !errors.Is(err, ErrStaleAppointmentState) {
		t.Fatalf("expected stale on wrong version, got %v", err)
	}
	wrongFrom := change
	wrongFrom.From = StatePaymentPending
	if _, err := store.Apply(context.Background(), appt.ID, 1, wrongFrom); !errors.Is(err, ErrStaleAppointmentState) {
		t.Fatalf("expected stale on wrong from-state, got %v", err)
	}
	if _, err := store.Apply(context.Background(), uuid.New(), 1, change); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	updated, err := store.Apply(context.Background(), appt.ID, 1, change)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if updated.Version != 2 || updated.State != StatePaymentPending || updated.OrderRef != "pi_1" {
		t.Fatalf("unexpected appointment after apply: %+v", updated)
	}
	found, err := store.FindByOrder(context.Background(), GatewayStripe, "pi_1")
	if err != nil || found.ID != appt.ID {
		t.Fatalf("find by order: %v %+v", err, found)
	}
}

func TestMemoryStoreFreeingTransitionReleasesSlot(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	ref := SlotRef{Date: "2026-03-02", Start: "11:00", End: "11:30"}
	appt := newTestAppointment("doc-1", ref, now)
	if err := store.Reserve(context.Background(), appt); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Apply(context.Background(), appt.ID, 1, Change{Event: EventCancel, From: StateReserved, To: StateCancelled, At: now}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	slot, err := store.GetSlot(context.Background(), "doc-1", ref)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if slot.Status != SlotFree || slot.AppointmentID != nil {
		t.Fatalf("expected free slot, got %+v", slot)
	}
	if err := store.Reserve(context.Background(), newTestAppointment("doc-1", ref, now)); err != nil {
		t.Fatalf("slot should be reservable again: %v", err)
	}
}

func TestMemoryStorePublishSlotsIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	refs := []SlotRef{
		{Date: "2026-03-02", Start: "10:00", End: "10:30"},
		{Date: "2026-03-02", Start: "09:00", End: "09:30"},
	}
	created, err := store.PublishSlots(context.Background(), "doc-1", refs)
	if err != nil || created != 2 {
		t.Fatalf("first publish: created=%d err=%v", created, err)
	}
	created, err = store.PublishSlots(context.Background(), "doc-1", refs)
	if err != nil || created != 0 {
		t.Fatalf("second publish: created=%d err=%v", created, err)
	}
	slots, err := store.ListSlots(context.Background(), "doc-1", "2026-03-02")
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(slots) != 2 || slots[0].Ref.Start != "09:00" || slots[0].Status != SlotFree {
		t.Fatalf("unexpected slots: %+v", slots)
	}
}

func TestMemoryStoreListFilters(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	a := newTestAppointment("doc-1", SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}, now)
	a.StartsAt = now.Add(2 * time.Hour)
	b := newTestAppointment("doc-2", SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}, now)
	b.PatientID = "patient-2"
	b.StartsAt = now.Add(time.Hour)
	for _, appt := range []*Appointment{a, b} {
		if err := store.Reserve(context.Background(), appt); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}

	all, _ := store.List(context.Background(), ListFilter{})
	if len(all) != 2 || all[0].ID != b.ID {
		t.Fatalf("expected both appointments ordered by start, got %+v", all)
	}
	byDoctor, _ := store.List(context.Background(), ListFilter{DoctorID: "doc-1"})
	if len(byDoctor) != 1 || byDoctor[0].ID != a.ID {
		t.Fatalf("doctor filter mismatch: %+v", byDoctor)
	}
	byPatient, _ := store.List(context.Background(), ListFilter{PatientID: "patient-2"})
	if len(byPatient) != 1 || byPatient[0].ID != b.ID {
		t.Fatalf("patient filter mismatch: %+v", byPatient)
	}
	none, _ := store.List(context.Background(), ListFilter{States: []State{StateConfirmed}})
	if len(none) != 0 {
		t.Fatalf("state filter mismatch: %+v", none)
	}
}
