package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wolfman30/medicarex-booking/internal/observability/metrics"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	return NewLedger(store, logging.Discard(), WithClock(clock.Now)), store, clock
}

func reserveFor(t *testing.T, l *Ledger, clock *fakeClock, ref SlotRef) *Appointment {
	t.Helper()
	startsAt, _ := ref.StartTime(time.UTC)
	endsAt, _ := ref.EndTime(time.UTC)
	appt := &Appointment{
		StartsAt:   startsAt,
		EndsAt:     endsAt,
		PatientID:  "patient-1",
		DoctorID:   "doc-1",
		HospitalID: "hospital-1",
		Slot:       ref,
		AmountDue:  5000,
		Currency:   "USD",
		ExpiresAt:  clock.now.Add(10 * time.Minute),
	}
	if err := l.Reserve(context.Background(), appt); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return appt
}

// assertSlotConsistent checks that the slot is held or booked exactly when the
// appointment is in a slot-holding state.
func assertSlotConsistent(t *testing.T, store *MemoryStore, appt *Appointment) {
	t.Helper()
	slot, err := store.GetSlot(context.Background(), appt.DoctorID, appt.Slot)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if slot.Status != SlotStatusFor(appt.State) {
		t.Fatalf("slot %s is %s while appointment is %s", appt.Slot, slot.Status, appt.State)
	}
	if appt.State.HoldsSlot() && (slot.AppointmentID == nil || *slot.AppointmentID != appt.ID) {
		t.Fatalf("slot holder mismatch: %+v", slot)
	}
	if !appt.State.HoldsSlot() && slot.AppointmentID != nil {
		t.Fatalf("free slot still references %s", *slot.AppointmentID)
	}
}

func TestLedgerReserveEntersReserved(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	ledger := NewLedger(store, logging.Discard(), WithClock(clock.Now), WithMetrics(m))

	appt := reserveFor(t, ledger, clock, SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"})
	if appt.ID == uuid.Nil || appt.State != StateReserved || appt.Version != 1 {
		t.Fatalf("unexpected reserved appointment: %+v", appt)
	}
	assertSlotConsistent(t, store, appt)

	if _, err := store.Get(context.Background(), appt.ID); err != nil {
		t.Fatalf("appointment not persisted: %v", err)
	}
	if err := ledger.Reserve(context.Background(), &Appointment{DoctorID: "doc-1", Slot: appt.Slot}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without patient, got %v", err)
	}
	count, err := testutil.GatherAndCount(reg, "medicarex_ledger_transitions_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one transition series, got %d", count)
	}
}

func TestLedgerHappyPathToConfirmed(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	appt := reserveFor(t, ledger, clock, SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"})

	pending, err := ledger.Transition(context.Background(), TransitionRequest{
		ID: appt.ID, ExpectedVersion: appt.Version, Event: EventCreateOrder,
		Gateway: GatewayStripe, OrderRef: "pi_123",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if pending.State != StatePaymentPending || pending.OrderRef != "pi_123" || pending.Gateway != GatewayStripe {
		t.Fatalf("unexpected pending appointment: %+v", pending)
	}
	assertSlotConsistent(t, store, pending)

	confirmed, err := ledger.Transition(context.Background(), TransitionRequest{
		ID: appt.ID, ExpectedVersion: pending.Version, Event: EventCapture,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if confirmed.State != StateConfirmed || confirmed.Version != 3 {
		t.Fatalf("unexpected confirmed appointment: %+v", confirmed)
	}
	assertSlotConsistent(t, store, confirmed)
}

func TestLedgerRejectsStaleVersion(t *testing.T) {
	ledger, _, clock := newTestLedger(t)
	appt := reserveFor(t, ledger, clock, SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"})

	if _, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: appt.Version, Event: EventCreateOrder, Gateway: GatewayRazorpay, OrderRef: "order_1"}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	_, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: appt.Version, Event: EventCancel})
	if !errors.Is(err, ErrStaleAppointmentState) {
		t.Fatalf("expected ErrStaleAppointmentState, got %v", err)
	}
}

func TestLedgerLapsedHoldIsNeverMovedToPaymentPending(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	appt := reserveFor(t, ledger, clock, SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"})

	clock.Advance(11 * time.Minute)
	expired, err := ledger.Transition(context.Background(), TransitionRequest{
		ID: appt.ID, ExpectedVersion: appt.Version, Event: EventCreateOrder, Gateway: GatewayStripe, OrderRef: "pi_late",
	})
	if !errors.Is(err, ErrExpiredReservation) {
		t.Fatalf("expected ErrExpiredReservation, got %v", err)
	}
	if expired.State != StateExpired || expired.OrderRef != "" {
		t.Fatalf("expected expired appointment without order, got %+v", expired)
	}
	assertSlotConsistent(t, store, expired)
}

func TestLedgerPaymentFailureAfterTTLExpires(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	appt := reserveFor(t, ledger, clock, SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"})
	pending, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: 1, Event: EventCreateOrder, Gateway: GatewayStripe, OrderRef: "pi_1"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	retry, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: pending.Version, Event: EventPaymentFailed})
	if err != nil {
		t.Fatalf("payment failed within ttl: %v", err)
	}
	if retry.State != StateReserved {
		t.Fatalf("expected reserved for retry, got %s", retry.State)
	}
	assertSlotConsistent(t, store, retry)

	pending, err = ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: retry.Version, Event: EventCreateOrder, Gateway: GatewayStripe, OrderRef: "pi_2"})
	if err != nil {
		t.Fatalf("second order: %v", err)
	}
	clock.Advance(15 * time.Minute)
	expired, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: pending.Version, Event: EventPaymentFailed})
	if err != nil {
		t.Fatalf("payment failed after ttl: %v", err)
	}
	if expired.State != StateExpired {
		t.Fatalf("expected expired, got %s", expired.State)
	}
	assertSlotConsistent(t, store, expired)
}

func TestLedgerGetAppliesLazyExpiry(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	ref := SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}
	appt := reserveFor(t, ledger, clock, ref)

	clock.Advance(10 * time.Minute)
	got, err := ledger.Get(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateExpired {
		t.Fatalf("expected lazily expired appointment, got %s", got.State)
	}
	assertSlotConsistent(t, store, got)

	reserveFor(t, ledger, clock, ref)
}

func TestLedgerExpireDueReleasesSlots(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	a := reserveFor(t, ledger, clock, SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"})
	clock.Advance(5 * time.Minute)
	b := reserveFor(t, ledger, clock, SlotRef{Date: "2026-03-02", Start: "10:00", End: "10:30"})

	clock.Advance(6 * time.Minute)
	moved, err := ledger.ExpireDue(context.Background(), clock.Now(), 10)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if len(moved) != 1 || moved[0].ID != a.ID {
		t.Fatalf("expected only a to expire, got %+v", moved)
	}
	expired, _ := store.Get(context.Background(), a.ID)
	if expired.State != StateExpired {
		t.Fatalf("expected a expired, got %s", expired.State)
	}
	assertSlotConsistent(t, store, expired)
	live, _ := store.Get(context.Background(), b.ID)
	if live.State != StateReserved {
		t.Fatalf("expected b still reserved, got %s", live.State)
	}
}

func TestLedgerCancelConfirmedFreesSlotBeforeRefund(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	ref := SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}
	appt := reserveFor(t, ledger, clock, ref)
	pending, _ := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: 1, Event: EventCreateOrder, Gateway: GatewayStripe, OrderRef: "pi_1"})
	confirmed, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: pending.Version, Event: EventCapture})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	refundPending, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: confirmed.Version, Event: EventCancel, Reason: "patient request"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refundPending.State != StateRefundPending || refundPending.CancelReason != "patient request" {
		t.Fatalf("unexpected cancelled appointment: %+v", refundPending)
	}
	assertSlotConsistent(t, store, refundPending)

	refunded, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: refundPending.Version, Event: EventRefundIssued})
	if err != nil {
		t.Fatalf("refund issued: %v", err)
	}
	if refunded.State != StateRefunded {
		t.Fatalf("expected refunded, got %s", refunded.State)
	}
	if _, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: refunded.Version, Event: EventCancel}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected terminal state to reject cancel, got %v", err)
	}
}

func TestLedgerCompleteDue(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	appt := reserveFor(t, ledger, clock, SlotRef{Date: "2026-03-01", Start: "09:00", End: "09:30"})
	pending, _ := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: 1, Event: EventCreateOrder, Gateway: GatewayStripe, OrderRef: "pi_1"})
	if _, err := ledger.Transition(context.Background(), TransitionRequest{ID: appt.ID, ExpectedVersion: pending.Version, Event: EventCapture}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	moved, err := ledger.CompleteDue(context.Background(), clock.Now().Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("complete due: %v", err)
	}
	if len(moved) != 1 || moved[0].State != StateCompleted {
		t.Fatalf("expected one completion, got %+v", moved)
	}
	done, _ := store.Get(context.Background(), appt.ID)
	if done.State != StateCompleted {
		t.Fatalf("expected completed, got %s", done.State)
	}
	assertSlotConsistent(t, store, done)
}

func TestSlotRefNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   SlotRef
		want SlotRef
		ok   bool
	}{
		{"canonical", SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}, SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}, true},
		{"unpadded hour", SlotRef{Date: "2026-03-02", Start: "9:00", End: "9:30"}, SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}, true},
		{"surrounding space", SlotRef{Date: " 2026-03-02", Start: "09:00 ", End: "10:00"}, SlotRef{Date: "2026-03-02", Start: "09:00", End: "10:00"}, true},
		{"bad date", SlotRef{Date: "02/03/2026", Start: "09:00", End: "09:30"}, SlotRef{}, false},
		{"bad hour", SlotRef{Date: "2026-03-02", Start: "25:00", End: "25:30"}, SlotRef{}, false},
		{"empty range", SlotRef{Date: "2026-03-02", Start: "09:30", End: "9:30"}, SlotRef{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.Normalize()
			if !tc.ok {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("expected ErrInvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestLedgerReserveUnpaddedHourConflicts(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	first := reserveFor(t, ledger, clock, SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"})

	second := &Appointment{
		PatientID: "patient-2",
		DoctorID:  "doc-1",
		Slot:      SlotRef{Date: "2026-03-02", Start: "9:00", End: "9:30"},
		AmountDue: 5000,
		Currency:  "USD",
		ExpiresAt: clock.now.Add(10 * time.Minute),
	}
	if err := ledger.Reserve(context.Background(), second); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	slots, err := ledger.ListSlots(context.Background(), "doc-1", "2026-03-02")
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected one slot key, got %+v", slots)
	}
	assertSlotConsistent(t, store, first)
}

func TestLedgerPublishSlotsNormalizes(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	n, err := ledger.PublishSlots(ctx, "doc-1", []SlotRef{
		{Date: "2026-03-02", Start: "9:00", End: "9:30"},
		{Date: "2026-03-02", Start: "09:00", End: "09:30"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 slot created, got %d", n)
	}
	slot, err := ledger.GetSlot(ctx, "doc-1", SlotRef{Date: "2026-03-02", Start: "9:00", End: "09:30"})
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if slot.Ref.Start != "09:00" || slot.Status != SlotFree {
		t.Fatalf("unexpected slot: %+v", slot)
	}
}

func TestLedgerReserveReleasesLapsedHold(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	ref := SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}
	first := reserveFor(t, ledger, clock, ref)

	clock.Advance(10*time.Minute + time.Second)
	second := &Appointment{
		PatientID: "patient-2",
		DoctorID:  "doc-1",
		Slot:      ref,
		AmountDue: 5000,
		Currency:  "USD",
		ExpiresAt: clock.now.Add(10 * time.Minute),
	}
	if err := ledger.Reserve(context.Background(), second); err != nil {
		t.Fatalf("reserve after lapsed hold: %v", err)
	}

	expired, err := store.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if expired.State != StateExpired {
		t.Fatalf("expected first hold expired, got %s", expired.State)
	}
	assertSlotConsistent(t, store, second)
}

func TestLedgerReserveKeepsLiveHold(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	ref := SlotRef{Date: "2026-03-02", Start: "09:00", End: "09:30"}
	first := reserveFor(t, ledger, clock, ref)

	clock.Advance(5 * time.Minute)
	second := &Appointment{
		PatientID: "patient-2",
		DoctorID:  "doc-1",
		Slot:      ref,
		AmountDue: 5000,
		Currency:  "USD",
		ExpiresAt: clock.now.Add(10 * time.Minute),
	}
	if err := ledger.Reserve(context.Background(), second); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	current, err := store.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if current.State != StateReserved {
		t.Fatalf("live hold changed to %s", current.State)
	}
	assertSlotConsistent(t, store, current)
}
