package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/medicarex-booking/internal/observability/metrics"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// Ledger is the only component that mutates appointment lifecycle state. It
// validates every step against the transition table and the caller's observed
// version, and treats a lapsed hold as expired before acting on it.
type Ledger struct {
	store   Store
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the ledger's time source.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithMetrics records transitions on m.
func WithMetrics(m *metrics.BookingMetrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

// NewLedger wraps store with the lifecycle rules.
func NewLedger(store Store, logger *logging.Logger, opts ...LedgerOption) *Ledger {
	if store == nil {
		panic("appointments: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	l := &Ledger{
		store:  store,
		logger: logger.With("component", "ledger"),
		tracer: otel.Tracer("medicarex.internal.appointments"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger clock reading.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// TransitionRequest asks the ledger to apply Event to the appointment observed
// at ExpectedVersion. Gateway/OrderRef/Reason are recorded when non-empty.
type TransitionRequest struct {
	ID              uuid.UUID
	ExpectedVersion int64
	Event           Event
	Gateway         Gateway
	OrderRef        string
	Reason          string
}

// Reserve records a new appointment: it enters as Requested and is moved to
// Reserved in the same atomic unit that holds its slot.
func (l *Ledger) Reserve(ctx context.Context, appt *Appointment) error {
	ctx, span := l.tracer.Start(ctx, "appointments.ledger.reserve")
	defer span.End()

	if appt == nil || appt.DoctorID == "" || appt.PatientID == "" {
		return fmt.Errorf("%w: doctor and patient required", ErrInvalidRequest)
	}
	ref, err := appt.Slot.Normalize()
	if err != nil {
		return err
	}
	appt.Slot = ref
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	span.SetAttributes(
		attribute.String("medicarex.appointment_id", appt.ID.String()),
		attribute.String("medicarex.doctor_id", appt.DoctorID),
		attribute.String("medicarex.slot", appt.Slot.String()),
	)

	to, err := Next(StateRequested, EventReserve)
	if err != nil {
		return err
	}
	now := l.now()
	appt.State = to
	appt.Version = 1
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = appt.CreatedAt

	err = l.store.Reserve(ctx, appt)
	if errors.Is(err, ErrSlotUnavailable) && l.releaseLapsedHolder(ctx, appt.DoctorID, appt.Slot) {
		err = l.store.Reserve(ctx, appt)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	l.metrics.ObserveTransition(string(StateRequested), string(to))
	l.logger.Info("slot reserved",
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"slot", appt.Slot.String(),
		"expires_at", appt.ExpiresAt,
	)
	return nil
}

// releaseLapsedHolder expires the appointment holding ref when its hold has
// lapsed but no sweep has run yet. It reports whether the slot may now be free.
func (l *Ledger) releaseLapsedHolder(ctx context.Context, doctorID string, ref SlotRef) bool {
	slot, err := l.store.GetSlot(ctx, doctorID, ref)
	if err != nil || slot.AppointmentID == nil {
		return false
	}
	holder, err := l.store.Get(ctx, *slot.AppointmentID)
	if err != nil || !holder.HoldLapsed(l.now()) {
		return false
	}
	settled, err := l.settle(ctx, holder)
	if err != nil {
		l.logger.Warn("expire lapsed holder failed", "appointment_id", holder.ID, "error", err)
		return false
	}
	return !settled.State.HoldsSlot()
}

// Get loads an appointment, expiring it first when its hold has lapsed.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.settle(ctx, appt)
}

// FindByOrder resolves an appointment from its gateway order reference.
func (l *Ledger) FindByOrder(ctx context.Context, gateway Gateway, orderRef string) (*Appointment, error) {
	appt, err := l.store.FindByOrder(ctx, gateway, orderRef)
	if err != nil {
		return nil, err
	}
	return l.settle(ctx, appt)
}

// List returns appointments matching filter as currently stored.
func (l *Ledger) List(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	return l.store.List(ctx, filter)
}

// settle applies a pending lazy expiry. A concurrent writer winning the race is
// not an error here; the fresh record is returned instead.
func (l *Ledger) settle(ctx context.Context, appt *Appointment) (*Appointment, error) {
	if !appt.HoldLapsed(l.now()) {
		return appt, nil
	}
	expired, err := l.apply(ctx, appt, EventExpire, TransitionRequest{})
	if err == nil {
		return expired, nil
	}
	if errors.Is(err, ErrStaleAppointmentState) {
		return l.store.Get(ctx, appt.ID)
	}
	return nil, err
}

// Transition applies req.Event when the stored version still equals
// req.ExpectedVersion. A hold that lapsed before the call is expired first:
// a payment failure then resolves to that Expired record, anything else fails
// with ErrExpiredReservation.
func (l *Ledger) Transition(ctx context.Context, req TransitionRequest) (*Appointment, error) {
	ctx, span := l.tracer.Start(ctx, "appointments.ledger.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("medicarex.appointment_id", req.ID.String()),
		attribute.String("medicarex.event", string(req.Event)),
		attribute.Int64("medicarex.expected_version", req.ExpectedVersion),
	)

	current, err := l.store.Get(ctx, req.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if current.Version != req.ExpectedVersion {
		return nil, fmt.Errorf("%w: expected version %d, stored %d", ErrStaleAppointmentState, req.ExpectedVersion, current.Version)
	}

	if req.Event != EventExpire && current.HoldLapsed(l.now()) {
		expired, err := l.apply(ctx, current, EventExpire, TransitionRequest{})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if req.Event == EventPaymentFailed {
			return expired, nil
		}
		return expired, ErrExpiredReservation
	}

	updated, err := l.apply(ctx, current, req.Event, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return updated, nil
}

func (l *Ledger) apply(ctx context.Context, current *Appointment, ev Event, req TransitionRequest) (*Appointment, error) {
	to, err := Next(current.State, ev)
	if err != nil {
		return nil, err
	}
	change := Change{
		Event:        ev,
		From:         current.State,
		To:           to,
		Gateway:      req.Gateway,
		OrderRef:     req.OrderRef,
		CancelReason: req.Reason,
		At:           l.now(),
	}
	updated, err := l.store.Apply(ctx, current.ID, current.Version, change)
	if err != nil {
		if errors.Is(err, ErrSlotIntegrity) {
			l.logger.Error("slot integrity violation",
				"appointment_id", current.ID,
				"doctor_id", current.DoctorID,
				"slot", current.Slot.String(),
				"error", err,
			)
		}
		return nil, err
	}
	l.metrics.ObserveTransition(string(change.From), string(change.To))
	l.logger.Info("appointment transitioned",
		"appointment_id", current.ID,
		"event", string(ev),
		"from", string(change.From),
		"to", string(change.To),
		"version", updated.Version,
	)
	return updated, nil
}

// ExpireDue expires up to limit holds whose TTL elapsed by now and returns the
// records it moved. Records changed concurrently are skipped.
func (l *Ledger) ExpireDue(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	due, err := l.store.ListExpiring(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	return l.sweep(ctx, due, EventExpire)
}

// CompleteDue completes up to limit confirmed appointments whose slot has ended.
func (l *Ledger) CompleteDue(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	due, err := l.store.ListEnded(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	return l.sweep(ctx, due, EventComplete)
}

func (l *Ledger) sweep(ctx context.Context, due []Appointment, ev Event) ([]Appointment, error) {
	var moved []Appointment
	for i := range due {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		updated, err := l.apply(ctx, &due[i], ev, TransitionRequest{})
		if err != nil {
			if errors.Is(err, ErrStaleAppointmentState) || errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return moved, fmt.Errorf("appointments: sweep %s %s: %w", ev, due[i].ID, err)
		}
		moved = append(moved, *updated)
	}
	return moved, nil
}

// PublishSlots makes refs bookable for doctorID. Already-known slots are left untouched.
func (l *Ledger) PublishSlots(ctx context.Context, doctorID string, refs []SlotRef) (int, error) {
	normalized := make([]SlotRef, 0, len(refs))
	for _, ref := range refs {
		n, err := ref.Normalize()
		if err != nil {
			return 0, err
		}
		normalized = append(normalized, n)
	}
	return l.store.PublishSlots(ctx, doctorID, normalized)
}

// ListSlots returns the doctor's calendar for date.
func (l *Ledger) ListSlots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	date, err := NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	return l.store.ListSlots(ctx, doctorID, date)
}

// GetSlot returns a single slot.
func (l *Ledger) GetSlot(ctx context.Context, doctorID string, ref SlotRef) (*Slot, error) {
	ref, err := ref.Normalize()
	if err != nil {
		return nil, err
	}
	return l.store.GetSlot(ctx, doctorID, ref)
}
