// Package booking coordinates patient-facing booking actions: reserving a
// slot, cancelling, completing, and publishing a doctor's availability.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medicarex-booking/internal/access"
	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/directory"
	"github.com/wolfman30/medicarex-booking/internal/events"
	"github.com/wolfman30/medicarex-booking/internal/observability/metrics"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

var tracer = otel.Tracer("medicarex.internal.booking")

const (
	// DefaultHoldDuration is how long an unpaid reservation keeps its slot.
	DefaultHoldDuration = 10 * time.Minute
	maxCancelAttempts   = 3
)

// Dispatcher queues side effects of lifecycle changes.
type Dispatcher interface {
	Notify(ctx context.Context, appt *appointments.Appointment, kind events.NotificationKind)
	RequestRefund(ctx context.Context, appt *appointments.Appointment, reason string) (bool, error)
}

// Reservation is the outcome of a successful slot request.
type Reservation struct {
	AppointmentID uuid.UUID            `json:"appointment_id"`
	State         appointments.State   `json:"state"`
	DoctorID      string               `json:"doctor_id"`
	Slot          appointments.SlotRef `json:"slot"`
	AmountDue     int64                `json:"amount_due"`
	Currency      string               `json:"currency"`
	ExpiresAt     time.Time            `json:"expires_at"`
	Version       int64                `json:"version"`
}

// Coordinator implements the booking actions on top of the ledger.
type Coordinator struct {
	ledger          *appointments.Ledger
	directory       directory.Directory
	dispatcher      Dispatcher
	policy          *access.Policy
	metrics         *metrics.BookingMetrics
	logger          *logging.Logger
	holdDuration    time.Duration
	location        *time.Location
	defaultCurrency string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHoldDuration sets the reservation TTL.
func WithHoldDuration(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.holdDuration = d
		}
	}
}

// WithLocation sets the zone slot times are expressed in.
func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithDefaultCurrency is used for doctors whose profile carries no currency.
func WithDefaultCurrency(currency string) Option {
	return func(c *Coordinator) {
		if currency != "" {
			c.defaultCurrency = strings.ToUpper(currency)
		}
	}
}

// WithMetrics records reservation outcomes.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func NewCoordinator(ledger *appointments.Ledger, dir directory.Directory, dispatcher Dispatcher, logger *logging.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Coordinator{
		ledger:          ledger,
		directory:       dir,
		dispatcher:      dispatcher,
		policy:          access.NewPolicy(),
		logger:          logger.With("component", "booking"),
		holdDuration:    DefaultHoldDuration,
		location:        time.UTC,
		defaultCurrency: "USD",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HoldDuration returns the configured reservation TTL.
func (c *Coordinator) HoldDuration() time.Duration {
	return c.holdDuration
}

// RequestSlot reserves ref on doctorID's calendar for the calling patient.
// Exactly one of any number of concurrent requests for the same slot succeeds;
// the rest fail with appointments.ErrSlotUnavailable.
func (c *Coordinator) RequestSlot(ctx context.Context, caller access.Caller, doctorID string, ref appointments.SlotRef) (*Reservation, error) {
	ctx, span := tracer.Start(ctx, "booking.request_slot")
	defer span.End()
	span.SetAttributes(
		attribute.String("medicarex.doctor_id", doctorID),
		attribute.String("medicarex.slot", ref.String()),
	)

	if err := c.policy.CanReserve(caller); err != nil {
		return nil, err
	}
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, fmt.Errorf("%w: doctor id required", appointments.ErrInvalidRequest)
	}
	ref, err := ref.Normalize()
	if err != nil {
		return nil, err
	}
	startsAt, err := ref.StartTime(c.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appointments.ErrInvalidRequest, err)
	}
	endsAt, err := ref.EndTime(c.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appointments.ErrInvalidRequest, err)
	}
	now := c.ledger.Now()
	if !startsAt.After(now) {
		return nil, ErrSlotInPast
	}

	doctor, err := c.directory.Doctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrUnknownDoctor
		}
		return nil, fmt.Errorf("booking: load doctor: %w", err)
	}
	available, err := c.directory.IsDoctorAvailable(ctx, doctorID, ref.Date)
	if err != nil {
		return nil, fmt.Errorf("booking: check availability: %w", err)
	}
	if !available {
		c.metrics.ObserveReservation("doctor_unavailable")
		return nil, ErrDoctorUnavailable
	}
	if doctor.Fee <= 0 {
		return nil, fmt.Errorf("%w: doctor %s has no consultation fee", appointments.ErrInvalidRequest, doctorID)
	}
	currency := strings.ToUpper(doctor.Currency)
	if currency == "" {
		currency = c.defaultCurrency
	}

	appt := &appointments.Appointment{
		PatientID:  caller.ID,
		DoctorID:   doctorID,
		HospitalID: doctor.HospitalID,
		Slot:       ref,
		StartsAt:   startsAt.UTC(),
		EndsAt:     endsAt.UTC(),
		AmountDue:  doctor.Fee,
		Currency:   currency,
		ExpiresAt:  now.Add(c.holdDuration),
	}
	if err := c.ledger.Reserve(ctx, appt); err != nil {
		span.RecordError(err)
		if errors.Is(err, appointments.ErrSlotUnavailable) {
			c.metrics.ObserveReservation("unavailable")
		} else {
			c.metrics.ObserveReservation("error")
		}
		return nil, err
	}
	c.metrics.ObserveReservation("reserved")
	span.SetAttributes(attribute.String("medicarex.appointment_id", appt.ID.String()))
	c.notify(ctx, appt, events.NotifyReserved)

	return &Reservation{
		AppointmentID: appt.ID,
		State:         appt.State,
		DoctorID:      appt.DoctorID,
		Slot:          appt.Slot,
		AmountDue:     appt.AmountDue,
		Currency:      appt.Currency,
		ExpiresAt:     appt.ExpiresAt,
		Version:       appt.Version,
	}, nil
}

// Get returns an appointment the caller may see.
func (c *Coordinator) Get(ctx context.Context, caller access.Caller, id uuid.UUID) (*appointments.Appointment, error) {
	appt, err := c.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.policy.CanRead(caller, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// ListAppointments lists what the caller may see: a patient their own
// bookings, a doctor the appointments they attend, an admin everything.
func (c *Coordinator) ListAppointments(ctx context.Context, caller access.Caller, filter appointments.ListFilter) ([]appointments.Appointment, error) {
	scoped, err := c.policy.ScopeFilter(caller, filter)
	if err != nil {
		return nil, err
	}
	return c.ledger.List(ctx, scoped)
}

// Cancel cancels an appointment. A paid appointment moves to RefundPending and
// a refund is requested; its slot is released at once either way. When
// expectedVersion is nil the latest version is used.
func (c *Coordinator) Cancel(ctx context.Context, caller access.Caller, id uuid.UUID, expectedVersion *int64, reason string) (*appointments.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("medicarex.appointment_id", id.String()))

	var updated *appointments.Appointment
	for attempt := 0; ; attempt++ {
		appt, err := c.ledger.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := c.policy.CanCancel(caller, appt); err != nil {
			return nil, err
		}
		version := appt.Version
		if expectedVersion != nil {
			version = *expectedVersion
		}
		updated, err = c.ledger.Transition(ctx, appointments.TransitionRequest{
			ID:              id,
			ExpectedVersion: version,
			Event:           appointments.EventCancel,
			Reason:          strings.TrimSpace(reason),
		})
		if err == nil {
			break
		}
		if errors.Is(err, appointments.ErrStaleAppointmentState) && expectedVersion == nil && attempt < maxCancelAttempts {
			continue
		}
		span.RecordError(err)
		return updated, err
	}

	if updated.State == appointments.StateRefundPending {
		if _, err := c.requestRefund(ctx, updated, reason); err != nil {
			c.logger.Error("refund request not queued; sweeper will retry", "appointment_id", updated.ID, "error", err)
		}
	}
	c.notify(ctx, updated, events.NotifyCancelled)
	c.logger.Info("appointment cancelled",
		"appointment_id", updated.ID,
		"state", string(updated.State),
		"by_role", string(caller.Role),
	)
	return updated, nil
}

// Complete marks a confirmed appointment as attended. Only the attending
// doctor or an admin may do so, and only once the slot has started.
func (c *Coordinator) Complete(ctx context.Context, caller access.Caller, id uuid.UUID) (*appointments.Appointment, error) {
	appt, err := c.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.policy.CanComplete(caller, appt); err != nil {
		return nil, err
	}
	if c.ledger.Now().Before(appt.StartsAt) {
		return nil, ErrNotStarted
	}
	updated, err := c.ledger.Transition(ctx, appointments.TransitionRequest{
		ID:              appt.ID,
		ExpectedVersion: appt.Version,
		Event:           appointments.EventComplete,
	})
	if err != nil {
		return nil, err
	}
	c.notify(ctx, updated, events.NotifyCompleted)
	return updated, nil
}

// ListSlots returns a doctor's calendar for date.
func (c *Coordinator) ListSlots(ctx context.Context, doctorID, date string) ([]appointments.Slot, error) {
	return c.ledger.ListSlots(ctx, doctorID, date)
}

// PublishAvailability opens refs on doctorID's calendar. Existing slots keep
// their status.
func (c *Coordinator) PublishAvailability(ctx context.Context, caller access.Caller, doctorID string, refs []appointments.SlotRef) (int, error) {
	if err := c.policy.CanPublish(caller, doctorID); err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, fmt.Errorf("%w: no slots given", appointments.ErrInvalidRequest)
	}
	exists, err := c.directory.DoctorExists(ctx, doctorID)
	if err != nil {
		return 0, fmt.Errorf("booking: check doctor: %w", err)
	}
	if !exists {
		return 0, ErrUnknownDoctor
	}
	n, err := c.ledger.PublishSlots(ctx, doctorID, refs)
	if err != nil {
		return 0, err
	}
	c.logger.Info("availability published", "doctor_id", doctorID, "requested", len(refs), "created", n)
	return n, nil
}

func (c *Coordinator) requestRefund(ctx context.Context, appt *appointments.Appointment, reason string) (bool, error) {
	if c.dispatcher == nil {
		return false, nil
	}
	return c.dispatcher.RequestRefund(ctx, appt, reason)
}

func (c *Coordinator) notify(ctx context.Context, appt *appointments.Appointment, kind events.NotificationKind) {
	if c.dispatcher == nil {
		return
	}
	c.dispatcher.Notify(ctx, appt, kind)
}
