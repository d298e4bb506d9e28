package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists appointments and slots in Postgres. The slot row is the
// unit of mutual exclusion: reservation is a compare-and-swap on its status.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgresStore creates a store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithPool(pool pgxPool) *PostgresStore {
	if pool == nil {
		panic("appointments: pool required")
	}
	return &PostgresStore{pool: pool}
}

const appointmentColumns = `id, patient_id, doctor_id, hospital_id, slot_date, slot_start, slot_end,
	starts_at, ends_at, amount_due, currency, state, gateway, order_ref, expires_at,
	cancel_reason, version, created_at, updated_at`

const pgUniqueViolation = "23505"

func (s *PostgresStore) Reserve(ctx context.Context, appt *Appointment) error {
	if appt == nil {
		return fmt.Errorf("%w: appointment required", ErrInvalidRequest)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO slots (doctor_id, slot_date, start_time, end_time, status, updated_at)
		VALUES ($1, $2, $3, $4, 'free', $5)
		ON CONFLICT DO NOTHING
	`, appt.DoctorID, appt.Slot.Date, appt.Slot.Start, appt.Slot.End, appt.CreatedAt); err != nil {
		return fmt.Errorf("appointments: ensure slot: %w", err)
	}

	ct, err := tx.Exec(ctx, `
		UPDATE slots
		SET status = $5, appointment_id = $6, updated_at = $7
		WHERE doctor_id = $1 AND slot_date = $2 AND start_time = $3 AND end_time = $4
		  AND status = 'free'
	`, appt.DoctorID, appt.Slot.Date, appt.Slot.Start, appt.Slot.End,
		string(SlotStatusFor(appt.State)), appt.ID, appt.CreatedAt)
	if err != nil {
		return fmt.Errorf("appointments: hold slot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, hospital_id, slot_date, slot_start, slot_end,
			starts_at, ends_at, amount_due, currency, state, expires_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.HospitalID, appt.Slot.Date, appt.Slot.Start, appt.Slot.End,
		appt.StartsAt, appt.EndsAt, appt.AmountDue, appt.Currency, string(appt.State), appt.ExpiresAt,
		appt.Version, appt.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("appointments: insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit reserve: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: load: %w", err)
	}
	return appt, nil
}

func (s *PostgresStore) FindByOrder(ctx context.Context, gateway Gateway, orderRef string) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE gateway = $1 AND order_ref = $2`,
		string(gateway), orderRef)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: load by order: %w", err)
	}
	return appt, nil
}

func (s *PostgresStore) Apply(ctx context.Context, id uuid.UUID, expectedVersion int64, change Change) (*Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET state = $4,
		    version = version + 1,
		    gateway = COALESCE($5, gateway),
		    order_ref = COALESCE($6, order_ref),
		    cancel_reason = COALESCE($7, cancel_reason),
		    updated_at = $8
		WHERE id = $1 AND version = $2 AND state = $3
		RETURNING `+appointmentColumns,
		id, expectedVersion, string(change.From), string(change.To),
		nullableText(string(change.Gateway)), nullableText(change.OrderRef), nullableText(change.CancelReason), change.At)
	updated, err := scanAppointment(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("appointments: apply %s: %w", change.Event, err)
		}
		var version int64
		if err := tx.QueryRow(ctx, `SELECT version FROM appointments WHERE id = $1`, id).Scan(&version); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("appointments: check version: %w", err)
		}
		return nil, ErrStaleAppointmentState
	}

	if change.From.HoldsSlot() || change.To.HoldsSlot() {
		status := SlotStatusFor(change.To)
		holder := pgtype.UUID{Bytes: id, Valid: status != SlotFree}
		ct, err := tx.Exec(ctx, `
			UPDATE slots
			SET status = $5, appointment_id = $6, updated_at = $7
			WHERE doctor_id = $1 AND slot_date = $2 AND start_time = $3 AND end_time = $4
			  AND appointment_id = $8
		`, updated.DoctorID, updated.Slot.Date, updated.Slot.Start, updated.Slot.End,
			string(status), holder, change.At, id)
		if err != nil {
			return nil, fmt.Errorf("appointments: update slot: %w", err)
		}
		if ct.RowsAffected() != 1 {
			return nil, fmt.Errorf("%w: %s", ErrSlotIntegrity, updated.Slot)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit apply: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	states := make([]string, 0, len(filter.States))
	for _, st := range filter.States {
		states = append(states, string(st))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR patient_id = $1)
		  AND ($2 = '' OR doctor_id = $2)
		  AND (cardinality($3::text[]) = 0 OR state = ANY($3))
		ORDER BY starts_at
		LIMIT $4
	`, filter.PatientID, filter.DoctorID, states, limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	return collectAppointments(rows)
}

func (s *PostgresStore) ListExpiring(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE state IN ('reserved', 'payment_pending') AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list expiring: %w", err)
	}
	return collectAppointments(rows)
}

func (s *PostgresStore) ListEnded(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE state = 'confirmed' AND ends_at <= $1
		ORDER BY ends_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list ended: %w", err)
	}
	return collectAppointments(rows)
}

func (s *PostgresStore) GetSlot(ctx context.Context, doctorID string, ref SlotRef) (*Slot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT doctor_id, slot_date, start_time, end_time, status, appointment_id, updated_at
		FROM slots
		WHERE doctor_id = $1 AND slot_date = $2 AND start_time = $3 AND end_time = $4
	`, doctorID, ref.Date, ref.Start, ref.End)
	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: load slot: %w", err)
	}
	return slot, nil
}

func (s *PostgresStore) ListSlots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doctor_id, slot_date, start_time, end_time, status, appointment_id, updated_at
		FROM slots
		WHERE doctor_id = $1 AND slot_date = $2
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("appointments: list slots: %w", err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan slot: %w", err)
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

func (s *PostgresStore) PublishSlots(ctx context.Context, doctorID string, refs []SlotRef) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("appointments: begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	created := 0
	for _, ref := range refs {
		ct, err := tx.Exec(ctx, `
			INSERT INTO slots (doctor_id, slot_date, start_time, end_time, status, updated_at)
			VALUES ($1, $2, $3, $4, 'free', $5)
			ON CONFLICT DO NOTHING
		`, doctorID, ref.Date, ref.Start, ref.End, now)
		if err != nil {
			return 0, fmt.Errorf("appointments: publish slot %s: %w", ref, err)
		}
		created += int(ct.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("appointments: commit publish: %w", err)
	}
	return created, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, *appt)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		appt                            Appointment
		state                           string
		gateway, orderRef, cancelReason pgtype.Text
	)
	err := row.Scan(
		&appt.ID, &appt.PatientID, &appt.DoctorID, &appt.HospitalID,
		&appt.Slot.Date, &appt.Slot.Start, &appt.Slot.End,
		&appt.StartsAt, &appt.EndsAt, &appt.AmountDue, &appt.Currency, &state,
		&gateway, &orderRef, &appt.ExpiresAt, &cancelReason,
		&appt.Version, &appt.CreatedAt, &appt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	appt.State = State(state)
	appt.Gateway = Gateway(gateway.String)
	appt.OrderRef = orderRef.String
	appt.CancelReason = cancelReason.String
	return &appt, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var (
		slot   Slot
		status string
		holder pgtype.UUID
	)
	if err := row.Scan(&slot.DoctorID, &slot.Ref.Date, &slot.Ref.Start, &slot.Ref.End, &status, &holder, &slot.UpdatedAt); err != nil {
		return nil, err
	}
	slot.Status = SlotStatus(status)
	if holder.Valid {
		id := uuid.UUID(holder.Bytes)
		slot.AppointmentID = &id
	}
	return &slot, nil
}

func nullableText(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}
