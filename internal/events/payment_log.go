package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentEventStatus tracks how far the reconciler got with a logged event.
type PaymentEventStatus string

const (
	PaymentEventPending PaymentEventStatus = "pending"
	PaymentEventApplied PaymentEventStatus = "applied"
	PaymentEventFlagged PaymentEventStatus = "flagged"
)

// Settled reports whether the event must not be applied again.
func (s PaymentEventStatus) Settled() bool {
	return s == PaymentEventApplied || s == PaymentEventFlagged
}

// PaymentRecord is the durable copy of one normalized gateway event.
type PaymentRecord struct {
	EventID    string
	Gateway    string
	OrderRef   string
	Kind       string
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

// PaymentEventLog is the append-only, write-ahead log of payment events.
type PaymentEventLog interface {
	// Append stores rec unless its event id is already known. It returns the
	// stored status and whether this call inserted it.
	Append(ctx context.Context, rec PaymentRecord) (PaymentEventStatus, bool, error)
	MarkApplied(ctx context.Context, eventID string) error
	MarkFlagged(ctx context.Context, eventID, reason string) error
}

// PostgresPaymentLog stores payment events in Postgres.
type PostgresPaymentLog struct {
	pool rowQuerier
}

func NewPostgresPaymentLog(pool *pgxpool.Pool) *PostgresPaymentLog {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &PostgresPaymentLog{pool: pool}
}

func newPostgresPaymentLogWithExec(exec rowQuerier) *PostgresPaymentLog {
	if exec == nil {
		panic("events: exec required")
	}
	return &PostgresPaymentLog{pool: exec}
}

func (l *PostgresPaymentLog) Append(ctx context.Context, rec PaymentRecord) (PaymentEventStatus, bool, error) {
	query := `
		INSERT INTO payment_events (event_id, gateway, order_ref, kind, amount, currency, occurred_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (event_id) DO NOTHING
	`
	ct, err := l.pool.Exec(ctx, query, rec.EventID, rec.Gateway, rec.OrderRef, rec.Kind, rec.Amount, rec.Currency, rec.OccurredAt)
	if err != nil {
		return "", false, fmt.Errorf("events: append payment event: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return PaymentEventPending, true, nil
	}

	var status string
	err = l.pool.QueryRow(ctx, `SELECT status FROM payment_events WHERE event_id = $1`, rec.EventID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, fmt.Errorf("events: payment event %s vanished", rec.EventID)
		}
		return "", false, fmt.Errorf("events: load payment event status: %w", err)
	}
	return PaymentEventStatus(status), false, nil
}

func (l *PostgresPaymentLog) MarkApplied(ctx context.Context, eventID string) error {
	return l.mark(ctx, eventID, PaymentEventApplied, "")
}

func (l *PostgresPaymentLog) MarkFlagged(ctx context.Context, eventID, reason string) error {
	return l.mark(ctx, eventID, PaymentEventFlagged, reason)
}

func (l *PostgresPaymentLog) mark(ctx context.Context, eventID string, status PaymentEventStatus, note string) error {
	query := `
		UPDATE payment_events
		SET status = $2, note = NULLIF($3, ''), processed_at = now()
		WHERE event_id = $1
	`
	if _, err := l.pool.Exec(ctx, query, eventID, string(status), note); err != nil {
		return fmt.Errorf("events: mark payment event %s: %w", status, err)
	}
	return nil
}

// MemoryPaymentLog is an in-process PaymentEventLog.
type MemoryPaymentLog struct {
	mu      sync.Mutex
	records map[string]PaymentRecord
	status  map[string]PaymentEventStatus
	notes   map[string]string
}

func NewMemoryPaymentLog() *MemoryPaymentLog {
	return &MemoryPaymentLog{
		records: make(map[string]PaymentRecord),
		status:  make(map[string]PaymentEventStatus),
		notes:   make(map[string]string),
	}
}

func (l *MemoryPaymentLog) Append(ctx context.Context, rec PaymentRecord) (PaymentEventStatus, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if status, ok := l.status[rec.EventID]; ok {
		return status, false, nil
	}
	l.records[rec.EventID] = rec
	l.status[rec.EventID] = PaymentEventPending
	return PaymentEventPending, true, nil
}

func (l *MemoryPaymentLog) MarkApplied(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status[eventID] = PaymentEventApplied
	return nil
}

func (l *MemoryPaymentLog) MarkFlagged(ctx context.Context, eventID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status[eventID] = PaymentEventFlagged
	l.notes[eventID] = reason
	return nil
}

// Status returns the stored status of eventID.
func (l *MemoryPaymentLog) Status(eventID string) (PaymentEventStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.status[eventID]
	return s, ok
}

// Len is the number of distinct events logged.
func (l *MemoryPaymentLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
