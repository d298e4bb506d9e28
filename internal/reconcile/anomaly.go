package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnomalyKind classifies a payment signal that needs manual review.
type AnomalyKind string

const (
	AnomalyAmountMismatch   AnomalyKind = "amount_mismatch"
	AnomalyUnknownOrder     AnomalyKind = "unknown_order"
	AnomalyLateCapture      AnomalyKind = "late_capture"
	AnomalyUnexpectedRefund AnomalyKind = "unexpected_refund"
)

// Anomaly is one entry of the manual review queue.
type Anomaly struct {
	ID             uuid.UUID   `json:"id"`
	Kind           AnomalyKind `json:"kind"`
	EventID        string      `json:"event_id"`
	Gateway        string      `json:"gateway"`
	OrderRef       string      `json:"order_ref"`
	AppointmentID  *uuid.UUID  `json:"appointment_id,omitempty"`
	ExpectedAmount int64       `json:"expected_amount"`
	ReceivedAmount int64       `json:"received_amount"`
	Currency       string      `json:"currency"`
	Detail         string      `json:"detail"`
	CreatedAt      time.Time   `json:"created_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	Resolution     string      `json:"resolution,omitempty"`
}

// AnomalyStore persists the review queue. Recording the same (kind, event) twice
// keeps the first entry.
type AnomalyStore interface {
	Record(ctx context.Context, a Anomaly) error
	ListOpen(ctx context.Context, limit int) ([]Anomaly, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution string, at time.Time) error
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresAnomalyStore keeps anomalies in the anomalies table.
type PostgresAnomalyStore struct {
	pool rowQuerier
}

func NewPostgresAnomalyStore(pool *pgxpool.Pool) *PostgresAnomalyStore {
	if pool == nil {
		panic("reconcile: pgx pool required")
	}
	return &PostgresAnomalyStore{pool: pool}
}

func newPostgresAnomalyStoreWithExec(exec rowQuerier) *PostgresAnomalyStore {
	if exec == nil {
		panic("reconcile: exec required")
	}
	return &PostgresAnomalyStore{pool: exec}
}

func (s *PostgresAnomalyStore) Record(ctx context.Context, a Anomaly) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	var apptID pgtype.UUID
	if a.AppointmentID != nil {
		apptID = pgtype.UUID{Bytes: *a.AppointmentID, Valid: true}
	}
	query := `
		INSERT INTO anomalies (id, kind, event_id, gateway, order_ref, appointment_id,
			expected_amount, received_amount, currency, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (kind, event_id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, a.ID, string(a.Kind), a.EventID, a.Gateway, a.OrderRef, apptID,
		a.ExpectedAmount, a.ReceivedAmount, a.Currency, a.Detail, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("reconcile: record anomaly: %w", err)
	}
	return nil
}

func (s *PostgresAnomalyStore) ListOpen(ctx context.Context, limit int) ([]Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, kind, event_id, gateway, order_ref, appointment_id,
			expected_amount, received_amount, currency, detail, created_at
		FROM anomalies
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list anomalies: %w", err)
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var a Anomaly
		var kind string
		var apptID pgtype.UUID
		if err := rows.Scan(&a.ID, &kind, &a.EventID, &a.Gateway, &a.OrderRef, &apptID,
			&a.ExpectedAmount, &a.ReceivedAmount, &a.Currency, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("reconcile: scan anomaly: %w", err)
		}
		a.Kind = AnomalyKind(kind)
		if apptID.Valid {
			id := uuid.UUID(apptID.Bytes)
			a.AppointmentID = &id
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresAnomalyStore) Resolve(ctx context.Context, id uuid.UUID, resolution string, at time.Time) error {
	query := `
		UPDATE anomalies
		SET resolved_at = $2, resolution = $3
		WHERE id = $1 AND resolved_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, id, at, resolution)
	if err != nil {
		return fmt.Errorf("reconcile: resolve anomaly: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAnomalyNotFound
	}
	return nil
}

// MemoryAnomalyStore is an in-process AnomalyStore.
type MemoryAnomalyStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Anomaly
	keys  map[string]uuid.UUID
}

func NewMemoryAnomalyStore() *MemoryAnomalyStore {
	return &MemoryAnomalyStore{items: make(map[uuid.UUID]*Anomaly), keys: make(map[string]uuid.UUID)}
}

func (s *MemoryAnomalyStore) Record(ctx context.Context, a Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(a.Kind) + "|" + a.EventID
	if _, ok := s.keys[key]; ok {
		return nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.keys[key] = a.ID
	s.items[a.ID] = &a
	return nil
}

func (s *MemoryAnomalyStore) ListOpen(ctx context.Context, limit int) ([]Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Anomaly
	for _, a := range s.items {
		if a.ResolvedAt == nil {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryAnomalyStore) Resolve(ctx context.Context, id uuid.UUID, resolution string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok || a.ResolvedAt != nil {
		return ErrAnomalyNotFound
	}
	a.ResolvedAt = &at
	a.Resolution = resolution
	return nil
}
