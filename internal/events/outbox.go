package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxEntry represents a pending event.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	Type        string
	Payload     json.RawMessage
	Attempts    int
	CreatedAt   time.Time
}

// Outbox persists events for reliable, at-least-once delivery.
type Outbox interface {
	Insert(ctx context.Context, aggregateID, eventType string, payload any) (uuid.UUID, error)
	// InsertOnce stores the entry under id unless an entry with that id already
	// exists, delivered or not.
	InsertOnce(ctx context.Context, id uuid.UUID, aggregateID, eventType string, payload any) (bool, error)
	FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MaxDeliveryAttempts is how often an entry is tried before it is parked.
const MaxDeliveryAttempts = 10

// OutboxStore is the Postgres outbox.
type OutboxStore struct {
	pool rowQuerier
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool}
}

func newOutboxStoreWithExec(exec rowQuerier) *OutboxStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &OutboxStore{pool: exec}
}

func (s *OutboxStore) Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error) {
	id := uuid.New()
	if _, err := s.InsertOnce(ctx, id, aggregateID, eventType, payload); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *OutboxStore) InsertOnce(ctx context.Context, id uuid.UUID, aggregateID, eventType string, payload any) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("events: marshal payload: %w", err)
	}
	query := `
		INSERT INTO outbox (id, aggregate_id, type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, id, aggregateID, eventType, data)
	if err != nil {
		return false, fmt.Errorf("events: insert outbox: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, type, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $2
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit, MaxDeliveryAttempts)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.AggregateID, &entry.Type, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, id, msg); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}
