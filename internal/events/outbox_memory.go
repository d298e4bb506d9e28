package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOutbox is an in-process Outbox for local runs and tests.
type MemoryOutbox struct {
	mu        sync.Mutex
	entries   map[uuid.UUID]*OutboxEntry
	delivered map[uuid.UUID]bool
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{
		entries:   make(map[uuid.UUID]*OutboxEntry),
		delivered: make(map[uuid.UUID]bool),
	}
}

func (o *MemoryOutbox) Insert(ctx context.Context, aggregateID, eventType string, payload any) (uuid.UUID, error) {
	id := uuid.New()
	if _, err := o.InsertOnce(ctx, id, aggregateID, eventType, payload); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (o *MemoryOutbox) InsertOnce(ctx context.Context, id uuid.UUID, aggregateID, eventType string, payload any) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("events: marshal payload: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.entries[id]; exists {
		return false, nil
	}
	o.entries[id] = &OutboxEntry{
		ID:          id,
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}
	return true, nil
}

func (o *MemoryOutbox) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxEntry
	for id, entry := range o.entries {
		if o.delivered[id] || entry.Attempts >= MaxDeliveryAttempts {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (o *MemoryOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[id]; !ok || o.delivered[id] {
		return false, nil
	}
	o.delivered[id] = true
	return true, nil
}

func (o *MemoryOutbox) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.entries[id]; ok {
		entry.Attempts++
	}
	return nil
}

// Entries returns every stored entry of eventType, delivered or not.
func (o *MemoryOutbox) Entries(eventType string) []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxEntry
	for _, entry := range o.entries {
		if eventType == "" || entry.Type == eventType {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
