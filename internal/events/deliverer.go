package events

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

var tracer = otel.Tracer("medicarex.internal.events")

// DeliveryHandler consumes one outbox entry. A nil return marks it delivered.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// DeliveryHandlerFunc adapts a function to DeliveryHandler.
type DeliveryHandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f DeliveryHandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error {
	return f(ctx, entry)
}

// Router dispatches entries to a handler by type. Unknown types are an error so
// they stay visible in the outbox.
type Router struct {
	handlers map[string]DeliveryHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]DeliveryHandler)}
}

// Route registers h for eventType.
func (r *Router) Route(eventType string, h DeliveryHandler) *Router {
	if h != nil {
		r.handlers[eventType] = h
	}
	return r
}

func (r *Router) Handle(ctx context.Context, entry OutboxEntry) error {
	h, ok := r.handlers[entry.Type]
	if !ok {
		return fmt.Errorf("events: no handler for %s", entry.Type)
	}
	return h.Handle(ctx, entry)
}

// Deliverer polls the outbox and hands each pending entry to a handler.
// Failed entries are retried on later polls until MaxDeliveryAttempts, after
// which they are parked for an operator.
type Deliverer struct {
	store     Outbox
	handler   DeliveryHandler
	logger    *logging.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store Outbox, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:     store,
		handler:   handler,
		logger:    logger.With("component", "outbox.deliverer"),
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start drains once immediately, then on every tick until ctx is cancelled.
// A tick keeps draining while full batches go through so a backlog clears
// without waiting for the next interval.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	d.catchUp(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.catchUp(ctx)
		}
	}
}

func (d *Deliverer) catchUp(ctx context.Context) {
	for ctx.Err() == nil {
		if d.Drain(ctx) < int(d.batchSize) {
			return
		}
	}
}

// Drain delivers one batch and returns how many entries were delivered.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		if d.deliver(ctx, entry) {
			delivered++
		}
	}
	return delivered
}

func (d *Deliverer) deliver(ctx context.Context, entry OutboxEntry) bool {
	ctx, span := tracer.Start(ctx, "events.outbox.deliver")
	defer span.End()
	attempt := entry.Attempts + 1
	span.SetAttributes(
		attribute.String("outbox.type", entry.Type),
		attribute.String("outbox.aggregate_id", entry.AggregateID),
		attribute.Int("outbox.attempt", attempt),
	)

	if err := d.handler.Handle(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		if attempt >= MaxDeliveryAttempts {
			d.logger.Error("outbox entry parked", "error", err, "event_id", entry.ID, "type", entry.Type, "attempts", attempt)
		} else {
			d.logger.Warn("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type, "attempt", attempt)
		}
		if markErr := d.store.MarkFailed(ctx, entry.ID, err); markErr != nil {
			d.logger.Error("failed to record outbox failure", "error", markErr, "event_id", entry.ID)
		}
		return false
	}

	ok, err := d.store.MarkDelivered(ctx, entry.ID)
	if err != nil {
		d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
		return false
	}
	if ok {
		d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
	}
	return ok
}
