package booking

import (
	"context"
	"time"

	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/events"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Expired   int
	Completed int
	Requeued  int
}

// Sweeper expires lapsed holds, completes appointments whose slot has ended,
// and re-queues refund requests for appointments still waiting on a refund.
type Sweeper struct {
	ledger             *appointments.Ledger
	dispatcher         Dispatcher
	logger             *logging.Logger
	expiryInterval     time.Duration
	completionInterval time.Duration
	batchSize          int
}

func NewSweeper(ledger *appointments.Ledger, dispatcher Dispatcher, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		ledger:             ledger,
		dispatcher:         dispatcher,
		logger:             logger.With("component", "sweeper"),
		expiryInterval:     30 * time.Second,
		completionInterval: 5 * time.Minute,
		batchSize:          100,
	}
}

func (s *Sweeper) WithExpiryInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.expiryInterval = d
	}
	return s
}

func (s *Sweeper) WithCompletionInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.completionInterval = d
	}
	return s
}

func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	expiry := time.NewTicker(s.expiryInterval)
	defer expiry.Stop()
	completion := time.NewTicker(s.completionInterval)
	defer completion.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry.C:
			s.ExpireOnce(ctx)
		case <-completion.C:
			s.CompleteOnce(ctx)
			s.RequeueRefunds(ctx)
		}
	}
}

// SweepOnce runs every pass once.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepResult {
	return SweepResult{
		Expired:   s.ExpireOnce(ctx),
		Completed: s.CompleteOnce(ctx),
		Requeued:  s.RequeueRefunds(ctx),
	}
}

// ExpireOnce expires one batch of lapsed holds.
func (s *Sweeper) ExpireOnce(ctx context.Context) int {
	moved, err := s.ledger.ExpireDue(ctx, s.ledger.Now(), s.batchSize)
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
	}
	for i := range moved {
		s.notify(ctx, &moved[i], events.NotifyExpired)
	}
	if len(moved) > 0 {
		s.logger.Info("expired lapsed holds", "count", len(moved))
	}
	return len(moved)
}

// CompleteOnce completes one batch of confirmed appointments whose slot ended.
func (s *Sweeper) CompleteOnce(ctx context.Context) int {
	moved, err := s.ledger.CompleteDue(ctx, s.ledger.Now(), s.batchSize)
	if err != nil {
		s.logger.Error("completion sweep failed", "error", err)
	}
	for i := range moved {
		s.notify(ctx, &moved[i], events.NotifyCompleted)
	}
	if len(moved) > 0 {
		s.logger.Info("completed ended appointments", "count", len(moved))
	}
	return len(moved)
}

// RequeueRefunds queues a refund request for every RefundPending appointment
// that has none yet.
func (s *Sweeper) RequeueRefunds(ctx context.Context) int {
	if s.dispatcher == nil {
		return 0
	}
	pending, err := s.ledger.List(ctx, appointments.ListFilter{
		States: []appointments.State{appointments.StateRefundPending},
		Limit:  s.batchSize,
	})
	if err != nil {
		s.logger.Error("refund sweep failed", "error", err)
		return 0
	}
	requeued := 0
	for i := range pending {
		inserted, err := s.dispatcher.RequestRefund(ctx, &pending[i], pending[i].CancelReason)
		if err != nil {
			s.logger.Error("refund requeue failed", "appointment_id", pending[i].ID, "error", err)
			continue
		}
		if inserted {
			requeued++
		}
	}
	if requeued > 0 {
		s.logger.Warn("re-queued missing refund requests", "count", requeued)
	}
	return requeued
}

func (s *Sweeper) notify(ctx context.Context, appt *appointments.Appointment, kind events.NotificationKind) {
	if s.dispatcher != nil {
		s.dispatcher.Notify(ctx, appt, kind)
	}
}
