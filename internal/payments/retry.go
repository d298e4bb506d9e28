package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/observability/metrics"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// RetryPolicy bounds how long transient gateway failures are retried.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy retries for up to 30 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      30 * time.Second,
		MaxRetries:      6,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
	)
	var out backoff.BackOff = b
	if p.MaxRetries > 0 {
		out = backoff.WithMaxRetries(out, p.MaxRetries)
	}
	return backoff.WithContext(out, ctx)
}

// RetryingGateway retries the outbound calls of another Gateway while they fail
// with ErrGatewayUnavailable. Rejections and signature failures are returned at once.
type RetryingGateway struct {
	next    Gateway
	policy  RetryPolicy
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

// NewRetryingGateway wraps next with policy.
func NewRetryingGateway(next Gateway, policy RetryPolicy, m *metrics.BookingMetrics, logger *logging.Logger) *RetryingGateway {
	if logger == nil {
		logger = logging.Default()
	}
	if policy.InitialInterval <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &RetryingGateway{next: next, policy: policy, metrics: m, logger: logger}
}

func (g *RetryingGateway) Name() appointments.Gateway { return g.next.Name() }

func (g *RetryingGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	return retryWithData(ctx, g, "create_order", func() (*Order, error) {
		return g.next.CreateOrder(ctx, req)
	})
}

func (g *RetryingGateway) VerifyClientSignature(ctx context.Context, payload ClientPayload) (*PaymentEvent, error) {
	return retryWithData(ctx, g, "verify_client", func() (*PaymentEvent, error) {
		return g.next.VerifyClientSignature(ctx, payload)
	})
}

func (g *RetryingGateway) VerifyWebhookSignature(rawBody []byte, header string) error {
	return g.next.VerifyWebhookSignature(rawBody, header)
}

func (g *RetryingGateway) ParseWebhook(rawBody []byte, headers http.Header) ([]PaymentEvent, error) {
	return g.next.ParseWebhook(rawBody, headers)
}

func (g *RetryingGateway) Refund(ctx context.Context, req RefundRequest) error {
	_, err := retryWithData(ctx, g, "refund", func() (struct{}, error) {
		return struct{}{}, g.next.Refund(ctx, req)
	})
	return err
}

func retryWithData[T any](ctx context.Context, g *RetryingGateway, op string, fn func() (T, error)) (T, error) {
	name := string(g.next.Name())
	attempt := func() (T, error) {
		out, err := fn()
		g.metrics.ObserveGatewayCall(name, op, err)
		if err != nil && !errors.Is(err, ErrGatewayUnavailable) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, wait time.Duration) {
		g.logger.Warn("payment gateway call failed, retrying",
			"gateway", name,
			"operation", op,
			"wait", wait.String(),
			"error", err,
		)
	}
	return backoff.RetryNotifyWithData(attempt, g.policy.backoff(ctx), notify)
}
