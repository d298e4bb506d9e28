package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when a client or webhook signature does not verify.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrGatewayUnavailable marks transient gateway failures that may be retried.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrClientConfirmationUnsupported is returned by gateways that only confirm via webhook.
	ErrClientConfirmationUnsupported = errors.New("payments: client confirmation not supported by gateway")
	// ErrPaymentNotSettled means the gateway has not yet captured or failed the payment.
	ErrPaymentNotSettled = errors.New("payments: payment not settled")
	// ErrUnknownGateway is returned for a gateway name with no configured adapter.
	ErrUnknownGateway = errors.New("payments: unknown gateway")
)

// APIError is a non-retryable gateway rejection (4xx).
type APIError struct {
	Gateway string
	Status  int
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payments: %s api status %d: %s", e.Gateway, e.Status, e.Body)
}
