package reconcile

import "errors"

var (
	// ErrAmountMismatch is returned when a capture does not match the amount or currency due.
	ErrAmountMismatch = errors.New("reconcile: amount mismatch")
	// ErrUnknownOrder is returned when no appointment carries the event's order reference.
	ErrUnknownOrder = errors.New("reconcile: unknown order")
	// ErrAnomalyNotFound is returned when resolving an anomaly that is missing or already resolved.
	ErrAnomalyNotFound = errors.New("reconcile: anomaly not found")
)
