package appointments

import "fmt"

// Event drives a lifecycle transition.
type Event string

const (
	EventReserve       Event = "reserve"
	EventCreateOrder   Event = "create_order"
	EventCapture       Event = "capture"
	EventPaymentFailed Event = "payment_failed"
	EventExpire        Event = "expire"
	EventCancel        Event = "cancel"
	EventRefundIssued  Event = "refund_issued"
	EventComplete      Event = "complete"
)

type edge struct {
	from  State
	event Event
}

var transitions = map[edge]State{
	{StateRequested, EventReserve}:            StateReserved,
	{StateReserved, EventCreateOrder}:         StatePaymentPending,
	{StatePaymentPending, EventCapture}:       StateConfirmed,
	{StatePaymentPending, EventPaymentFailed}: StateReserved,
	{StateReserved, EventExpire}:              StateExpired,
	{StatePaymentPending, EventExpire}:        StateExpired,
	{StateRequested, EventCancel}:             StateCancelled,
	{StateReserved, EventCancel}:              StateCancelled,
	{StatePaymentPending, EventCancel}:        StateCancelled,
	{StateConfirmed, EventCancel}:             StateRefundPending,
	{StateRefundPending, EventRefundIssued}:   StateRefunded,
	{StateConfirmed, EventComplete}:           StateCompleted,
}

// Next returns the state reached from `from` on ev.
func Next(from State, ev Event) (State, error) {
	if from.Terminal() {
		return "", fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	to, ok := transitions[edge{from, ev}]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// SlotStatusFor is the slot tag an appointment in s imposes on its slot.
func SlotStatusFor(s State) SlotStatus {
	switch s {
	case StateRequested, StateReserved, StatePaymentPending:
		return SlotHeld
	case StateConfirmed:
		return SlotBooked
	}
	return SlotFree
}
