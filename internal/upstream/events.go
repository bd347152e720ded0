package upstream

import "brokergateway/internal/codec"

// EventKind discriminates the Event union. A Session's caller reads these
// off a dedicated channel per session, not a shared bus, so one slow
// consumer can't starve another user's events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventApplicationAuthenticated
	EventAccountAuthorized
	EventPositionsUpdated
	EventExecution
	EventSpot
	EventError
	EventDisconnected
)

// Event carries whichever payload matches its Kind; the others are zero.
type Event struct {
	Kind      EventKind
	Reconcile codec.ReconcileRes
	Execution codec.ExecutionEvent
	Spot      codec.SpotEvent
	Err       error
}
