package contract

import "time"

// EventKind distinguishes an ordinary transition event from an escalation
// the broker or engine raises as a side effect.
type EventKind string

const (
	EventTransition EventKind = "transition"
	EventEscalation EventKind = "escalation"
)

// Event is an append-only record of one state transition (or escalation).
// Sequence is the single source of ordering across the workspace — it is
// assigned by the store at append time and is never reused or rewritten.
type Event struct {
	Sequence   uint64
	Kind       EventKind
	ContractID string
	From       State
	To         State
	Actor      Actor
	At         time.Time
	Reason     string
	Code       string // escalation error code, e.g. endpoint_range_exhausted
}
