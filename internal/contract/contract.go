// Package contract implements the ten-state contract lifecycle engine: the
// transition table, actor guards, dependency resolution, and event
// emission. It mirrors the orchestration shape of a workflow engine
// driving a registry of nodes through resolver-derived states, but the
// states themselves, and the guards gating movement between them, are
// particular to tracking a single shell-verified unit of agent work
// rather than a DAG of modules.
package contract

import (
	"time"
)

// State is one of the ten legal lifecycle states of a contract.
type State string

const (
	StatePending     State = "pending"
	StateReady       State = "ready"
	StateClaimed     State = "claimed"
	StateExecuting   State = "executing"
	StateVerifying   State = "verifying"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateRollingBack State = "rolling_back"
	StateRolledBack  State = "rolled_back"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether a state is one of the three sinks from which no
// further transition is ever legal.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateRolledBack, StateCancelled:
		return true
	default:
		return false
	}
}

// Actor identifies the initiator class of a transition. Which actor may
// fire which transition is fixed by the transition table in the engine.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorAgent  Actor = "agent"
	ActorHuman  Actor = "human"
)

// Contract is a tracked unit of agent work.
type Contract struct {
	ID             string
	Task           string
	VerifyCmd      string
	RollbackCmd    string
	State          State
	Owner          string
	DependsOn      []string // ids this contract is blocked by
	Output         string
	FailureReason  string
	CreatedAt      time.Time
	ClaimedAt      *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CancelledAt    *time.Time
	RolledBackAt   *time.Time
}

// Blocks returns the reverse dependency set: the ids of contracts that
// list id in their DependsOn, computed over the given universe. This is
// always derived, never stored.
func Blocks(id string, universe []Contract) []string {
	var out []string
	for _, c := range universe {
		for _, dep := range c.DependsOn {
			if dep == id {
				out = append(out, c.ID)
				break
			}
		}
	}
	return out
}

// clone returns a deep copy so callers can freely mutate a returned
// Contract without corrupting engine-held state.
func (c Contract) clone() Contract {
	out := c
	out.DependsOn = append([]string(nil), c.DependsOn...)
	if c.ClaimedAt != nil {
		t := *c.ClaimedAt
		out.ClaimedAt = &t
	}
	if c.StartedAt != nil {
		t := *c.StartedAt
		out.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	if c.CancelledAt != nil {
		t := *c.CancelledAt
		out.CancelledAt = &t
	}
	if c.RolledBackAt != nil {
		t := *c.RolledBackAt
		out.RolledBackAt = &t
	}
	return out
}
