package contract

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/edhor1608/stead/internal/steaderr"
)

// Engine coordinates contract transitions against a Store, enforcing the
// actor guards and emitting the transition/escalation events those
// transitions produce. Construction follows a common functional-option
// shape.
type Engine struct {
	store         Store
	clock         func() time.Time
	shell         ShellRunner
	verifyTimeout time.Duration
	workspaceRoot string
}

// Option customizes Engine construction.
type Option func(*Engine)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithShellRunner overrides how verify/rollback commands are executed.
func WithShellRunner(runner ShellRunner) Option {
	return func(e *Engine) {
		if runner != nil {
			e.shell = runner
		}
	}
}

// WithVerifyTimeout bounds how long a verify/rollback shell command may
// run before the engine reports it as a timed-out failure.
func WithVerifyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.verifyTimeout = d
	}
}

// WithWorkspaceRoot sets the cwd verify/rollback shell commands run in.
func WithWorkspaceRoot(root string) Option {
	return func(e *Engine) {
		e.workspaceRoot = root
	}
}

// New wires a contract engine to its persistence store.
func New(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("contract: store is required")
	}
	e := &Engine{
		store: store,
		clock: time.Now,
		shell: NewExecShellRunner(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// Create validates the dependency graph, assigns an id, and lands the new
// contract in Ready (no deps) or Pending (has deps).
func (e *Engine) Create(task, verifyCmd, rollbackCmd string, dependsOn []string) (Contract, error) {
	if task == "" {
		return Contract{}, steaderr.NewInvalidPayload("task", "must not be empty")
	}
	if verifyCmd == "" {
		return Contract{}, steaderr.NewInvalidPayload("verify", "must not be empty")
	}
	existing, err := e.store.ListContracts()
	if err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	for _, dep := range dependsOn {
		if _, ok := findContract(existing, dep); !ok {
			return Contract{}, steaderr.NewInvalidPayload("depends_on", fmt.Sprintf("unknown contract %q", dep))
		}
	}
	id := uuid.NewString()
	if err := checkAcyclic(id, dependsOn, existing); err != nil {
		return Contract{}, err
	}

	state := StateReady
	if len(dependsOn) > 0 {
		state = StatePending
	}
	c := Contract{
		ID:          id,
		Task:        task,
		VerifyCmd:   verifyCmd,
		RollbackCmd: rollbackCmd,
		State:       state,
		DependsOn:   append([]string(nil), dependsOn...),
		CreatedAt:   e.now(),
	}
	if err := e.store.CreateContract(c); err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if _, err := e.appendEvent(EventTransition, id, "", state, ActorSystem, ""); err != nil {
		return Contract{}, err
	}
	return c.clone(), nil
}

// Get returns a single contract by id.
func (e *Engine) Get(id string) (Contract, error) {
	c, ok, err := e.store.GetContract(id)
	if err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if !ok {
		return Contract{}, steaderr.NewNotFound("contract", id)
	}
	return c.clone(), nil
}

// List returns contracts matching filter, ordered by id for determinism.
func (e *Engine) List(filter ListFilter) ([]Contract, error) {
	var (
		out []Contract
		err error
	)
	if len(filter.States) == 0 {
		out, err = e.store.ListContracts()
	} else {
		out, err = e.store.ListContractsByState(filter.States...)
	}
	if err != nil {
		return nil, steaderr.NewStorageError(err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	clones := make([]Contract, len(out))
	for i, c := range out {
		clones[i] = c.clone()
	}
	return clones, nil
}

// StreamEventsFrom returns every event with a sequence strictly greater than
// cursor, in sequence order, for cursor-based event replay.
func (e *Engine) StreamEventsFrom(cursor uint64) ([]Event, error) {
	events, err := e.store.StreamEventsFrom(cursor)
	if err != nil {
		return nil, steaderr.NewStorageError(err)
	}
	return events, nil
}

// validateActor rejects anything other than the three fixed actor kinds;
// it guards against a caller-supplied actor string landing unchecked in
// the event log.
func validateActor(a Actor) *steaderr.Error {
	switch a {
	case ActorSystem, ActorAgent, ActorHuman:
		return nil
	default:
		return steaderr.NewInvalidPayload("actor", fmt.Sprintf("unknown actor %q", a))
	}
}

// Claim moves Ready -> Claimed, recording the owner. actor records who
// initiated the claim (agent vs. human) in the event log.
func (e *Engine) Claim(id, owner string, actor Actor) (Contract, error) {
	if owner == "" {
		return Contract{}, steaderr.NewInvalidPayload("owner", "must not be empty")
	}
	if serr := validateActor(actor); serr != nil {
		return Contract{}, serr
	}
	return e.transition(id, StateReady, StateClaimed, actor, "", func(c *Contract) *steaderr.Error {
		now := e.now()
		c.Owner = owner
		c.ClaimedAt = &now
		return nil
	})
}

// Unclaim moves Claimed -> Ready, requiring the caller to be the current owner.
func (e *Engine) Unclaim(id, caller string) (Contract, error) {
	return e.transitionOwned(id, StateClaimed, StateReady, caller, func(c *Contract) *steaderr.Error {
		c.Owner = ""
		c.ClaimedAt = nil
		return nil
	})
}

// Start moves Claimed -> Executing, requiring the caller to be the current owner.
func (e *Engine) Start(id, caller string) (Contract, error) {
	return e.transitionOwned(id, StateClaimed, StateExecuting, caller, func(c *Contract) *steaderr.Error {
		now := e.now()
		c.StartedAt = &now
		return nil
	})
}

// Cancel moves Ready/Claimed/Executing -> Cancelled. Verifying/RollingBack
// reject cancellation outright, since both already have a shell command
// in flight. actor records who requested the cancellation.
func (e *Engine) Cancel(id string, actor Actor) (Contract, error) {
	if serr := validateActor(actor); serr != nil {
		return Contract{}, serr
	}
	c, ok, err := e.store.GetContract(id)
	if err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if !ok {
		return Contract{}, steaderr.NewNotFound("contract", id)
	}
	switch c.State {
	case StateReady, StateClaimed, StateExecuting:
	default:
		return Contract{}, steaderr.NewInvalidTransition(string(c.State), string(StateCancelled))
	}
	from := c.State
	next := c.clone()
	now := e.now()
	next.State = StateCancelled
	next.CancelledAt = &now
	if err := e.store.SaveContract(next); err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if _, err := e.appendEvent(EventTransition, id, from, StateCancelled, actor, ""); err != nil {
		return Contract{}, err
	}
	return next.clone(), nil
}

// Verify runs the verify command synchronously: Executing -> Verifying ->
// {Completed, Failed} in a single call. Both sub-transitions are still
// recorded as separate events so the Verifying state is visible to
// supervision projections reading the event log.
func (e *Engine) Verify(ctx context.Context, id, caller string) (Contract, error) {
	c, ok, err := e.store.GetContract(id)
	if err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if !ok {
		return Contract{}, steaderr.NewNotFound("contract", id)
	}
	if c.State != StateExecuting {
		return Contract{}, steaderr.NewInvalidTransition(string(c.State), string(StateVerifying))
	}
	if c.Owner != caller {
		return Contract{}, steaderr.NewNotOwner(caller)
	}

	verifying := c.clone()
	verifying.State = StateVerifying
	if err := e.store.SaveContract(verifying); err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if _, err := e.appendEvent(EventTransition, id, StateExecuting, StateVerifying, ActorAgent, ""); err != nil {
		return Contract{}, err
	}

	result := e.shell.Run(ctx, e.workspaceRoot, c.VerifyCmd, e.verifyTimeout)

	final := verifying.clone()
	now := e.now()
	var toState State
	var reason string
	switch {
	case result.LaunchErr != nil:
		toState = StateFailed
		reason = "shell launch failed: " + result.LaunchErr.Error()
	case result.TimedOut:
		toState = StateFailed
		reason = fmt.Sprintf("verification timed out after %s", e.verifyTimeout)
	case result.ExitCode == 0:
		toState = StateCompleted
	default:
		toState = StateFailed
		reason = fmt.Sprintf("verify command exited %d", result.ExitCode)
	}
	final.State = toState
	final.Output = result.Output
	final.CompletedAt = &now
	if toState == StateFailed {
		final.FailureReason = reason
	}
	if err := e.store.SaveContract(final); err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if _, err := e.appendEvent(EventTransition, id, StateVerifying, toState, ActorSystem, reason); err != nil {
		return Contract{}, err
	}

	if toState == StateCompleted {
		if err := e.resolveDependents(id); err != nil {
			return Contract{}, err
		}
	}

	return final.clone(), nil
}

// Rollback runs the rollback command: Failed -> RollingBack -> RolledBack.
// The done transition fires unconditionally on the command's exit; the
// exit code (or launch/timeout failure) and the command's output are
// recorded in the contract's Output for operator visibility. actor
// records who initiated the rollback; the RollingBack -> RolledBack
// completion event is always attributed to the system, since it fires
// unconditionally on the shell command's own exit rather than on request
// from actor.
func (e *Engine) Rollback(ctx context.Context, id, caller string, actor Actor) (Contract, error) {
	if serr := validateActor(actor); serr != nil {
		return Contract{}, serr
	}
	c, ok, err := e.store.GetContract(id)
	if err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if !ok {
		return Contract{}, steaderr.NewNotFound("contract", id)
	}
	if c.State != StateFailed {
		return Contract{}, steaderr.NewInvalidTransition(string(c.State), string(StateRollingBack))
	}
	if c.Owner != caller {
		return Contract{}, steaderr.NewNotOwner(caller)
	}
	if c.RollbackCmd == "" {
		return Contract{}, steaderr.NewNoRollbackCommand(id)
	}

	rolling := c.clone()
	rolling.State = StateRollingBack
	if err := e.store.SaveContract(rolling); err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if _, err := e.appendEvent(EventTransition, id, StateFailed, StateRollingBack, actor, ""); err != nil {
		return Contract{}, err
	}

	result := e.shell.Run(ctx, e.workspaceRoot, c.RollbackCmd, e.verifyTimeout)

	final := rolling.clone()
	now := e.now()
	final.State = StateRolledBack
	final.RolledBackAt = &now
	status := fmt.Sprintf("rollback command exited %d", result.ExitCode)
	switch {
	case result.LaunchErr != nil:
		status = "rollback shell launch failed: " + result.LaunchErr.Error()
	case result.TimedOut:
		status = fmt.Sprintf("rollback timed out after %s", e.verifyTimeout)
	}
	if result.Output != "" {
		status += "\n" + result.Output
	}
	final.Output = status
	if err := e.store.SaveContract(final); err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if _, err := e.appendEvent(EventTransition, id, StateRollingBack, StateRolledBack, ActorSystem, ""); err != nil {
		return Contract{}, err
	}
	return final.clone(), nil
}

// resolveDependents implements an O(waiting) dependency resolver: on each
// Completed transition, scan Pending contracts whose blocked-by set
// contains the just-completed id, and move any whose full dependency set
// is now Completed into Ready. Resulting events are appended before this
// call returns, which — because the daemon's single writer processes
// commands one at a time — guarantees they land after the triggering
// event and before any subsequent client-initiated transition.
func (e *Engine) resolveDependents(completedID string) error {
	pending, err := e.store.ListContractsByState(StatePending)
	if err != nil {
		return steaderr.NewStorageError(err)
	}
	if len(pending) == 0 {
		return nil
	}
	all, err := e.store.ListContracts()
	if err != nil {
		return steaderr.NewStorageError(err)
	}
	byID := make(map[string]Contract, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	for _, p := range pending {
		dependsOnCompleted := false
		for _, dep := range p.DependsOn {
			if dep == completedID {
				dependsOnCompleted = true
				break
			}
		}
		if !dependsOnCompleted {
			continue
		}
		if !allDepsCompleted(p, byID) {
			continue
		}
		next := p.clone()
		next.State = StateReady
		if err := e.store.SaveContract(next); err != nil {
			return steaderr.NewStorageError(err)
		}
		if _, err := e.appendEvent(EventTransition, p.ID, StatePending, StateReady, ActorSystem, "deps-met"); err != nil {
			return err
		}
	}
	return nil
}

func allDepsCompleted(c Contract, byID map[string]Contract) bool {
	for _, dep := range c.DependsOn {
		d, ok := byID[dep]
		if !ok || d.State != StateCompleted {
			return false
		}
	}
	return true
}

// transition performs a simple unowned state check + mutation + persist +
// event sequence shared by Claim.
func (e *Engine) transition(id string, from, to State, actor Actor, reason string, mutate func(*Contract) *steaderr.Error) (Contract, error) {
	c, ok, err := e.store.GetContract(id)
	if err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if !ok {
		return Contract{}, steaderr.NewNotFound("contract", id)
	}
	if c.State != from {
		return Contract{}, steaderr.NewInvalidTransition(string(c.State), string(to))
	}
	next := c.clone()
	if serr := mutate(&next); serr != nil {
		return Contract{}, serr
	}
	next.State = to
	if err := e.store.SaveContract(next); err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if _, err := e.appendEvent(EventTransition, id, from, to, actor, reason); err != nil {
		return Contract{}, err
	}
	return next.clone(), nil
}

// transitionOwned is like transition but additionally requires the caller
// to match the contract's current owner (the unclaim/start guard; Verify
// and Rollback apply the same owner check inline).
func (e *Engine) transitionOwned(id string, from, to State, caller string, mutate func(*Contract) *steaderr.Error) (Contract, error) {
	c, ok, err := e.store.GetContract(id)
	if err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if !ok {
		return Contract{}, steaderr.NewNotFound("contract", id)
	}
	if c.State != from {
		return Contract{}, steaderr.NewInvalidTransition(string(c.State), string(to))
	}
	if c.Owner != caller {
		return Contract{}, steaderr.NewNotOwner(caller)
	}
	next := c.clone()
	if serr := mutate(&next); serr != nil {
		return Contract{}, serr
	}
	next.State = to
	if err := e.store.SaveContract(next); err != nil {
		return Contract{}, steaderr.NewStorageError(err)
	}
	if _, err := e.appendEvent(EventTransition, id, from, to, ActorAgent, ""); err != nil {
		return Contract{}, err
	}
	return next.clone(), nil
}

func (e *Engine) appendEvent(kind EventKind, contractID string, from, to State, actor Actor, reason string) (Event, error) {
	ev := Event{
		Kind:       kind,
		ContractID: contractID,
		From:       from,
		To:         to,
		Actor:      actor,
		At:         e.now(),
		Reason:     reason,
	}
	saved, err := e.store.AppendEvent(ev)
	if err != nil {
		return Event{}, steaderr.NewStorageError(err)
	}
	return saved, nil
}

func findContract(all []Contract, id string) (Contract, bool) {
	for _, c := range all {
		if c.ID == id {
			return c, true
		}
	}
	return Contract{}, false
}

// checkAcyclic walks the dependency graph rooted at the new id's declared
// dependencies to ensure adding this contract cannot introduce a cycle.
// Since the new id does not exist yet, a cycle can only arise if one of
// its dependencies (transitively) depends on it — impossible for a fresh
// id — so in practice this guards against self-reference and malformed
// dependency lists rather than deep cycles; it walks the existing DAG
// defensively in case a future Create variant allows retrofitting
// dependencies onto existing contracts.
func checkAcyclic(newID string, dependsOn []string, existing []Contract) error {
	byID := make(map[string]Contract, len(existing))
	for _, c := range existing {
		byID[c.ID] = c
	}
	visited := map[string]bool{}
	var walk func(id string) error
	walk = func(id string) error {
		if id == newID {
			return steaderr.NewCircularDependency(newID)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		c, ok := byID[id]
		if !ok {
			return nil
		}
		for _, dep := range c.DependsOn {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, dep := range dependsOn {
		if dep == newID {
			return steaderr.NewCircularDependency(newID)
		}
		if err := walk(dep); err != nil {
			return err
		}
	}
	return nil
}
