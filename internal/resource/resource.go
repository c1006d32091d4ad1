// Package resource implements a generic named-lease registry: deterministic
// next-free negotiation within a bounded range, idempotent re-claim, and
// explicit escalation on exhaustion. The endpoint broker
// (internal/resource/endpoint) is a thin specialization that adds the
// localhost URL shape and the DNS-label naming policy on top of this
// generic broker.
//
// The mutex-guarded registry-of-leases shape follows the same pattern as a
// sync.RWMutex-guarded map with factory lookup, adapted from "named
// factories" to "named resource leases."
package resource

import (
	"sort"
	"sync"

	"github.com/edhor1608/stead/internal/steaderr"
)

// LeaseState is active or released.
type LeaseState string

const (
	LeaseActive   LeaseState = "active"
	LeaseReleased LeaseState = "released"
)

// Lease is a claim on a named resource of a given kind, holding an integer
// value (a port, in the endpoint specialization; any other bounded integer
// resource in the generic case).
type Lease struct {
	Kind  string
	Name  string
	Owner string
	Value int
	State LeaseState
}

func (l Lease) clone() Lease { return l }

// Range is the inclusive [Low, High] bound leases of a kind negotiate
// within.
type Range struct {
	Low  int
	High int
}

// Store persists the lease set. The production implementation
// (internal/store) backs this with the workspace's sqlite file so leases
// share the store's transactional guarantees.
type Store interface {
	GetLease(kind, name string) (Lease, bool, error)
	GetLeaseByValue(kind string, value int) (Lease, bool, error)
	SaveLease(l Lease) error
	ListActiveLeases(kind string) ([]Lease, error)
	AppendEscalation(kind, code, reason string) error
}

// Broker arbitrates named leases of a single kind within a fixed range.
type Broker struct {
	mu    sync.Mutex
	kind  string
	rng   Range
	store Store
}

// New constructs a broker for the given resource kind and range.
func New(kind string, rng Range, store Store) *Broker {
	return &Broker{kind: kind, rng: rng, store: store}
}

// Claim negotiates a lease: idempotent re-claim when the same owner
// re-claims name with no requested value (0) or with the lease's current
// value, otherwise an in-range unoccupied requestedValue is honored
// outright, and any other case negotiates the lowest free in-range value,
// escalating when the range is exhausted.
func (b *Broker) Claim(name string, requestedValue int, owner string) (Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if owner == "" {
		return Lease{}, steaderr.NewInvalidPayload("owner", "must not be empty")
	}

	existing, ok, err := b.store.GetLease(b.kind, name)
	if err != nil {
		return Lease{}, steaderr.NewStorageError(err)
	}
	if ok && existing.State == LeaseActive {
		if existing.Owner == owner && (requestedValue == 0 || existing.Value == requestedValue) {
			return existing.clone(), nil
		}
		return Lease{}, steaderr.NewConflict("an active lease already exists for " + name)
	}

	value, err := b.findFree(requestedValue)
	if err != nil {
		_ = b.store.AppendEscalation(b.kind, string(steaderr.EndpointRangeExhausted), err.Error())
		return Lease{}, steaderr.NewEndpointRangeExhausted(b.rng.Low, b.rng.High)
	}

	lease := Lease{Kind: b.kind, Name: name, Owner: owner, Value: value, State: LeaseActive}
	if err := b.store.SaveLease(lease); err != nil {
		return Lease{}, steaderr.NewStorageError(err)
	}
	return lease, nil
}

// findFree honors requestedValue only as an exact preference: if it is
// in-range and unoccupied, it wins outright. Otherwise the assigned value
// is always the lowest unoccupied value in [rng.Low, rng.High] — the
// broker's determinism guarantee holds for every claim, not only ones
// made with no preference, so a taken requestedValue never causes a free
// lower port to be skipped in favor of a higher one.
func (b *Broker) findFree(requestedValue int) (int, error) {
	if requestedValue >= b.rng.Low && requestedValue <= b.rng.High {
		if _, taken, err := b.store.GetLeaseByValue(b.kind, requestedValue); err != nil {
			return 0, err
		} else if !taken {
			return requestedValue, nil
		}
	}
	for v := b.rng.Low; v <= b.rng.High; v++ {
		if _, taken, err := b.store.GetLeaseByValue(b.kind, v); err != nil {
			return 0, err
		} else if !taken {
			return v, nil
		}
	}
	return 0, steaderr.NewEndpointRangeExhausted(b.rng.Low, b.rng.High)
}

// Release gives up a held lease.
func (b *Broker) Release(name, owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok, err := b.store.GetLease(b.kind, name)
	if err != nil {
		return steaderr.NewStorageError(err)
	}
	if !ok || existing.State != LeaseActive {
		return steaderr.NewNotFound("lease", name)
	}
	if existing.Owner != owner {
		return steaderr.NewNotOwner(owner)
	}
	existing.State = LeaseReleased
	if err := b.store.SaveLease(existing); err != nil {
		return steaderr.NewStorageError(err)
	}
	return nil
}

// List returns active leases of this kind, ordered by name ascending.
func (b *Broker) List() ([]Lease, error) {
	leases, err := b.store.ListActiveLeases(b.kind)
	if err != nil {
		return nil, steaderr.NewStorageError(err)
	}
	sort.Slice(leases, func(i, j int) bool { return leases[i].Name < leases[j].Name })
	return leases, nil
}
