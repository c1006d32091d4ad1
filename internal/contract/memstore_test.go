package contract

import (
	"fmt"
	"sync"
)

// memStore is an in-memory Store fake used by engine tests. It is not a
// realistic concurrency model for the real daemon (which serializes all
// writes through a single writer ahead of the store), but it gives the
// engine's transition/guard/resolver logic something deterministic to run
// against without a database.
type memStore struct {
	mu        sync.Mutex
	contracts map[string]Contract
	events    []Event
	nextSeq   uint64
}

func newMemStore() *memStore {
	return &memStore{contracts: map[string]Contract{}}
}

func (m *memStore) CreateContract(c Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[c.ID]; ok {
		return fmt.Errorf("duplicate id %s", c.ID)
	}
	m.contracts[c.ID] = c.clone()
	return nil
}

func (m *memStore) GetContract(id string) (Contract, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return Contract{}, false, nil
	}
	return c.clone(), true, nil
}

func (m *memStore) ListContracts() ([]Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		out = append(out, c.clone())
	}
	return out, nil
}

func (m *memStore) ListContractsByState(states ...State) ([]Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[State]bool{}
	for _, s := range states {
		want[s] = true
	}
	var out []Contract
	for _, c := range m.contracts {
		if want[c.State] {
			out = append(out, c.clone())
		}
	}
	return out, nil
}

func (m *memStore) SaveContract(c Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[c.ID]; !ok {
		return fmt.Errorf("no such contract %s", c.ID)
	}
	m.contracts[c.ID] = c.clone()
	return nil
}

func (m *memStore) AppendEvent(e Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	e.Sequence = m.nextSeq
	m.events = append(m.events, e)
	return e, nil
}

func (m *memStore) ListEventsForContract(id string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.ContractID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) StreamEventsFrom(cursor uint64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Sequence > cursor {
			out = append(out, e)
		}
	}
	return out, nil
}
