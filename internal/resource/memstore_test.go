package resource

import "sync"

type memStore struct {
	mu         sync.Mutex
	leases     map[string]map[string]Lease // kind -> name -> lease
	escalation []string
}

func newMemStore() *memStore {
	return &memStore{leases: map[string]map[string]Lease{}}
}

func (m *memStore) GetLease(kind, name string) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[kind][name]
	return l, ok, nil
}

func (m *memStore) GetLeaseByValue(kind string, value int) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leases[kind] {
		if l.Value == value && l.State == LeaseActive {
			return l, true, nil
		}
	}
	return Lease{}, false, nil
}

func (m *memStore) SaveLease(l Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leases[l.Kind] == nil {
		m.leases[l.Kind] = map[string]Lease{}
	}
	m.leases[l.Kind][l.Name] = l
	return nil
}

func (m *memStore) ListActiveLeases(kind string) ([]Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lease
	for _, l := range m.leases[kind] {
		if l.State == LeaseActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) AppendEscalation(kind, code, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalation = append(m.escalation, kind+":"+code+":"+reason)
	return nil
}
