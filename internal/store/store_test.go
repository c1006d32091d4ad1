package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/edhor1608/stead/internal/contract"
	"github.com/edhor1608/stead/internal/resource"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stead.db")
	s, err := Open(path, WithClock(func() time.Time { return time.Unix(0, 0).UTC() }))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestContractRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := contract.Contract{
		ID:        "c1",
		Task:      "write tests",
		VerifyCmd: "go test ./...",
		State:     contract.StateReady,
		DependsOn: []string{"c0"},
		CreatedAt: now,
	}
	if err := s.CreateContract(c); err != nil {
		t.Fatalf("CreateContract: %v", err)
	}

	got, ok, err := s.GetContract("c1")
	if err != nil || !ok {
		t.Fatalf("GetContract: ok=%v err=%v", ok, err)
	}
	if got.Task != c.Task || got.State != contract.StateReady || len(got.DependsOn) != 1 || got.DependsOn[0] != "c0" {
		t.Errorf("round-tripped contract mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}

	claimedAt := now.Add(time.Minute)
	got.State = contract.StateClaimed
	got.Owner = "agent-1"
	got.ClaimedAt = &claimedAt
	if err := s.SaveContract(got); err != nil {
		t.Fatalf("SaveContract: %v", err)
	}

	reloaded, ok, err := s.GetContract("c1")
	if err != nil || !ok {
		t.Fatalf("GetContract after save: ok=%v err=%v", ok, err)
	}
	if reloaded.State != contract.StateClaimed || reloaded.Owner != "agent-1" {
		t.Errorf("reloaded contract = %+v", reloaded)
	}
	if reloaded.ClaimedAt == nil || !reloaded.ClaimedAt.Equal(claimedAt) {
		t.Errorf("ClaimedAt = %v, want %v", reloaded.ClaimedAt, claimedAt)
	}
}

func TestGetContractMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetContract("nope")
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing contract")
	}
}

func TestListContractsByState(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	mustCreate := func(id string, state contract.State) {
		if err := s.CreateContract(contract.Contract{ID: id, Task: "t", VerifyCmd: "v", State: state, CreatedAt: now}); err != nil {
			t.Fatal(err)
		}
	}
	mustCreate("a", contract.StateReady)
	mustCreate("b", contract.StatePending)
	mustCreate("c", contract.StateReady)

	ready, err := s.ListContractsByState(contract.StateReady)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 2 {
		t.Fatalf("len(ready) = %d, want 2", len(ready))
	}

	all, err := s.ListContracts()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
}

func TestEventSequencingAndStream(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	if err := s.CreateContract(contract.Contract{ID: "c1", Task: "t", VerifyCmd: "v", State: contract.StateReady, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	first, err := s.AppendEvent(contract.Event{Kind: contract.EventTransition, ContractID: "c1", To: contract.StateReady, At: now})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.AppendEvent(contract.Event{Kind: contract.EventTransition, ContractID: "c1", From: contract.StateReady, To: contract.StateClaimed, At: now})
	if err != nil {
		t.Fatal(err)
	}
	if second.Sequence <= first.Sequence {
		t.Fatalf("sequence not increasing: %d then %d", first.Sequence, second.Sequence)
	}

	events, err := s.ListEventsForContract("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}

	tail, err := s.StreamEventsFrom(first.Sequence)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].Sequence != second.Sequence {
		t.Fatalf("StreamEventsFrom(%d) = %+v, want just the second event", first.Sequence, tail)
	}
}

func TestLeaseRoundTripAndEscalation(t *testing.T) {
	s := newTestStore(t)
	lease := resource.Lease{Kind: "endpoint", Name: "api", Owner: "svc-1", Value: 8000, State: resource.LeaseActive}
	if err := s.SaveLease(lease); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetLease("endpoint", "api")
	if err != nil || !ok {
		t.Fatalf("GetLease: ok=%v err=%v", ok, err)
	}
	if got.Value != 8000 || got.Owner != "svc-1" {
		t.Errorf("lease mismatch: %+v", got)
	}

	byValue, ok, err := s.GetLeaseByValue("endpoint", 8000)
	if err != nil || !ok {
		t.Fatalf("GetLeaseByValue: ok=%v err=%v", ok, err)
	}
	if byValue.Name != "api" {
		t.Errorf("GetLeaseByValue name = %q", byValue.Name)
	}

	if err := s.AppendEscalation("endpoint", "endpoint_range_exhausted", "range [8000,8000] exhausted"); err != nil {
		t.Fatal(err)
	}

	lease.State = resource.LeaseReleased
	if err := s.SaveLease(lease); err != nil {
		t.Fatal(err)
	}
	active, err := s.ListActiveLeases("endpoint")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("len(active) = %d, want 0 after release", len(active))
	}
}

func TestModuleToggles(t *testing.T) {
	s := newTestStore(t)
	_, overridden, err := s.ModuleEnabled("session-proxy")
	if err != nil {
		t.Fatal(err)
	}
	if overridden {
		t.Fatal("expected no override before SetModuleEnabled")
	}

	if err := s.SetModuleEnabled("session-proxy", false); err != nil {
		t.Fatal(err)
	}
	enabled, overridden, err := s.ModuleEnabled("session-proxy")
	if err != nil {
		t.Fatal(err)
	}
	if !overridden || enabled {
		t.Errorf("enabled=%v overridden=%v, want false/true", enabled, overridden)
	}
}

func TestOpenRejectsSecondHolderOfSameLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stead.db")
	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected second Open of the same path to fail while the first holds the lock")
	}
}
