package resource

import (
	"testing"

	"github.com/edhor1608/stead/internal/steaderr"
)

// S4 — endpoint negotiation (here exercised against the generic broker;
// internal/resource/endpoint adds the URL/name-policy layer on top).
func TestClaimNegotiatesNextFreeAndEscalates(t *testing.T) {
	store := newMemStore()
	b := New("endpoint", Range{Low: 8000, High: 8001}, store)

	alpha, err := b.Claim("alpha", 8000, "o1")
	if err != nil {
		t.Fatalf("claim alpha: %v", err)
	}
	if alpha.Value != 8000 {
		t.Fatalf("expected port 8000, got %d", alpha.Value)
	}

	beta, err := b.Claim("beta", 8000, "o2")
	if err != nil {
		t.Fatalf("claim beta: %v", err)
	}
	if beta.Value != 8001 {
		t.Fatalf("expected port 8001, got %d", beta.Value)
	}

	_, err = b.Claim("gamma", 8000, "o3")
	if err == nil {
		t.Fatalf("expected endpoint_range_exhausted")
	}
	se, ok := steaderr.As(err)
	if !ok || se.Code != steaderr.EndpointRangeExhausted {
		t.Fatalf("expected endpoint_range_exhausted, got %v", err)
	}
	if len(store.escalation) != 1 {
		t.Fatalf("expected one escalation event, got %d", len(store.escalation))
	}

	again, err := b.Claim("alpha", 8000, "o1")
	if err != nil {
		t.Fatalf("idempotent re-claim: %v", err)
	}
	if again.Value != alpha.Value || again.Owner != alpha.Owner {
		t.Fatalf("expected identical lease on idempotent re-claim")
	}
}

// A claim for a taken, non-zero requested port must still land on the
// true lowest free port in range, even when that free port sits below
// the requested one — determinism holds regardless of what was requested.
func TestClaimFallsBackToLowestFreeNotNextAboveRequest(t *testing.T) {
	store := newMemStore()
	b := New("endpoint", Range{Low: 8000, High: 8005}, store)

	// Occupy everything except 8000 and 8003.
	if _, err := b.Claim("a", 8001, "o1"); err != nil {
		t.Fatalf("claim a: %v", err)
	}
	if _, err := b.Claim("b", 8002, "o1"); err != nil {
		t.Fatalf("claim b: %v", err)
	}
	if _, err := b.Claim("c", 8004, "o1"); err != nil {
		t.Fatalf("claim c: %v", err)
	}
	if _, err := b.Claim("d", 8005, "o1"); err != nil {
		t.Fatalf("claim d: %v", err)
	}

	// 8002 is taken, so this must fall back to the lowest free port (8000),
	// not the next free port above 8002 (8003).
	e, err := b.Claim("e", 8002, "o2")
	if err != nil {
		t.Fatalf("claim e: %v", err)
	}
	if e.Value != 8000 {
		t.Fatalf("expected fallback to lowest free port 8000, got %d", e.Value)
	}
}

func TestClaimConflict(t *testing.T) {
	store := newMemStore()
	b := New("endpoint", Range{Low: 8000, High: 8010}, store)
	if _, err := b.Claim("alpha", 8000, "o1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := b.Claim("alpha", 8001, "o2"); err == nil {
		t.Fatalf("expected conflict for mismatched owner/port")
	} else {
		se, _ := steaderr.As(err)
		if se.Code != steaderr.Conflict {
			t.Fatalf("expected conflict code, got %s", se.Code)
		}
	}
}

func TestReleaseThenReclaim(t *testing.T) {
	store := newMemStore()
	b := New("endpoint", Range{Low: 8000, High: 8001}, store)
	if _, err := b.Claim("alpha", 8000, "o1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := b.Release("alpha", "o2"); err == nil {
		t.Fatalf("expected not_owner")
	}
	if err := b.Release("alpha", "o1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	lease, err := b.Claim("beta", 8000, "o2")
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if lease.Value != 8000 {
		t.Fatalf("expected freed port 8000 to be reassigned, got %d", lease.Value)
	}
}

func TestListOrderedByName(t *testing.T) {
	store := newMemStore()
	b := New("endpoint", Range{Low: 8000, High: 8010}, store)
	b.Claim("zeta", 0, "o1")
	b.Claim("alpha", 0, "o1")
	b.Claim("mid", 0, "o1")
	list, err := b.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 leases, got %d", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "mid" || list[2].Name != "zeta" {
		t.Fatalf("expected alphabetical order, got %+v", list)
	}
}
