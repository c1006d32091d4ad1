package daemon

import (
	"testing"
	"time"

	"github.com/edhor1608/stead/internal/contract"
)

func TestTierOfMapping(t *testing.T) {
	cases := map[contract.State]Tier{
		contract.StateVerifying:   TierDecision,
		contract.StateFailed:      TierAnomaly,
		contract.StateRollingBack: TierAnomaly,
		contract.StateRolledBack:  TierAnomaly,
		contract.StateCompleted:   TierCompleted,
		contract.StateExecuting:   TierRunning,
		contract.StatePending:     TierQueued,
		contract.StateReady:       TierQueued,
		contract.StateClaimed:     TierQueued,
		contract.StateCancelled:   TierHidden,
	}
	for state, want := range cases {
		if got := TierOf(state); got != want {
			t.Errorf("TierOf(%s) = %s, want %s", state, got, want)
		}
	}
}

func TestAttentionStatusOrdersOldestFirstWithinTier(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	contracts := []contract.Contract{
		{ID: "c3", State: contract.StateReady, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "c1", State: contract.StateReady, CreatedAt: base},
		{ID: "c2", State: contract.StateReady, CreatedAt: base.Add(time.Hour)},
		{ID: "done", State: contract.StateCompleted, CreatedAt: base},
	}
	entries, counts := AttentionStatus(contracts)

	if counts[TierQueued] != 3 || counts[TierCompleted] != 1 {
		t.Fatalf("counts = %+v", counts)
	}

	var queuedOrder []string
	for _, e := range entries {
		if e.Tier == TierQueued {
			queuedOrder = append(queuedOrder, e.ContractID)
		}
	}
	want := []string{"c1", "c2", "c3"}
	for i, id := range want {
		if queuedOrder[i] != id {
			t.Errorf("queuedOrder[%d] = %s, want %s (full: %v)", i, queuedOrder[i], id, queuedOrder)
		}
	}
}

func TestAttentionStatusTieBreaksByID(t *testing.T) {
	same := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	contracts := []contract.Contract{
		{ID: "b", State: contract.StateFailed, CreatedAt: same},
		{ID: "a", State: contract.StateFailed, CreatedAt: same},
	}
	entries, _ := AttentionStatus(contracts)
	if len(entries) != 2 || entries[0].ContractID != "a" || entries[1].ContractID != "b" {
		t.Fatalf("entries = %+v, want [a, b] tie-broken by id", entries)
	}
	if entries[0].Ordinal != 0 || entries[1].Ordinal != 1 {
		t.Errorf("ordinals = %d, %d, want 0, 1", entries[0].Ordinal, entries[1].Ordinal)
	}
}
