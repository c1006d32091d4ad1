package daemon

import (
	"sort"

	"github.com/edhor1608/stead/internal/contract"
)

// Tier is a projected attention bucket a contract falls into, independent
// of its raw lifecycle state. The mapping is fixed; only display names on
// top of it are free to vary.
type Tier string

const (
	TierDecision  Tier = "decision"
	TierAnomaly   Tier = "anomaly"
	TierCompleted Tier = "completed"
	TierRunning   Tier = "running"
	TierQueued    Tier = "queued"
	TierHidden    Tier = "hidden"
)

// TierOf maps a contract state to its attention tier.
func TierOf(s contract.State) Tier {
	switch s {
	case contract.StateVerifying:
		return TierDecision
	case contract.StateFailed, contract.StateRollingBack, contract.StateRolledBack:
		return TierAnomaly
	case contract.StateCompleted:
		return TierCompleted
	case contract.StateExecuting:
		return TierRunning
	case contract.StatePending, contract.StateReady, contract.StateClaimed:
		return TierQueued
	case contract.StateCancelled:
		return TierHidden
	default:
		return TierHidden
	}
}

// AttentionEntry is one contract positioned within its tier.
type AttentionEntry struct {
	ContractID string `json:"contract_id"`
	Tier       Tier   `json:"tier"`
	Ordinal    int    `json:"ordinal"`
}

// AttentionStatus aggregates contracts into their projected tiers, each
// ordered oldest-first with ties broken by id, per the deterministic
// attention projection.
func AttentionStatus(contracts []contract.Contract) ([]AttentionEntry, map[Tier]int) {
	byTier := map[Tier][]contract.Contract{}
	for _, c := range contracts {
		tier := TierOf(c.State)
		byTier[tier] = append(byTier[tier], c)
	}

	var entries []AttentionEntry
	counts := map[Tier]int{}
	for tier, group := range byTier {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		counts[tier] = len(group)
		for ordinal, c := range group {
			entries = append(entries, AttentionEntry{ContractID: c.ID, Tier: tier, Ordinal: ordinal})
		}
	}
	return entries, counts
}
