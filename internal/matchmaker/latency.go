package matchmaker

import "sort"

// LatencyAware groups candidates FIFO-first but skips groupings whose
// pairwise sum of server RTTs would exceed MaxServerRTTms. Candidates
// missing RTT data are never excluded by the filter (graceful fallback per
// spec.md §4.8) — only candidates that both report RTT are checked.
type LatencyAware struct {
	RequiredPlayers int
	MaxServerRTTms  int64
}

// FindMatch implements Strategy.
func (l LatencyAware) FindMatch(candidates []MatchCandidate) (matched, remaining []MatchCandidate) {
	if l.RequiredPlayers <= 0 || len(candidates) < l.RequiredPlayers {
		return nil, append([]MatchCandidate(nil), candidates...)
	}

	pool := append([]MatchCandidate(nil), candidates...)
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].EnqueueTimestamp.Before(pool[j].EnqueueTimestamp)
	})

	used := make([]bool, len(pool))
	anchor := 0
	for anchor < len(pool) {
		if used[anchor] {
			anchor++
			continue
		}
		group := []int{anchor}
		for i := anchor + 1; i < len(pool) && len(group) < l.RequiredPlayers; i++ {
			if used[i] {
				continue
			}
			if l.compatibleWithGroup(pool, group, i) {
				group = append(group, i)
			}
		}
		if len(group) == l.RequiredPlayers {
			for _, idx := range group {
				used[idx] = true
				matched = append(matched, pool[idx])
			}
			break // one group per call, like FIFO; Queue.Tick calls again
		}
		anchor++
	}

	for i, c := range pool {
		if !used[i] {
			remaining = append(remaining, c)
		}
	}
	return matched, remaining
}

func (l LatencyAware) compatibleWithGroup(pool []MatchCandidate, group []int, candidate int) bool {
	for _, member := range group {
		a, b := pool[member].ServerRTT, pool[candidate].ServerRTT
		if a == nil || b == nil {
			continue // missing RTT data is never grounds for exclusion
		}
		if a.Milliseconds()+b.Milliseconds() > l.MaxServerRTTms {
			return false
		}
	}
	return true
}
