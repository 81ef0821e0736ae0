package matchmaker

import "sort"

// FIFO groups the oldest RequiredPlayers candidates by enqueue order.
type FIFO struct {
	RequiredPlayers int
}

// FindMatch implements Strategy.
func (f FIFO) FindMatch(candidates []MatchCandidate) (matched, remaining []MatchCandidate) {
	if f.RequiredPlayers <= 0 || len(candidates) < f.RequiredPlayers {
		return nil, append([]MatchCandidate(nil), candidates...)
	}

	ordered := append([]MatchCandidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EnqueueTimestamp.Before(ordered[j].EnqueueTimestamp)
	})

	matched = append([]MatchCandidate(nil), ordered[:f.RequiredPlayers]...)
	remaining = append([]MatchCandidate(nil), ordered[f.RequiredPlayers:]...)
	return matched, remaining
}
