package matchmaker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Queue holds waitroom candidates and periodically runs a Strategy over
// them. Enqueue churn (rapid join/leave/re-join, e.g. a flaky client) is
// rate limited per participant, grounded on the teacher's bandwidth
// limiter (internal/relay/bandwidth.go) which applies the same
// golang.org/x/time/rate pattern to a different kind of churn.
type Queue struct {
	mu         sync.Mutex
	strategy   Strategy
	candidates []MatchCandidate
	limiters   map[string]*rate.Limiter
	limit      rate.Limit
	burst      int
}

// NewQueue constructs a Queue. limit/burst bound how often a single
// participant may (re-)enqueue; a reasonable default is 1 enqueue/second
// with a burst of 3.
func NewQueue(strategy Strategy, limit rate.Limit, burst int) *Queue {
	return &Queue{
		strategy: strategy,
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Enqueue adds a candidate to the waitroom, subject to the per-participant
// rate limit.
func (q *Queue) Enqueue(ctx context.Context, c MatchCandidate) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lim, ok := q.limiters[c.ParticipantID]
	if !ok {
		lim = rate.NewLimiter(q.limit, q.burst)
		q.limiters[c.ParticipantID] = lim
	}
	if !lim.Allow() {
		return fmt.Errorf("matchmaker: participant %s is enqueuing too quickly", c.ParticipantID)
	}
	q.candidates = append(q.candidates, c)
	return nil
}

// Remove drops a participant from the waitroom, e.g. on disconnect.
func (q *Queue) Remove(participantID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.candidates[:0]
	for _, c := range q.candidates {
		if c.ParticipantID != participantID {
			out = append(out, c)
		}
	}
	q.candidates = out
}

// Tick runs the Strategy once over the current candidate pool, returning
// matched groups (the waitroom retains Remaining).
func (q *Queue) Tick() [][]MatchCandidate {
	q.mu.Lock()
	defer q.mu.Unlock()

	var groups [][]MatchCandidate
	remaining := q.candidates
	for {
		matched, rest := q.strategy.FindMatch(remaining)
		if len(matched) == 0 {
			remaining = rest
			break
		}
		groups = append(groups, matched)
		remaining = rest
	}
	q.candidates = remaining
	return groups
}

// Len reports the current waitroom size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.candidates)
}
