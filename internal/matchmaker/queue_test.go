package matchmaker

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestQueueTickProducesRepeatedGroups(t *testing.T) {
	q := NewQueue(FIFO{RequiredPlayers: 2}, rate.Inf, 0)
	base := time.Now()
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := q.Enqueue(context.Background(), mkCandidate(id, base.Add(time.Duration(i)*time.Second), nil)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	groups := q.Tick()
	if len(groups) != 2 {
		t.Fatalf("expected 2 matched groups, got %d", len(groups))
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty waitroom after matching all, got %d", q.Len())
	}
}

func TestQueueRemoveDropsParticipant(t *testing.T) {
	q := NewQueue(FIFO{RequiredPlayers: 2}, rate.Inf, 0)
	_ = q.Enqueue(context.Background(), mkCandidate("a", time.Now(), nil))
	_ = q.Enqueue(context.Background(), mkCandidate("b", time.Now(), nil))
	q.Remove("a")
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining after remove, got %d", q.Len())
	}
}

func TestQueueEnqueueRateLimited(t *testing.T) {
	q := NewQueue(FIFO{RequiredPlayers: 2}, rate.Every(time.Minute), 1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, mkCandidate("a", time.Now(), nil)); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, mkCandidate("a", time.Now(), nil)); err == nil {
		t.Fatal("expected second rapid enqueue to be rate limited")
	}
}
