package focus

import (
	"context"
	"testing"
	"time"

	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/rollback"
)

type fakeInner struct {
	inbound []rollback.RemoteInput
	sent    [][]rollback.InputEntry
}

func (f *fakeInner) DrainInbound() []rollback.RemoteInput {
	out := f.inbound
	f.inbound = nil
	return out
}

func (f *fakeInner) SendBundle(_ context.Context, bundle []rollback.InputEntry) error {
	f.sent = append(f.sent, bundle)
	return nil
}

func TestInboundBufferedWhileBackgrounded(t *testing.T) {
	inner := &fakeInner{inbound: []rollback.RemoteInput{{Frame: 1, Index: 1, Action: 5}}}
	m := New(inner)
	m.OnBackground(time.Now())

	got := m.DrainInbound()
	if got != nil {
		t.Fatalf("expected nil while backgrounded, got %v", got)
	}
}

func TestForegroundArmsFastForwardAndReturnsSideQueue(t *testing.T) {
	inner := &fakeInner{}
	m := New(inner)
	m.OnBackground(time.Now())

	inner.inbound = []rollback.RemoteInput{{Frame: 1, Index: 1, Action: 5}}
	m.DrainInbound() // buffered

	m.OnForeground()
	queue, pending := m.ConsumeFastForward()
	if !pending {
		t.Fatal("expected a pending fast-forward after refocus")
	}
	if len(queue) != 1 || queue[0].Frame != frame.Number(1) {
		t.Fatalf("expected buffered input to be returned, got %v", queue)
	}

	if _, pending := m.ConsumeFastForward(); pending {
		t.Fatal("second consume should report no pending fast-forward")
	}
}

func TestFrameBudgetBoundedByBothLimits(t *testing.T) {
	m := New(&fakeInner{}).WithBounds(10, 100)
	// 16ms tick, 100ms budget -> ~6 frames by time; elapsed far exceeds both.
	got := m.FrameBudget(1000, 16*time.Millisecond)
	if got != 6 {
		t.Fatalf("expected frame budget capped at 6 by the millisecond bound (frame bound 10), got %d", got)
	}
}

func TestSendBundlePassesThroughRegardlessOfBackground(t *testing.T) {
	inner := &fakeInner{}
	m := New(inner)
	m.OnBackground(time.Now())
	if err := m.SendBundle(context.Background(), []rollback.InputEntry{{Frame: 1}}); err != nil {
		t.Fatalf("SendBundle: %v", err)
	}
	if len(inner.sent) != 1 {
		t.Fatal("expected bundle to reach inner transport while backgrounded")
	}
}
