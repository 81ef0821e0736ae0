package tick

import (
	"context"
	"testing"
	"time"
)

func TestSourceEmitsTicksUntilStopped(t *testing.T) {
	s := NewSource(5*time.Millisecond, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-s.C():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first tick")
	}
	select {
	case <-s.C():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second tick")
	}
}

func TestSourceStopEndsRunLoop(t *testing.T) {
	s := NewSource(2*time.Millisecond, 1)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
