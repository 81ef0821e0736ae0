package hasher

import (
	"testing"
)

func TestComputeIsDeterministic(t *testing.T) {
	in := CanonicalInput{EnvState: []byte("state"), RNGState: 42}
	a := Compute(in)
	b := Compute(in)
	if a != b {
		t.Fatalf("same input produced different digests: %v != %v", a, b)
	}
}

func TestComputeDiffersOnRNGState(t *testing.T) {
	a := Compute(CanonicalInput{EnvState: []byte("state"), RNGState: 1})
	b := Compute(CanonicalInput{EnvState: []byte("state"), RNGState: 2})
	if a == b {
		t.Fatal("expected digests to differ when RNG state differs")
	}
}

func TestMatchingPeerHashAdvancesVerifiedFrame(t *testing.T) {
	h := New(LogOnly)
	in := CanonicalInput{EnvState: []byte("s"), RNGState: 1}
	d := h.RecordLocal(5, in)

	h.ReceivePeerHash(5, 1, d)

	vf, ok := h.VerifiedFrame()
	if !ok || vf != 5 {
		t.Fatalf("expected verifiedFrame=5, got %d ok=%v", vf, ok)
	}
	if len(h.Desyncs()) != 0 {
		t.Fatal("expected no desync on matching hashes")
	}
}

func TestMismatchedPeerHashRecordsDesync(t *testing.T) {
	h := New(LogOnly)
	h.RecordLocal(5, CanonicalInput{EnvState: []byte("local"), RNGState: 1})

	h.ReceivePeerHash(5, 1, Digest{9, 9, 9, 9, 9, 9, 9, 9})

	desyncs := h.Desyncs()
	if len(desyncs) != 1 || desyncs[0].Frame != 5 {
		t.Fatalf("expected one desync at frame 5, got %v", desyncs)
	}
	if _, ok := h.VerifiedFrame(); ok {
		t.Fatal("verifiedFrame should not advance on mismatch")
	}
}

func TestPeerHashBufferedUntilLocalHashExists(t *testing.T) {
	h := New(LogOnly)
	h.ReceivePeerHash(7, 1, Digest{1})

	pending := h.PendingFrames()
	if len(pending) != 1 || pending[0] != 7 {
		t.Fatalf("expected frame 7 pending, got %v", pending)
	}

	d := h.RecordLocal(7, CanonicalInput{EnvState: []byte("s"), RNGState: 0})
	_ = d

	if len(h.PendingFrames()) != 0 {
		t.Fatal("pending peer hash should have been retried and cleared")
	}
}

func TestInvalidateFromDropsLocalAndPendingAndKeepsVerifiedBelowTarget(t *testing.T) {
	h := New(LogOnly)
	d3 := h.RecordLocal(3, CanonicalInput{EnvState: []byte("a"), RNGState: 0})
	h.ReceivePeerHash(3, 1, d3)
	h.RecordLocal(5, CanonicalInput{EnvState: []byte("b"), RNGState: 0})
	h.ReceivePeerHash(10, 1, Digest{7})

	h.InvalidateFrom(4)

	if _, ok := h.VerifiedFrame(); !ok {
		t.Fatal("verifiedFrame at 3 should survive invalidation from 4")
	}
	if vf, _ := h.VerifiedFrame(); vf != 3 {
		t.Fatalf("expected verifiedFrame=3, got %d", vf)
	}
	if len(h.PendingFrames()) != 0 {
		t.Fatalf("expected pending frame 10 (>= target) to be dropped too, got %v", h.PendingFrames())
	}
}

func TestOutboundDigestsDrainedOnce(t *testing.T) {
	h := New(LogOnly)
	h.RecordLocal(1, CanonicalInput{EnvState: []byte("x"), RNGState: 0})
	h.RecordLocal(2, CanonicalInput{EnvState: []byte("y"), RNGState: 0})

	out := h.DrainOutbound()
	if len(out) != 2 {
		t.Fatalf("expected 2 outbound digests, got %d", len(out))
	}
	if len(h.DrainOutbound()) != 0 {
		t.Fatal("second drain should be empty")
	}
}

func TestDesyncObserverFiresOnMismatch(t *testing.T) {
	h := New(LogOnly)
	var fired int
	h.SetDesyncObserver(func(ev DesyncEvent) { fired++ })

	h.RecordLocal(1, CanonicalInput{EnvState: []byte("a"), RNGState: 0})
	h.ReceivePeerHash(1, 1, Digest{0xff})

	if fired != 1 {
		t.Fatalf("expected observer to fire once, got %d", fired)
	}

	h.RecordLocal(2, CanonicalInput{EnvState: []byte("b"), RNGState: 0})
	h.ReceivePeerHash(2, 1, Compute(CanonicalInput{EnvState: []byte("b"), RNGState: 0}))

	if fired != 1 {
		t.Fatalf("expected observer not to fire on agreement, got %d", fired)
	}
}
