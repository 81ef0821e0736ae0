package recorder

import (
	"testing"

	"github.com/gymsync/syncd/internal/frame"
)

func rec(f frame.Number, speculative bool) Record {
	return Record{Frame: f, WasSpeculative: speculative}
}

func TestWriteThenPromoteWithinConfirmedFrame(t *testing.T) {
	r := New()
	r.Write(rec(5, false))

	if !r.Promote(5, 5) {
		t.Fatal("expected promote to succeed at frame <= confirmedFrame")
	}
	if _, ok := r.Canonical(5); !ok {
		t.Fatal("expected canonical record at frame 5")
	}
}

func TestPromoteRejectedBeyondConfirmedFrame(t *testing.T) {
	r := New()
	r.Write(rec(5, false))

	if r.Promote(5, 4) {
		t.Fatal("expected promote to be rejected when frame > confirmedFrame")
	}
	if _, ok := r.Canonical(5); ok {
		t.Fatal("frame 5 should not be canonical yet")
	}
}

func TestPromoteIsIdempotent(t *testing.T) {
	r := New()
	r.Write(rec(1, false))
	r.Promote(1, 1)
	r.Promote(1, 1)
	out := r.ExportEpisode()
	if len(out) != 1 {
		t.Fatalf("expected exactly one exported record, got %d", len(out))
	}
}

func TestInvalidateFromDropsBothMaps(t *testing.T) {
	r := New()
	r.Write(rec(1, false))
	r.Write(rec(2, false))
	r.Write(rec(3, false))
	r.Promote(1, 3)
	r.Promote(2, 3)

	r.InvalidateFrom(2)

	if _, ok := r.Canonical(1); !ok {
		t.Fatal("frame 1 should survive invalidation from 2")
	}
	if _, ok := r.Canonical(2); ok {
		t.Fatal("frame 2 should have been invalidated")
	}
	if _, ok := r.Speculative(3); ok {
		t.Fatal("speculative frame 3 should have been invalidated")
	}
}

func TestWasSpeculativeStickyAcrossRewrite(t *testing.T) {
	r := New()
	r.Write(rec(1, true)) // first write was predicted
	r.Write(rec(1, false)) // re-written after confirmation arrived
	spec, _ := r.Speculative(1)
	if !spec.WasSpeculative {
		t.Fatal("WasSpeculative should stay true once a frame was ever predicted")
	}
}

func TestExportEpisodeSortedByFrame(t *testing.T) {
	r := New()
	for _, f := range []frame.Number{3, 1, 2} {
		r.Write(rec(f, false))
		r.Promote(f, 3)
	}
	out := r.ExportEpisode()
	for i := 1; i < len(out); i++ {
		if out[i-1].Frame >= out[i].Frame {
			t.Fatalf("export not sorted: %v", out)
		}
	}
}

func TestForcePromoteIgnoresConfirmedFrame(t *testing.T) {
	r := New()
	r.Write(rec(10, true))
	if !r.ForcePromote(10) {
		t.Fatal("expected force promote to succeed regardless of confirmedFrame")
	}
	if _, ok := r.Canonical(10); !ok {
		t.Fatal("expected frame 10 to be canonical after force promote")
	}
}
