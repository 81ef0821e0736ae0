// Package recorder implements the dual speculative/canonical record buffers
// that feed researcher data exports. A record is promoted from speculative
// to canonical only once its frame is confirmed and hasn't been invalidated
// by an in-flight rollback.
package recorder

import (
	"sort"
	"sync"

	"github.com/gymsync/syncd/internal/frame"
)

// RollbackEvent describes one rollback that touched a record's frame,
// exported alongside the record for researcher validation.
type RollbackEvent struct {
	Target frame.Number
	Reason string
}

// Record is the per-frame data written during step: actions, rewards,
// termination flags, and info, whether or not the inputs were confirmed.
type Record struct {
	Frame           frame.Number
	Actions         map[frame.ParticipantIndex]frame.Action
	Rewards         map[frame.ParticipantIndex]float64
	Terminateds     map[frame.ParticipantIndex]bool
	TerminatedAll   bool
	Truncateds      map[frame.ParticipantIndex]bool
	Info            map[string]any
	WasSpeculative  bool
	RollbackEvents  []RollbackEvent
}

// Recorder holds the two maps described in spec.md §4.5.
type Recorder struct {
	mu sync.Mutex

	speculative map[frame.Number]Record
	canonical   map[frame.Number]Record
}

// New creates an empty Recorder.
func New() *Recorder {
	return &Recorder{
		speculative: make(map[frame.Number]Record),
		canonical:   make(map[frame.Number]Record),
	}
}

// Write always writes to the speculative map, overwriting any prior entry
// for the same frame. It is called on every step, confirmed or predicted.
func (r *Recorder) Write(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.speculative[rec.Frame]; ok && existing.WasSpeculative {
		// A frame that was ever speculative stays tagged that way even if
		// this particular write used confirmed inputs, since the export
		// column reflects "was this frame ever predicted", not "is this
		// write using predictions".
		rec.WasSpeculative = true
		rec.RollbackEvents = append(append([]RollbackEvent{}, existing.RollbackEvents...), rec.RollbackEvents...)
	}
	r.speculative[rec.Frame] = rec
}

// Promote copies speculative[frame] into canonical[frame], provided frame <=
// confirmedFrame; the speculative entry is kept. It is idempotent —
// promoting an already-canonical frame rewrites the same record and returns
// true again. Returns false if frame > confirmedFrame or the frame has no
// speculative record.
func (r *Recorder) Promote(f frame.Number, confirmedFrame frame.Number) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.promoteLocked(f, confirmedFrame)
}

func (r *Recorder) promoteLocked(f frame.Number, confirmedFrame frame.Number) bool {
	if f > confirmedFrame {
		return false
	}
	rec, ok := r.speculative[f]
	if !ok {
		return false
	}
	r.canonical[f] = rec
	return true
}

// InvalidateFrom drops both speculative and canonical entries with frame >=
// f. Used when a rollback discards everything from its target forward.
func (r *Recorder) InvalidateFrom(f frame.Number) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.speculative {
		if k >= f {
			delete(r.speculative, k)
		}
	}
	for k := range r.canonical {
		if k >= f {
			delete(r.canonical, k)
		}
	}
}

// ForcePromote promotes a still-speculative frame regardless of the
// confirmedFrame watermark. Used only at episode end (§4.9 step 3) after
// the confirmation gate's timeout; every call should be logged as a
// warning by the caller.
func (r *Recorder) ForcePromote(f frame.Number) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.speculative[f]
	if !ok {
		return false
	}
	r.canonical[f] = rec
	return true
}

// ExportEpisode returns the canonical records sorted by frame.
func (r *Recorder) ExportEpisode() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.canonical))
	for _, rec := range r.canonical {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out
}

// Canonical returns the canonical record for f, if any. For tests and
// diagnostics.
func (r *Recorder) Canonical(f frame.Number) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.canonical[f]
	return rec, ok
}

// Speculative returns the speculative record for f, if any. For tests and
// diagnostics.
func (r *Recorder) Speculative(f frame.Number) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.speculative[f]
	return rec, ok
}
