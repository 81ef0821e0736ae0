// Package snapshot implements the bounded ring of full environment
// snapshots that the Rollback Engine replays from. Snapshot bytes are
// compressed at rest since the ring's capacity is a hard memory budget.
package snapshot

import (
	"fmt"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/gymsync/syncd/internal/frame"
)

// Snapshot is a full environment state captured at a fixed frame, plus the
// RNG state at the start of that frame so rollback restores both.
type Snapshot struct {
	Frame    frame.Number
	EnvState []byte // decompressed, as returned by the environment collaborator
	RNGState uint32
}

// Ring is a bounded, ordered collection of Snapshots taken at every
// snapshotInterval frames, evicting the oldest when it exceeds maxSnapshots.
//
// Design rationale: maxSnapshots x snapshotInterval bounds the deepest
// recoverable rollback. Exceeding that bound is not a crash — Save simply
// continues evicting; a rollback target older than the oldest retained
// snapshot surfaces as a DeepDriftEvent in the Rollback Engine, not here.
type Ring struct {
	mu sync.Mutex

	interval frame.Number
	maxSize  int

	// order holds frames in insertion order, oldest first, for eviction.
	order   []frame.Number
	entries map[frame.Number]*compressedSnapshot

	enc *zstd.Encoder
	dec *zstd.Decoder
}

type compressedSnapshot struct {
	rngState uint32
	data     []byte // zstd-compressed EnvState
}

// NewRing creates a ring that snapshots every `interval` frames and retains
// at most `maxSize` of them.
func NewRing(interval frame.Number, maxSize int) (*Ring, error) {
	if interval == 0 {
		return nil, fmt.Errorf("snapshot: interval must be > 0")
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("snapshot: maxSize must be > 0")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: new zstd decoder: %w", err)
	}
	return &Ring{
		interval: interval,
		maxSize:  maxSize,
		entries:  make(map[frame.Number]*compressedSnapshot),
		enc:      enc,
		dec:      dec,
	}, nil
}

// Interval returns the configured snapshotInterval.
func (r *Ring) Interval() frame.Number { return r.interval }

// ShouldSave reports whether f falls on a snapshot boundary.
func (r *Ring) ShouldSave(f frame.Number) bool {
	return f%r.interval == 0
}

// Save stores envState and rngState at f, compressing envState, and evicts
// the oldest entry if the ring is now over capacity.
func (r *Ring) Save(f frame.Number, envState []byte, rngState uint32) error {
	compressed := r.enc.EncodeAll(envState, nil)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[f]; !exists {
		r.order = append(r.order, f)
	}
	r.entries[f] = &compressedSnapshot{rngState: rngState, data: compressed}

	for len(r.order) > r.maxSize {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}
	return nil
}

// NearestAtOrBefore returns the most recent snapshot at or before f. It is
// the restore primitive used at the start of every rollback replay.
func (r *Ring) NearestAtOrBefore(f frame.Number) (Snapshot, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := frame.Number(0)
	found := false
	for _, cand := range r.order {
		if cand <= f && (!found || cand > best) {
			best = cand
			found = true
		}
	}
	if !found {
		return Snapshot{}, false, nil
	}

	cs := r.entries[best]
	decompressed, err := r.dec.DecodeAll(cs.data, nil)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: decode frame %d: %w", best, err)
	}
	return Snapshot{Frame: best, EnvState: decompressed, RNGState: cs.rngState}, true, nil
}

// InvalidateFrom drops every snapshot with frame >= target. Used on forced
// rewinds (rollback replay).
func (r *Ring) InvalidateFrom(target frame.Number) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0:0]
	removed := 0
	for _, f := range r.order {
		if f >= target {
			delete(r.entries, f)
			removed++
			continue
		}
		kept = append(kept, f)
	}
	r.order = kept
	return removed
}

// Frames returns the retained snapshot frames, sorted ascending. For
// diagnostics and tests only.
func (r *Ring) Frames() []frame.Number {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]frame.Number, len(r.order))
	copy(out, r.order)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of snapshots currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
