// Package inputbuf is the frame-indexed store of every participant's
// inputs. It is deduplicated, idempotent on re-delivery, and only prunable
// up to the confirmed frame.
package inputbuf

import (
	"fmt"
	"sync"

	"github.com/gymsync/syncd/internal/frame"
)

// ProtocolViolation is returned by Put when a (frame, index) pair already
// holds a different action than the one being inserted — re-delivery of the
// same action is a no-op, but a conflicting action means two peers disagree
// on what happened and the session must end.
type ProtocolViolation struct {
	Frame  frame.Number
	Index  frame.ParticipantIndex
	Prior  frame.Action
	Wanted frame.Action
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: frame %d index %d already has action %d, got %d",
		e.Frame, e.Index, e.Prior, e.Wanted)
}

// Buffer is the per-session input store. Every core instance owns exactly
// one Buffer.
type Buffer struct {
	mu sync.Mutex

	// entries[frame][index] = action
	entries map[frame.Number]map[frame.ParticipantIndex]frame.Action

	// confirmed is the largest K such that HasAllFor(k, indices) holds for
	// every k <= K, advanced incrementally by UpdateConfirmed (Put does not
	// touch it).
	confirmed frame.Number
	hasConfirmed bool
}

// New creates an empty input buffer.
func New() *Buffer {
	return &Buffer{
		entries: make(map[frame.Number]map[frame.ParticipantIndex]frame.Action),
	}
}

// Put inserts an input. It is idempotent: re-delivery of the same
// (frame, index) with the same action is a no-op. Re-delivery with a
// different action returns *ProtocolViolation and leaves the buffer
// unchanged.
func (b *Buffer) Put(f frame.Number, index frame.ParticipantIndex, action frame.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row, ok := b.entries[f]
	if !ok {
		row = make(map[frame.ParticipantIndex]frame.Action)
		b.entries[f] = row
	}
	if existing, ok := row[index]; ok {
		if existing != action {
			return &ProtocolViolation{Frame: f, Index: index, Prior: existing, Wanted: action}
		}
		return nil
	}
	row[index] = action
	return nil
}

// Get returns the action recorded for (f, index), if any.
func (b *Buffer) Get(f frame.Number, index frame.ParticipantIndex) (frame.Action, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.entries[f]
	if !ok {
		return 0, false
	}
	a, ok := row[index]
	return a, ok
}

// HasAllFor reports whether every index in indices has a recorded action at
// frame f.
func (b *Buffer) HasAllFor(f frame.Number, indices []frame.ParticipantIndex) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasAllForLocked(f, indices)
}

func (b *Buffer) hasAllForLocked(f frame.Number, indices []frame.ParticipantIndex) bool {
	row, ok := b.entries[f]
	if !ok {
		return len(indices) == 0
	}
	for _, idx := range indices {
		if _, ok := row[idx]; !ok {
			return false
		}
	}
	return true
}

// UpdateConfirmed recomputes confirmedFrame incrementally: starting from the
// current watermark (or 0), it advances while every subsequent frame is
// complete for the given indices. It returns the (possibly unchanged)
// confirmed frame and whether it advanced.
func (b *Buffer) UpdateConfirmed(indices []frame.ParticipantIndex) (frame.Number, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := frame.Number(0)
	if b.hasConfirmed {
		start = b.confirmed + 1
	}

	advanced := false
	k := start
	for b.hasAllForLocked(k, indices) {
		b.confirmed = k
		b.hasConfirmed = true
		advanced = true
		k++
	}
	return b.confirmed, advanced
}

// LatestConfirmed returns the current confirmedFrame watermark without
// recomputing it. Callers that mutated the buffer should call
// UpdateConfirmed first.
func (b *Buffer) LatestConfirmed() (frame.Number, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confirmed, b.hasConfirmed
}

// Prune removes entries with frame <= upto. It is rejected (no-op, returns
// false) if upto exceeds the confirmed frame — the input buffer never
// prunes frames that are still needed for replay.
func (b *Buffer) Prune(upto frame.Number) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasConfirmed || upto > b.confirmed {
		return false
	}
	for f := range b.entries {
		if f <= upto {
			delete(b.entries, f)
		}
	}
	return true
}

