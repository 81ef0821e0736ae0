// Package focus implements the Focus Manager: it tracks foreground/
// background transitions for the local participant, buffers remote inputs
// in a side queue while backgrounded (so a stale local state doesn't touch
// off a rollback storm against every buffered remote input), and computes
// the bounded fast-forward budget to apply on refocus.
package focus

import (
	"context"
	"sync"
	"time"

	"github.com/gymsync/syncd/internal/rollback"
)

const (
	// DefaultMaxFastForwardFrames bounds a single refocus catch-up by frame
	// count (spec.md §4.10).
	DefaultMaxFastForwardFrames = 300
	// DefaultMaxFastForwardMillis bounds the same catch-up by wall-clock
	// budget, whichever limit is hit first.
	DefaultMaxFastForwardMillis = 1000
)

// Manager wraps a rollback.Transport, intercepting DrainInbound while
// backgrounded so arriving remote inputs land in a side queue instead of
// the Input Buffer.
type Manager struct {
	mu sync.Mutex

	inner rollback.Transport

	backgrounded       bool
	pendingFastForward bool
	backgroundedSince  time.Time
	sideQueue          []rollback.RemoteInput

	maxFastForwardFrames int
	maxFastForwardMillis int
}

// New wraps inner with the default fast-forward bounds.
func New(inner rollback.Transport) *Manager {
	return &Manager{
		inner:                inner,
		maxFastForwardFrames: DefaultMaxFastForwardFrames,
		maxFastForwardMillis: DefaultMaxFastForwardMillis,
	}
}

// WithBounds overrides the default fast-forward bounds.
func (m *Manager) WithBounds(maxFrames, maxMillis int) *Manager {
	m.maxFastForwardFrames = maxFrames
	m.maxFastForwardMillis = maxMillis
	return m
}

// DrainInbound implements rollback.Transport. While backgrounded, arriving
// inputs are buffered in the side queue and nothing is returned to the
// engine. While foregrounded, it passes through to the inner transport —
// callers must have already consumed the side queue via ConsumeFastForward
// before resuming normal ticks (the session driver does this as part of
// its refocus fast-forward step).
func (m *Manager) DrainInbound() []rollback.RemoteInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := m.inner.DrainInbound()
	if m.backgrounded {
		m.sideQueue = append(m.sideQueue, drained...)
		return nil
	}
	return drained
}

// SendBundle passes through to the inner transport unmodified; the local
// participant's own inputs are still sent while backgrounded so the peer
// doesn't stall waiting on them.
func (m *Manager) SendBundle(ctx context.Context, bundle []rollback.InputEntry) error {
	return m.inner.SendBundle(ctx, bundle)
}

// OnBackground records a transition to backgrounded.
func (m *Manager) OnBackground(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backgrounded {
		return
	}
	m.backgrounded = true
	m.backgroundedSince = now
}

// OnForeground records a transition back to foregrounded and arms the
// pending-fast-forward flag for the next tick to consume.
func (m *Manager) OnForeground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.backgrounded {
		return
	}
	m.backgrounded = false
	m.pendingFastForward = true
}

// Backgrounded reports the current state.
func (m *Manager) Backgrounded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backgrounded
}

// ConsumeFastForward returns the buffered side queue and whether a fast
// forward is pending, clearing both. Called once per tick by the session
// driver before normal tick processing.
func (m *Manager) ConsumeFastForward() ([]rollback.RemoteInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pendingFastForward {
		return nil, false
	}
	q := m.sideQueue
	m.sideQueue = nil
	m.pendingFastForward = false
	return q, true
}

// FrameBudget computes how many frames a fast-forward may cover given the
// number of frames that elapsed while backgrounded and the tick interval,
// bounded by both maxFastForwardFrames and maxFastForwardMillis (spec.md
// §4.10: "whichever comes first"). If the elapsed catch-up exceeds the
// budget, the returned count is the bound, and the caller is expected to
// continue catching up gradually on subsequent ticks.
func (m *Manager) FrameBudget(elapsedFrames int, tickInterval time.Duration) int {
	m.mu.Lock()
	maxFrames := m.maxFastForwardFrames
	maxMillis := m.maxFastForwardMillis
	m.mu.Unlock()

	byMillis := elapsedFrames
	if tickInterval > 0 {
		byMillis = int(time.Duration(maxMillis) * time.Millisecond / tickInterval)
	}
	budget := elapsedFrames
	if budget > maxFrames {
		budget = maxFrames
	}
	if budget > byMillis {
		budget = byMillis
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}
