package session

import (
	"log/slog"
	"sync"
)

// WaitroomGate decides canJoinWaitroom(participant) — spec.md §4.11 names
// no concrete criteria beyond "no in-game entry exists", so the default
// implementation below checks only that, counting VALIDATING_P2P as
// in-game as well as IN_GAME; callers needing richer policy
// (bans, capacity) can pass their own WaitroomGate.
type WaitroomGate func(participantID string) bool

// DefaultWaitroomGate allows anyone not already tracked as IN_GAME or
// VALIDATING_P2P.
func DefaultWaitroomGate(tracker *Tracker) WaitroomGate {
	return func(participantID string) bool {
		state, ok := tracker.State(participantID)
		if !ok {
			return true
		}
		return state != ParticipantInGame && state != ParticipantValidatingP2P
	}
}

// Tracker is the guarded-mutex, single-writer-per-key Participant State
// Tracker (spec.md §5).
type Tracker struct {
	mu    sync.Mutex
	log   *slog.Logger
	gate  WaitroomGate
	state map[string]ParticipantState
}

// NewTracker constructs a Tracker that uses DefaultWaitroomGate over
// itself; SetGate replaces the gate once constructed.
func NewTracker(log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{log: log, state: make(map[string]ParticipantState)}
	t.gate = DefaultWaitroomGate(t)
	return t
}

// SetGate overrides the waitroom-entry gate.
func (t *Tracker) SetGate(gate WaitroomGate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = gate
}

// State returns a participant's current state, or (IDLE, false) if unknown.
func (t *Tracker) State(participantID string) (ParticipantState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.state[participantID]
	return s, ok
}

// Transition attempts a state transition. Invalid transitions (off the
// single-direction path, or a waitroom entry rejected by the gate) are
// logged and dropped, never returned as an error — per spec.md §4.11.
func (t *Tracker) Transition(participantID string, to ParticipantState) {
	// The gate runs without t.mu held: DefaultWaitroomGate reads back
	// through State, which takes the same lock.
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	allowed := to != ParticipantInWaitroom || gate(participantID)

	t.mu.Lock()
	defer t.mu.Unlock()

	from, known := t.state[participantID]
	if !known {
		from = ParticipantIdle
	}

	if !allowed {
		logInvalidTransition(t.log, "participant", from, to)
		return
	}
	if !validParticipantTransition(from, to) {
		logInvalidTransition(t.log, "participant", from, to)
		return
	}
	t.state[participantID] = to
}

// Remove drops tracking for a participant entirely (e.g. after cleanup
// step 5 on permanent departure).
func (t *Tracker) Remove(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, participantID)
}
