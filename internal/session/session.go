package session

import (
	"log/slog"
	"sync"
	"time"
)

// Cleanup bundles the collaborators a Session's scheduleCleanup notifies,
// in the exact order spec.md §4.11 mandates. Any field may be nil, in
// which case that step is a no-op — callers wire only what they need
// (e.g. a probe-rejected session never reached PLAYING and has no runner
// to stop).
type Cleanup struct {
	NotifyParticipants func(reason string)
	FlushExports       func()
	StopRunners        func()
	ReleaseResources   func()
	UpdateTracker      func(participantID string)
	RemoveFromMatchmaker func()
	RemoveFromGroupHistory func()
}

// Session is one matched game session and its cleanup discipline.
type Session struct {
	ID           string
	Participants []string

	mu      sync.Mutex
	state   SessionState
	log     *slog.Logger
	cleanup Cleanup
	cleaned bool
	timer   *time.Timer
}

// New constructs a Session in WAITING with the given cleanup collaborators.
func New(id string, participants []string, cleanup Cleanup, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{ID: id, Participants: participants, state: SessionWaiting, cleanup: cleanup, log: log}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition attempts a single-direction state change; invalid transitions
// are logged and dropped.
func (s *Session) Transition(to SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validSessionTransition(s.state, to) {
		logInvalidTransition(s.log, "session", s.state, to)
		return
	}
	s.state = to
}

// ScheduleCleanup arranges for cleanup to run after delay (0 means
// immediately, synchronously). Idempotent: a second call, concurrent or
// sequential, is a no-op once cleanup has started.
func (s *Session) ScheduleCleanup(reason string, delay time.Duration) {
	s.mu.Lock()
	if s.cleaned {
		s.mu.Unlock()
		return
	}
	if delay <= 0 {
		s.cleaned = true
		s.mu.Unlock()
		s.runCleanup(reason)
		return
	}
	if s.timer != nil {
		s.mu.Unlock()
		return
	}
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.cleaned {
			s.mu.Unlock()
			return
		}
		s.cleaned = true
		s.mu.Unlock()
		s.runCleanup(reason)
	})
	s.mu.Unlock()
}

// runCleanup executes the 7-step order regardless of individual step
// success; every step is best-effort and independent of the others.
func (s *Session) runCleanup(reason string) {
	if s.cleanup.NotifyParticipants != nil {
		s.cleanup.NotifyParticipants(reason)
	}
	if s.cleanup.FlushExports != nil {
		s.cleanup.FlushExports()
	}
	if s.cleanup.StopRunners != nil {
		s.cleanup.StopRunners()
	}
	if s.cleanup.ReleaseResources != nil {
		s.cleanup.ReleaseResources()
	}
	if s.cleanup.UpdateTracker != nil {
		for _, p := range s.Participants {
			s.cleanup.UpdateTracker(p)
		}
	}
	if s.cleanup.RemoveFromMatchmaker != nil {
		s.cleanup.RemoveFromMatchmaker()
	}
	if s.cleanup.RemoveFromGroupHistory != nil {
		s.cleanup.RemoveFromGroupHistory()
	}
	s.log.Info("session: cleanup complete", "session_id", s.ID, "reason", reason)
}

// Destroyed reports whether cleanup has run (step 7: "mark the session
// object destroyed, no reuse").
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleaned
}
