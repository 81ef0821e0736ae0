// Package session implements the Session Lifecycle and Participant State
// Tracker: single-direction state machines plus an idempotent, ordered
// cleanup discipline, grounded on the teacher's relay.SessionManager
// registry shape and Server.GracefulShutdown's notify-then-close-then-
// shutdown ordering.
package session

import (
	"fmt"
	"log/slog"
)

// SessionState is the session lifecycle per spec.md §4.11.
type SessionState int

const (
	SessionWaiting SessionState = iota
	SessionMatched
	SessionValidating
	SessionPlaying
	SessionEnded
)

func (s SessionState) String() string {
	switch s {
	case SessionWaiting:
		return "WAITING"
	case SessionMatched:
		return "MATCHED"
	case SessionValidating:
		return "VALIDATING"
	case SessionPlaying:
		return "PLAYING"
	case SessionEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// sessionTransitions enumerates the single-direction edges. Anything not
// listed is invalid.
var sessionTransitions = map[SessionState]SessionState{
	SessionWaiting:    SessionMatched,
	SessionMatched:    SessionValidating,
	SessionValidating: SessionPlaying,
	SessionPlaying:    SessionEnded,
}

// ParticipantState is the per-participant lifecycle per spec.md §4.11.
type ParticipantState int

const (
	ParticipantIdle ParticipantState = iota
	ParticipantInWaitroom
	ParticipantValidatingP2P
	ParticipantInGame
	ParticipantGameEnded
)

func (p ParticipantState) String() string {
	switch p {
	case ParticipantIdle:
		return "IDLE"
	case ParticipantInWaitroom:
		return "IN_WAITROOM"
	case ParticipantValidatingP2P:
		return "VALIDATING_P2P"
	case ParticipantInGame:
		return "IN_GAME"
	case ParticipantGameEnded:
		return "GAME_ENDED"
	default:
		return "UNKNOWN"
	}
}

var participantTransitions = map[ParticipantState]ParticipantState{
	ParticipantIdle:          ParticipantInWaitroom,
	ParticipantInWaitroom:    ParticipantValidatingP2P,
	ParticipantValidatingP2P: ParticipantInGame,
	ParticipantInGame:        ParticipantGameEnded,
	ParticipantGameEnded:     ParticipantIdle,
}

// validSessionTransition reports whether from→to is on the single-direction
// path.
func validSessionTransition(from, to SessionState) bool {
	return sessionTransitions[from] == to
}

func validParticipantTransition(from, to ParticipantState) bool {
	return participantTransitions[from] == to
}

// logInvalidTransition is the shared "log and drop, never raise" policy
// for both state machines.
func logInvalidTransition(log *slog.Logger, kind string, from, to fmt.Stringer) {
	if log == nil {
		log = slog.Default()
	}
	log.Warn("session: dropped invalid state transition", "kind", kind, "from", from.String(), "to", to.String())
}
