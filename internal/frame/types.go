// Package frame defines strong-typed wrappers for the identifiers the sync
// core passes around, so a bulk rename of "index" or "id" elsewhere in the
// tree can never silently collide these unrelated integers and strings.
package frame

import "fmt"

// Number is a monotonically increasing, non-negative frame index within an
// episode. It resets to 0 at session start and at each episode boundary.
type Number uint32

// Less reports whether f occurs strictly before g.
func (f Number) Less(g Number) bool { return f < g }

func (f Number) String() string { return fmt.Sprintf("frame:%d", uint32(f)) }

// ParticipantIndex is the in-game player slot assigned to a participant for
// the lifetime of a session (distinct from the participant's stable
// identifier, which survives across sessions).
type ParticipantIndex uint16

func (p ParticipantIndex) String() string { return fmt.Sprintf("p%d", uint16(p)) }

// ParticipantID is a participant's stable identifier across sessions.
type ParticipantID string

// SessionID uniquely identifies one session for its lifetime. Sessions are
// never reused after they end.
type SessionID string

// Action is an opaque but bit-comparable input value, typically a small
// integer (button mask, discrete action index). Two actions are equal iff
// their underlying bytes are equal.
type Action uint64
