// Package matchmaker groups waitroom candidates into sessions via a
// pluggable Strategy, mirroring the teacher's pluggable-backend shape
// (config-selected implementation behind a narrow interface) from
// internal/interfaces.
package matchmaker

import (
	"time"
)

// MatchCandidate is one participant waiting to be matched (spec.md §3).
type MatchCandidate struct {
	ParticipantID     string
	EnqueueTimestamp  time.Time
	ServerRTT         *time.Duration // nil when unmeasured
	CustomAttributes  map[string]string
}

// Strategy groups candidates into matches. Implementations never mutate
// the input slice; Matched+Remaining always partition it exactly.
type Strategy interface {
	FindMatch(candidates []MatchCandidate) (matched, remaining []MatchCandidate)
}

// Config is the matchmaker configuration surface named in spec.md §6.
type Config struct {
	RequiredPlayers  int
	MaxServerRTTms   *int64 // nil disables the latency-aware filter
	MaxP2PRTTms      *int64
	ProbePings       int
	ProbeIntervalMs  int64
	WaitroomTimeoutMs int64
}
