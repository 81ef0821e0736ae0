// Package signaling implements the WebSocket client for the signaling
// relay: session/participant assignment, WebRTC SDP/ICE relay, the
// player_action/frame_digest fallback path used while the P2P channel is
// down, and the probe lifecycle used by the Probe Coordinator. Shape
// grounded on the teacher's ws.Client (envelope dispatch, reconnect loop
// with exponential backoff, heartbeat goroutine).
package signaling

// Message types exchanged with the signaling relay (spec.md §6). Names are
// illustrative per the spec; contracts (fields) are what matter.
const (
	TypeJoinGame            = "join_game"
	TypePlayerAssigned      = "player_assigned"
	TypeWebRTCSignal        = "webrtc_signal"
	TypePlayerAction        = "player_action"
	TypeFrameDigest         = "frame_digest"
	TypePartnerDisconnected = "partner_disconnected"
	TypeEndGame             = "end_game"
	TypeProbePrepare        = "probe_prepare"
	TypeProbeReady          = "probe_ready"
	TypeProbeStart          = "probe_start"
	TypeProbeResult         = "probe_result"
)

// Envelope carries just the discriminant; every message is decoded twice
// (once as Envelope, once as its concrete type), matching ws.Envelope.
type Envelope struct {
	Type string `json:"type"`
}

// JoinGame is sent by a client to enter matchmaking for a scene.
type JoinGame struct {
	Type          string `json:"type"`
	Scene         string `json:"scene"`
	ParticipantID string `json:"participant_id"`
}

// PlayerAssigned tells a client its index, session, and the episode seed.
// Token is a short-lived JWT over (sessionId, participantId, playerIndex)
// issued by the authority; authtoken.Validate can check it, but neither
// the authority nor this client calls Validate.
type PlayerAssigned struct {
	Type        string `json:"type"`
	PlayerIndex uint16 `json:"player_index"`
	SessionID   string `json:"session_id"`
	Seed        uint32 `json:"seed"`
	Token       string `json:"token,omitempty"`
}

// WebRTCSignal relays an opaque SDP offer/answer or ICE candidate between
// two participants of the same session.
type WebRTCSignal struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	TargetIndex uint16 `json:"target_index"`
	Kind        string `json:"kind"` // "offer" | "answer" | "ice"
	SDP         string `json:"sdp,omitempty"`
	Candidate   string `json:"candidate,omitempty"`
}

// PlayerAction is the signaling-relay fallback path for input delivery
// while the P2P channel is down.
type PlayerAction struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Index     uint16 `json:"index"`
	Action    int64  `json:"action"`
	Frame     uint32 `json:"frame"`
}

// FrameDigestMsg is the signaling-relay fallback path for hash exchange.
type FrameDigestMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Index     uint16 `json:"index"`
	Frame     uint32 `json:"frame"`
	Digest    []byte `json:"digest"`
}

// PartnerDisconnected notifies a client that the other participant in its
// session has disconnected.
type PartnerDisconnected struct {
	Type               string `json:"type"`
	SessionID          string `json:"session_id"`
	DisconnectedIndex  uint16 `json:"disconnected_index"`
}

// EndGame terminates a session, in either direction.
type EndGame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// ProbePrepare begins the Probe Coordinator's two-phase lifecycle for a
// proposed match.
type ProbePrepare struct {
	Type       string   `json:"type"`
	ProbeID    string   `json:"probe_id"`
	Candidates []string `json:"candidates"`
}

// ProbeReady is sent by a client once it has set up its probe-side peer
// connection and is ready for pings to start.
type ProbeReady struct {
	Type    string `json:"type"`
	ProbeID string `json:"probe_id"`
}

// ProbeStart tells all ready clients to begin exchanging probe pings.
type ProbeStart struct {
	Type    string `json:"type"`
	ProbeID string `json:"probe_id"`
}

// ProbeResult carries the measured RTT (nil/absent on timeout — the Probe
// Coordinator treats a missing RTT as a probe failure per spec.md §4.8).
type ProbeResult struct {
	Type      string `json:"type"`
	ProbeID   string `json:"probe_id"`
	RTTMillis *int64 `json:"rtt_millis"`
}
